package commands

import (
	"context"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/store"
	"github.com/opraflow/opraflow/validate"
)

// ValidateCmd runs the post-run reconciliation audit.
var ValidateCmd = &cobra.Command{
	Use:   "validate <archive.zip>",
	Short: "Cross-check S3, the ledger, and the archive manifest",
	Long: `Independently verify the uploaded dataset after a pipeline run.

Reconciles three sources of truth: the remote object listing, the ledger's
completed records, and the archive's embedded manifest. Exits non-zero if
any check fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Source.ZipPath = args[0]
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.S3.Bucket == "" {
			return errors.New("s3.bucket not set (config or OPRAFLOW_S3_BUCKET)")
		}
		if _, err := os.Stat(cfg.Pipeline.LedgerPath); err != nil {
			return errors.Newf("ledger not found: %s", cfg.Pipeline.LedgerPath)
		}

		expected, _ := cmd.Flags().GetInt("expected")

		ctx := context.Background()
		s3Store, err := store.NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Region)
		if err != nil {
			return err
		}

		pterm.Info.Printf("Validating s3://%s/%s against %s\n",
			cfg.S3.Bucket, cfg.S3.Prefix, cfg.Pipeline.LedgerPath)
		pterm.Println()

		report, err := validate.Audit(ctx, validate.Params{
			Store:         s3Store,
			LedgerPath:    cfg.Pipeline.LedgerPath,
			ZipPath:       cfg.Source.ZipPath,
			Prefix:        cfg.S3.Prefix,
			ExpectedCount: expected,
		})
		if err != nil {
			return err
		}

		printReport(report)

		return report.Require()
	},
}

func init() {
	ValidateCmd.Flags().Int("expected", 0, "Expected remote object count (0 = at least one)")
	ValidateCmd.Flags().String("config", "", "Path to opraflow.toml")
}

func printReport(report *validate.Report) {
	for _, check := range report.Checks {
		if check.Passed {
			pterm.Success.Printf("%s: %s\n", check.Name, check.Detail)
		} else {
			pterm.Error.Printf("%s: %s\n", check.Name, check.Detail)
		}
	}

	pterm.Println()
	if report.Passed() {
		pterm.Success.Println("Validation result: PASS")
	} else {
		pterm.Error.Println("Validation result: FAIL")
	}
}
