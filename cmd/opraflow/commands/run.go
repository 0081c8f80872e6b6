package commands

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/opraflow/opraflow/archive"
	"github.com/opraflow/opraflow/config"
	"github.com/opraflow/opraflow/convert"
	"github.com/opraflow/opraflow/pipeline"
	"github.com/opraflow/opraflow/shutdown"
	"github.com/opraflow/opraflow/store"
	"github.com/opraflow/opraflow/transfer"
)

// RunCmd runs the pipeline.
var RunCmd = &cobra.Command{
	Use:   "run <archive.zip>",
	Short: "Run the extract-convert-upload pipeline",
	Long: `Run the pipeline over every daily file in the archive.

Completed items recorded in the ledger are skipped, so re-running the same
command after an interruption resumes where the previous run stopped.
Failed items are always retried on the next invocation.`,
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

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noResume, _ := cmd.Flags().GetBool("no-resume")
		noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
		dates, _ := cmd.Flags().GetString("dates")

		opts := pipeline.Options{
			DryRun:     dryRun,
			Resume:     !noResume,
			DateFilter: parseDates(dates),
			NoCleanup:  noCleanup,
		}

		ctx := context.Background()

		var objStore store.ObjectStore
		var uploader pipeline.UploadExecutor
		if !dryRun {
			s3Store, err := store.NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Region)
			if err != nil {
				return err
			}
			objStore = s3Store
			uploader = transfer.NewUploader(s3Store)
		}

		handler := shutdown.New()
		handler.Install()
		defer handler.Uninstall()

		driver := pipeline.New(
			cfg,
			archive.NewZipSource(cfg.Source.ZipPath),
			convert.NewExecConverter(cfg.Pipeline.ConverterBin),
			uploader,
			objStore,
			handler,
			pipelineLogger(),
		)

		printRunBanner(cfg, opts)

		stats, err := driver.Run(ctx, opts)
		if err != nil {
			return err
		}

		printRunSummary(stats)
		return nil
	},
}

func init() {
	RunCmd.Flags().Bool("dry-run", false, "Convert locally but make no network calls")
	RunCmd.Flags().Bool("no-resume", false, "Start fresh, ignore previous ledger state")
	RunCmd.Flags().Bool("no-cleanup", false, "Keep intermediate files (for debugging)")
	RunCmd.Flags().String("dates", "", "Process only these dates (comma-separated YYYY-MM-DD)")
	RunCmd.Flags().String("config", "", "Path to opraflow.toml")
}

// loadConfig resolves configuration from an explicit file or the standard
// search (defaults, project opraflow.toml, OPRAFLOW_* env).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// parseDates parses a comma-separated date filter.
func parseDates(s string) map[string]bool {
	if s == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			filter[d] = true
		}
	}
	return filter
}

func printRunBanner(cfg *config.Config, opts pipeline.Options) {
	mode := "UPLOAD"
	if opts.DryRun {
		mode = "DRY RUN"
	}
	pterm.DefaultHeader.WithFullWidth().Printf("opraflow [%s]", mode)
	pterm.Println()
	pterm.Info.Printf("Archive: %s\n", cfg.Source.ZipPath)
	if !opts.DryRun {
		pterm.Info.Printf("Target:  s3://%s/%s/\n", cfg.S3.Bucket, cfg.S3.Prefix)
	}
	pterm.Println()
}

func printRunSummary(stats *pipeline.Stats) {
	pterm.Println()
	if stats.Preflight != nil {
		pterm.Info.Printf("Archive OK: %d daily files, %.2f GB free\n",
			stats.Preflight.TotalItems, stats.Preflight.FreeGB)
		if stats.Preflight.PreviouslyCompleted > 0 {
			pterm.Info.Printf("Resumed: %d already done, %d remaining\n",
				stats.Preflight.PreviouslyCompleted, stats.Preflight.Remaining)
		}
		if stats.Preflight.StaleDirsCleaned > 0 {
			pterm.Info.Printf("Cleaned %d stale working directories\n",
				stats.Preflight.StaleDirsCleaned)
		}
	}

	if stats.Stopped {
		pterm.Warning.Printf("Stopped early: %d items remaining\n", stats.RemainingOnStop)
	}

	pterm.Success.Println("Pipeline finished")
	pterm.Printf("  Completed: %d/%d\n", stats.Ledger.Completed, stats.TotalItems)
	pterm.Printf("  Failed:    %d\n", stats.Ledger.Failed)
	pterm.Printf("  This run:  %d processed, %d failed\n",
		stats.ProcessedThisRun, stats.FailedThisRun)
	if stats.Ledger.Failed > 0 {
		pterm.Println()
		pterm.Info.Println("Re-run the same command to retry failed items.")
	}
}
