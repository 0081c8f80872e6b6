package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opraflow/opraflow/cmd/opraflow/commands"
	"github.com/opraflow/opraflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "opraflow",
	Short: "opraflow - resumable options-data upload pipeline",
	Long: `opraflow converts daily options market-data archives (.dbn.zst)
to Parquet and uploads them to S3, resumably and crash-safely.

Every item outcome is recorded in an atomically-updated ledger, so a run
killed at any instant resumes from the exact point of failure without
duplicating completed work. Failed items are retried automatically on the
next invocation.

Available commands:
  run      - Run the pipeline (extract, convert, upload)
  validate - Cross-check S3, the ledger, and the archive manifest
  version  - Show version information

Examples:
  opraflow run data/raw/OPRA-20250801.zip --dry-run
  opraflow run data/raw/OPRA-20250801.zip
  opraflow run data/raw/OPRA-20250801.zip --dates 2025-08-07,2025-08-08
  opraflow validate data/raw/OPRA-20250801.zip --expected 21`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetVerbosity(verbosity)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// os.Exit skips deferred calls, so the log flush happens explicitly
	// on both paths.
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
