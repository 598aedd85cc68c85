package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/internal/catalog"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest every episode in the catalog",
	Long: `Process every catalog row: resolve an audio URL, download the file and
record the outcome in the ledger. Rows whose file already exists only get
their ledger metadata refreshed. Failed rows are then retried with looser
titles for up to --max-passes passes.

The command exits non-zero when entries are still failed at the end.

Example:
  harvester run --catalog episodes.csv --output ./downloads
  harvester run --workers 4 --max-retries 5 --source radio`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("catalog", "", "catalog CSV path (overrides pipeline.catalog_path)")
	runCmd.Flags().String("output", "", "download directory (overrides pipeline.output_dir)")
	runCmd.Flags().Int("workers", 0, "concurrent rows (overrides pipeline.workers)")
	runCmd.Flags().Int("max-retries", 0, "resolve attempts per row (overrides pipeline.max_attempts)")
	runCmd.Flags().String("source", "", "file name prefix (overrides pipeline.source_tag)")
	runCmd.Flags().Int("max-passes", 0, "retry passes over failed rows (overrides pipeline.max_passes)")
}

// runFlags maps run flags onto configuration keys
var runFlags = map[string]string{
	"catalog":     "pipeline.catalog_path",
	"output":      "pipeline.output_dir",
	"workers":     "pipeline.workers",
	"max-retries": "pipeline.max_attempts",
	"source":      "pipeline.source_tag",
	"max-passes":  "pipeline.max_passes",
}

func runHarvest(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, runFlags); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	refs, err := catalog.Load(cfg.Pipeline.CatalogPath)
	if err != nil {
		return err
	}

	svc, err := ledger.Open(ledgerOptions(cfg, false))
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, release := newDriver(cfg, svc)
	defer release()

	slog.Info("Starting run", "catalog", cfg.Pipeline.CatalogPath, "rows", len(refs), "workers", cfg.Pipeline.Workers)

	summary, err := driver.RunAll(ctx, refs)
	printSummary(cmd, summary)
	if err != nil {
		return err
	}

	remaining, err := driver.RetryFailed(ctx, cfg.Pipeline.MaxPasses)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Still failed after retries: %d\n", remaining)
	return failedError(remaining)
}
