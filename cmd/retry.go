package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/internal/services/ledger"
)

// retryCmd represents the retry command
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry failed ledger entries",
	Long: `Run retry passes over every failed ledger entry without reading the
catalog. Each pass tries several looser variants of the episode title.

Example:
  harvester retry
  harvester retry --max-passes 5`,
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().Int("max-passes", 0, "retry passes (overrides pipeline.max_passes)")
}

func runRetry(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{"max-passes": "pipeline.max_passes"}); err != nil {
		return err
	}
	cfg, err := loadConfig()
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

	remaining, err := driver.RetryFailed(ctx, cfg.Pipeline.MaxPasses)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Still failed: %d\n", remaining)
	return failedError(remaining)
}
