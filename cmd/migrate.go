package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/pkg/config"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the ledger into another backend",
	Long: `Copy every entry of the configured ledger into a new ledger, for
example to move a CSV ledger into SQLite. Attempts and timestamps are kept.
Point ledger.backend and ledger.path at the new ledger afterwards.

Example:
  harvester migrate --to-backend sqlite --to-path ./ledger.db
  harvester migrate --to-backend csv --to-path ./export.csv --dry-run`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("to-backend", config.BackendSQLite, "destination backend (csv or sqlite)")
	migrateCmd.Flags().String("to-path", "", "destination ledger path")
	migrateCmd.Flags().Bool("dry-run", false, "count entries without writing")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	backend, _ := cmd.Flags().GetString("to-backend")
	path, _ := cmd.Flags().GetString("to-path")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if path == "" {
		return apperrors.MissingFieldError("to-path")
	}
	if backend != config.BackendCSV && backend != config.BackendSQLite {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid backend %q", backend)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	to := ledger.Options{Backend: backend, Path: path, Verbose: cfg.Ledger.Verbose}
	n, err := ledger.Migrate(cmd.Context(), ledgerOptions(cfg, true), to, dryRun)
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would copy %d entries to %s (%s)\n", n, path, backend)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Copied %d entries to %s (%s)\n", n, path, backend)
	return nil
}
