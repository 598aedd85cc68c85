package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/pkg/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Podcast episode audio harvester",
	Long: `Episode Harvester - resolve and download podcast episode audio from a catalog

Each catalog row names a podcast episode and a page link. The harvester finds
a playable audio URL for it, downloads the file under a deterministic name and
records the outcome in a resumable ledger.

Features:
  • Audio and metadata extraction from episode pages and feeds
  • Episode search fallback with relaxed queries
  • Resumable CSV or SQLite ledger with retry passes
  • Read-only status API over the ledger`,
	SilenceUsage:      true,
	PersistentPreRunE: initCommand,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd returns the root command (exported for testing)
func NewRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides logging.level")
	rootCmd.PersistentFlags().Bool("json-logs", false, "enable JSON formatted logs")
}

// initCommand loads configuration and sets up logging before a subcommand runs
func initCommand(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	// version and help work without a config
	if cmd.Name() == "version" || cmd.Name() == "help" {
		setupLogging(cmd.ErrOrStderr(), level, jsonLogs)
		return nil
	}

	if err := config.Init(); err != nil {
		return fmt.Errorf("error initializing config: %w", err)
	}
	if level == "" {
		level = config.GetString("logging.level")
	}
	if !jsonLogs {
		jsonLogs = config.GetString("logging.format") == "json"
	}
	setupLogging(cmd.ErrOrStderr(), level, jsonLogs)
	return nil
}
