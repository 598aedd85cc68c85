package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/internal/services/pipeline"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

const maxErrorWidth = 60

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger entries and counts",
	Long: `Print the ledger as a table followed by per-status counts. The ledger
is opened read-only, so this works while a run is in progress.

Example:
  harvester status
  harvester status --status failed`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("status", "", "only show entries with this status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	filter, _ := cmd.Flags().GetString("status")
	status := models.Status(strings.ToLower(strings.TrimSpace(filter)))
	if status != "" && !status.Valid() {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown status %q", filter)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := ledger.Open(ledgerOptions(cfg, true))
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	var entries []models.LedgerEntry
	if status == "" {
		entries, err = svc.List(ctx)
	} else {
		entries, err = svc.ListByStatus(ctx, status)
	}
	if err != nil {
		return apperrors.LedgerError("list", err)
	}

	counts, err := svc.Summary(ctx)
	if err != nil {
		return apperrors.LedgerError("summary", err)
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	if len(entries) == 0 {
		fmt.Fprintln(out, "No ledger entries.")
	} else {
		fmt.Fprintln(out, renderEntries(entries, colorize))
	}
	fmt.Fprintln(out, renderCounts(counts, colorize))
	return nil
}

func renderEntries(entries []models.LedgerEntry, colorize bool) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Identity,
			statusLabel(e.Status, colorize),
			strconv.Itoa(e.Attempts),
			e.MP3File,
			formatTime(e.UpdatedAt),
			truncate(e.Error, maxErrorWidth),
		})
	}
	return renderTable(
		[]string{"Identity", "Status", "Attempts", "File", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
}

func renderCounts(counts ledger.Counts, colorize bool) string {
	rows := make([][]string, 0, len(models.AllStatuses)+1)
	for _, status := range models.AllStatuses {
		rows = append(rows, []string{statusLabel(status, colorize), strconv.Itoa(counts[status])})
	}
	rows = append(rows, []string{"total", strconv.Itoa(counts.Total())})
	return renderTable([]string{"Status", "Entries"}, rows, []columnAlignment{alignLeft, alignRight})
}

func printSummary(cmd *cobra.Command, s pipeline.Summary) {
	rows := [][]string{
		{"downloaded", strconv.Itoa(s.Completed)},
		{"already on disk", strconv.Itoa(s.Existing)},
		{"failed", strconv.Itoa(s.Failed)},
		{"interrupted", strconv.Itoa(s.Skipped)},
		{"invalid rows", strconv.Itoa(s.Invalid)},
		{"duplicates", strconv.Itoa(s.Duplicates)},
		{"total", strconv.Itoa(s.Total)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Outcome", "Rows"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
