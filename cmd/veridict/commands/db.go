package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/errors"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage Veridict database",
	Long: `db — Manage Veridict database operations

Examples:
  veridict db stats               # Show claim counts and slot statistics
  veridict db cleanup             # Remove old terminal claims
  veridict db cleanup --days 7    # Override the retention window`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display claim counts by status, slot state counts, and evidence volume",
	RunE:  runDbStats,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove terminal claims past the retention window",
	Long:  "Delete approved, rejected, and deferred claims older than the retention window, together with their slots, events, and evidence",
	RunE:  runDbCleanup,
}

var cleanupDaysFlag int

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
	dbCleanupCmd.Flags().IntVar(&cleanupDaysFlag, "days", 0, "Retention window in days (default: from configuration)")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := claim.NewStore(database)
	counts, err := store.CountsByStatus()
	if err != nil {
		return errors.Wrap(err, "failed to query claim counts")
	}

	fmt.Println("Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("Database Path:  %s\n", cfg.Database.Path)
	fmt.Println()
	fmt.Println("Claims by status:")
	for _, status := range []claim.Status{
		claim.StatusPending, claim.StatusInReview,
		claim.StatusApproved, claim.StatusRejected, claim.StatusDeferred,
	} {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}

	var slotCount, evidenceCount, outcomeCount int
	if err := database.QueryRow(`SELECT COUNT(*) FROM slots`).Scan(&slotCount); err != nil {
		return errors.Wrap(err, "failed to count slots")
	}
	if err := database.QueryRow(`SELECT COUNT(*) FROM evidence`).Scan(&evidenceCount); err != nil {
		return errors.Wrap(err, "failed to count evidence")
	}
	if err := database.QueryRow(`SELECT COUNT(*) FROM claim_outcomes`).Scan(&outcomeCount); err != nil {
		return errors.Wrap(err, "failed to count outcomes")
	}

	fmt.Println()
	fmt.Printf("Slots:     %d\n", slotCount)
	fmt.Printf("Evidence:  %d\n", evidenceCount)
	fmt.Printf("Outcomes:  %d\n", outcomeCount)

	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	days := cleanupDaysFlag
	if days <= 0 {
		days = cfg.Pipeline.RetentionDays
	}
	if days <= 0 {
		days = 30
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	store := claim.NewStore(database)
	removed, err := store.CleanupTerminal(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("Removed %d terminal claims older than %d days\n", removed, days)
	return nil
}
