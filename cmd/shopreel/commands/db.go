package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage ShopReel database",
	Long: sym.DB + ` db — Manage ShopReel database operations

Manage database operations including statistics and model usage telemetry.

Examples:
  shopreel db stats                # Show job counts and model usage
  shopreel db stats --hours 24     # Usage window of the last 24 hours
  shopreel db migrate              # Apply pending schema migrations`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics and model usage telemetry",
	Long:  "Display reel job counts by status, budget state, and AI model usage over the selected window",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Open the configured database and apply any schema migrations it is missing",
	RunE:  runDbMigrate,
}

var statsHoursFlag int

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
	dbStatsCmd.Flags().IntVar(&statsHoursFlag, "hours", 168, "Usage window in hours")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	queue := pipeline.NewQueue(database)
	stats, err := queue.GetStats()
	if err != nil {
		return errors.Wrap(err, "failed to query job stats")
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)

	fmt.Printf("Reel Jobs:\n")
	printStatusCount("pending", stats.Pending)
	printStatusCount("analyzing_subject", stats.AnalyzingSubject)
	printStatusCount("editing_image", stats.EditingImage)
	printStatusCount("optimizing_image", stats.OptimizingImage)
	printStatusCount("writing_script", stats.WritingScript)
	printStatusCount("synthesizing_video", stats.SynthesizingVideo)
	printStatusCount("completed", stats.Completed)
	printStatusCount("failed", stats.Failed)
	fmt.Printf("  %-2s %-20s %d\n", "", "total", stats.Total)
	fmt.Println()

	fmt.Printf("Budget Limits:\n")
	fmt.Printf("  Daily:   $%.2f\n", cfg.Pipeline.DailyBudgetUSD)
	fmt.Printf("  Weekly:  $%.2f\n", cfg.Pipeline.WeeklyBudgetUSD)
	fmt.Printf("  Monthly: $%.2f\n", cfg.Pipeline.MonthlyBudgetUSD)
	fmt.Println()

	since := time.Now().Add(-time.Duration(statsHoursFlag) * time.Hour)
	usage, err := tracker.NewUsageTracker(database, verbosity).GetUsageStats(since)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query model usage")
	}
	if usage != nil {
		fmt.Printf("Model Usage (last %dh):\n", statsHoursFlag)
		fmt.Printf("  Requests:     %d (%.0f%% success)\n", usage.TotalRequests, usage.SuccessRate*100)
		fmt.Printf("  Tokens:       %d\n", usage.TotalTokens)
		fmt.Printf("  Cost:         $%.4f\n", usage.TotalCost)
		fmt.Printf("  Models used:  %d\n", usage.UniqueModels)
	}

	return nil
}

func printStatusCount(status string, count int) {
	fmt.Printf("  %-2s %-20s %d\n", sym.StatusGlyph(status), status, count)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as part of opening.
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "migration failed")
	}
	defer database.Close()

	fmt.Printf("%s Schema is up to date (%s)\n", sym.DB, resolveDatabasePath(""))
	return nil
}
