package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/logger"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/pipeline/budget"
	"github.com/teranos/shopreel/server"
	"github.com/teranos/shopreel/sym"
)

// ServeCmd starts the ShopReel daemon: the worker pool that drives reel
// jobs plus the HTTP/WebSocket API.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   sym.Reel + " Start the ShopReel daemon (workers + API)",
	Long: sym.Reel + ` Start the ShopReel daemon in foreground mode.

The daemon will:
- Start the worker pool that claims and runs pending reel jobs
- Recover jobs orphaned by a previous crash
- Enforce budget limits before paid generation calls
- Serve the JSON API and WebSocket push channel
- Run until interrupted (Ctrl+C) with graceful shutdown

Example:
  shopreel serve               # API on :8787, one worker
  shopreel serve --workers 3   # Three concurrent workers
  shopreel serve --port 9090   # Custom API port`,
	RunE: runServe,
}

var (
	serveWorkers int
	servePort    int
	serveDBPath  string
)

func init() {
	ServeCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Number of concurrent workers (0 = from config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "API port (0 = from config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

// setupConfigWatcher watches the active config file so `shopreel am set`
// takes effect in a running daemon. Only the budget limits are applied
// live; everything else needs a restart. Returns nil when no config file
// is in use.
func setupConfigWatcher(budgetTracker *budget.Tracker) *am.ConfigWatcher {
	configPath := am.GetViper().ConfigFileUsed()
	if configPath == "" {
		logger.Logger.Infow("No config file found, using defaults (config watching disabled)")
		return nil
	}

	watcher, err := am.NewConfigWatcher(configPath)
	if err != nil {
		logger.Logger.Warnw("Failed to create config watcher, manual restart required for config changes",
			"error", err)
		return nil
	}

	// Watching ~/.shopreel catches the overrides file being created for
	// the first time.
	if err := watcher.WatchUserDir(); err != nil {
		logger.Logger.Debugw("Not watching user config directory", "error", err)
	}

	am.SetGlobalWatcher(watcher)

	watcher.OnReload(func(newCfg *am.Config) error {
		logger.Logger.Infow("Config reloaded, updating budget limits",
			"daily_budget", newCfg.Pipeline.DailyBudgetUSD,
			"monthly_budget", newCfg.Pipeline.MonthlyBudgetUSD)

		if err := budgetTracker.UpdateDailyBudget(newCfg.Pipeline.DailyBudgetUSD); err != nil {
			return err
		}
		return budgetTracker.UpdateMonthlyBudget(newCfg.Pipeline.MonthlyBudgetUSD)
	})

	watcher.Start()
	return watcher
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()
	dbPath := resolveDatabasePath(serveDBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collab, err := buildCollaborators(ctx, cfg, database, verbosity)
	if err != nil {
		return err
	}

	queue := pipeline.NewQueue(database)
	orchestrator := pipeline.NewOrchestrator(queue, collab, orchestratorConfigFromAm(cfg), logger.Logger)

	budgetTracker := budget.NewTracker(database, budget.BudgetConfig{
		DailyBudgetUSD:   cfg.Pipeline.DailyBudgetUSD,
		WeeklyBudgetUSD:  cfg.Pipeline.WeeklyBudgetUSD,
		MonthlyBudgetUSD: cfg.Pipeline.MonthlyBudgetUSD,
		TaskCostUSD:      cfg.Synth.TaskCostUSD,
	})
	usageTracker := tracker.NewUsageTracker(database, verbosity)

	workers := serveWorkers
	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}
	poolCfg := pipeline.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	poolCfg.RetentionDays = cfg.Pipeline.RetentionDays
	poolCfg.MaxTasksPerJob = 1 + cfg.Pipeline.MaxRemediationRounds
	if cfg.Pipeline.TickerIntervalSeconds > 0 {
		poolCfg.TickInterval = time.Duration(cfg.Pipeline.TickerIntervalSeconds) * time.Second
	}

	pool := pipeline.NewWorkerPool(ctx, queue, orchestrator, budgetTracker, poolCfg, logger.Logger)
	pool.Start()

	port := servePort
	if port <= 0 {
		port = cfg.GetServerPort()
	}
	port, err = server.FindAvailablePort(port)
	if err != nil {
		pool.Stop()
		return errors.Wrap(err, "no port available for the API")
	}

	printStartupBanner(verbosity, dbPath)
	fmt.Printf("%s ShopReel daemon started\n", sym.Reel)
	fmt.Printf("  API:            http://localhost:%d\n", port)
	fmt.Printf("  Workers:        %d\n", workers)
	fmt.Printf("  Poll interval:  %ds\n", cfg.Pipeline.PollIntervalSeconds)
	fmt.Printf("  Daily budget:   $%.2f\n", cfg.Pipeline.DailyBudgetUSD)
	fmt.Printf("  Monthly budget: $%.2f\n", cfg.Pipeline.MonthlyBudgetUSD)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Reel)

	srv := server.NewServer(database, cfg, queue, pool, budgetTracker, usageTracker, logger.Logger)

	configWatcher := setupConfigWatcher(budgetTracker)
	if configWatcher != nil {
		defer configWatcher.Stop()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		pool.Stop()
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			serverErr := srv.Shutdown()
			pool.Stop()
			shutdownDone <- serverErr
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("ShopReel daemon stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
