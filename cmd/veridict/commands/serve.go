package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/evidence"
	"github.com/veridict/veridict/logger"
	"github.com/veridict/veridict/pipeline"
	"github.com/veridict/veridict/server"
	"github.com/veridict/veridict/slot"
)

// ServeCmd starts the Veridict pipeline server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Veridict pipeline server",
	Long: `Launch the pipeline server: HTTP API for claim intake, worker slots,
and evidence submission, plus a WebSocket feed of claim transitions. The
evaluation loop, heartbeat monitor, and terminal-claim cleanup run in the
background until interrupted.`,
	RunE: runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = logger.VerbosityInfo
	}
	logger.SetLevel(logger.VerbosityToLevel(verbosity))

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	port := servePort
	if port == 0 {
		if cfg.Server.Port != nil {
			port = *cfg.Server.Port
		} else {
			port = am.DefaultServerPort
		}
	}

	database, err := openDatabase(serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	log := logger.Logger

	store := claim.NewStore(database)
	registry := slot.NewRegistry(database, cfg.Stages)
	collector := evidence.NewCollector(database, registry, cfg.Monitor.EvidenceGrace())
	machine := pipeline.NewMachine(store, registry, collector, cfg.Stages,
		cfg.Pipeline.GlobalDeadline(), log)
	coordinator := pipeline.NewCoordinator(store, registry, collector, machine, log)
	monitor := slot.NewMonitor(registry, slot.MonitorConfig{
		SweepInterval: time.Duration(cfg.Monitor.SweepIntervalSeconds) * time.Second,
	}, log)
	ticker := pipeline.NewTicker(coordinator,
		time.Duration(cfg.Pipeline.TickIntervalSeconds)*time.Second, log)

	srv := server.New(database, coordinator, registry, collector, monitor, ticker, cfg, log)

	// Stage definitions are pinned for the run; rate limit tuning applies
	// on the next config write.
	watcher, err := am.NewConfigWatcher(am.ConfigFilePath(), cfg)
	if err != nil {
		log.Warnw("Config watcher unavailable", "error", err)
	} else {
		watcher.OnReload(srv.ApplyConfig)
		watcher.Start()
		defer watcher.Stop()
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go runRetentionLoop(cleanupCtx, store, cfg)

	printStartupBanner(verbosity, cfg, port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runRetentionLoop removes terminal claims past the retention window once a
// day until the context ends.
func runRetentionLoop(ctx context.Context, store *claim.Store, cfg *am.Config) {
	days := cfg.Pipeline.RetentionDays
	if days <= 0 {
		days = 30
	}
	retention := time.Duration(days) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupTerminal(retention)
			if err != nil {
				logger.Logger.Warnw("Retention cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Logger.Infow("Retention cleanup", "removed", removed, "retention_days", days)
			}
		}
	}
}
