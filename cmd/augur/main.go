// Command augur serves the time-series work API and, unless disabled, runs the
// reconciliation loop in-process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/augur/internal/api"
	"github.com/seantiz/augur/internal/backend"
	"github.com/seantiz/augur/internal/config"
	"github.com/seantiz/augur/internal/engine"
	"github.com/seantiz/augur/internal/series"
	"github.com/seantiz/augur/internal/store"
)

const (
	backendDrainTimeout = 30 * time.Second
	settleTimeout       = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("augur: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"reconcile_interval", cfg.ReconcileInterval.String(),
		"orphan_grace", cfg.OrphanGrace.String(),
		"workers", cfg.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	funcs := backend.NewRegistry()
	series.Register(funcs)
	mem := backend.NewMemory(funcs, backend.MemoryConfig{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
	}, logger)

	eng := engine.NewEngine(db, mem, logger, engine.WithOrphanGrace(cfg.OrphanGrace))

	// Settle work a previous run left in flight; its backend jobs are gone.
	if sum, err := eng.RunPass(ctx); err != nil {
		logger.Error("startup reconciliation pass failed", "error", err)
	} else if sum.Recovered > 0 {
		logger.Warn("recovered work items from a previous run", "recovered", sum.Recovered)
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, funcs, api.Prices{
		Analyze:  cfg.AnalyzeCost,
		Forecast: cfg.ForecastCost,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.ReconcileInterval > 0 {
		g.Go(func() error {
			eng.Run(gctx, cfg.ReconcileInterval)
			return nil
		})
	} else {
		logger.Info("in-process reconciliation disabled; passes run via POST /v1/reconcile")
	}

	runErr := g.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), backendDrainTimeout)
	defer cancelDrain()
	if err := mem.Close(drainCtx); err != nil {
		logger.Warn("backend did not drain cleanly", "error", err)
	}

	// Settle what the workers finished during shutdown so their charges are
	// resolved before exit. Jobs still queued were canceled and interrupted
	// jobs failed; both get refunded. The drain may have used up its context.
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), settleTimeout)
	defer cancelSettle()
	if _, err := eng.RunPass(settleCtx); err != nil {
		logger.Error("final reconciliation pass failed", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
	logger.Info("augur: stopped")
}
