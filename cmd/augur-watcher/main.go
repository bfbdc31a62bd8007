// Command augur-watcher periodically triggers reconciliation passes on an
// augur server through POST /v1/reconcile.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/augur/internal/config"
	"github.com/seantiz/augur/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher.New(cfg.APIURL, cfg.WatchInterval, cfg.WatchTimeout, logger).Run(ctx)
}
