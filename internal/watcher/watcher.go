// Package watcher triggers reconciliation passes on a remote augur server at a
// fixed interval. It is the external scheduler for deployments that disable the
// in-process loop or run several API replicas.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/augur/internal/engine"
)

const maxErrorBody = 4 << 10

// Watcher posts to the reconcile endpoint of one server.
type Watcher struct {
	client   *http.Client
	endpoint string
	interval time.Duration
	logger   *slog.Logger
}

// New creates a watcher for the server at baseURL. Each trigger is bounded by timeout.
func New(baseURL string, interval, timeout time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/reconcile",
		interval: interval,
		logger:   logger,
	}
}

// Run triggers a pass immediately and then every interval until ctx is done.
// Failed triggers are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("watcher started", "endpoint", w.endpoint, "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	start := time.Now()
	sum, err := w.Trigger(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reconcile trigger failed", "error", err)
		}
		return
	}
	w.logger.Info("reconcile pass triggered",
		"processed", sum.Processed,
		"done", sum.Done,
		"failed", sum.Failed,
		"errors", sum.Errors,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Trigger runs one pass on the server and returns its summary.
func (w *Watcher) Trigger(ctx context.Context) (engine.PassSummary, error) {
	var sum engine.PassSummary

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, nil)
	if err != nil {
		return sum, fmt.Errorf("build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return sum, fmt.Errorf("post %s: %w", w.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return sum, fmt.Errorf("post %s: status %d: %s", w.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		return sum, fmt.Errorf("decode pass summary: %w", err)
	}
	return sum, nil
}
