package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	expected := []string{
		"augur_backend_jobs_total",
		"augur_backend_queue_depth",
	}

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestJobsTotalCountsStates(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func(context.Context, []byte, string) ([]byte, error) { return []byte("done"), nil })
	m := NewMemory(reg, MemoryConfig{Workers: 1}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Close(ctx)
	}()

	queuedBefore := counterValue(t, "augur_backend_jobs_total", "state", string(StateQueued))
	finishedBefore := counterValue(t, "augur_backend_jobs_total", "state", string(StateFinished))

	h, err := m.Enqueue(context.Background(), EnqueueRequest{Func: "ok", CorrelationID: "task-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Fetch(context.Background(), h.ID)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if job.State == StateFinished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := counterValue(t, "augur_backend_jobs_total", "state", string(StateQueued)) - queuedBefore; got != 1 {
		t.Errorf("queued delta = %v, want 1", got)
	}
	if got := counterValue(t, "augur_backend_jobs_total", "state", string(StateFinished)) - finishedBefore; got != 1 {
		t.Errorf("finished delta = %v, want 1", got)
	}
	if got := histogramCount(t, "augur_backend_job_seconds", "func", "ok"); got == 0 {
		t.Error("job duration has no observations for func ok")
	}
}

func TestQueueDepthGauge(t *testing.T) {
	before := gaugeValue(t, "augur_backend_queue_depth")
	queueDepth.Inc()
	queueDepth.Inc()
	queueDepth.Dec()

	if got := gaugeValue(t, "augur_backend_queue_depth") - before; got != 1 {
		t.Errorf("queue depth delta = %v, want 1", got)
	}
	queueDepth.Dec()
}

func findMetric(t *testing.T, name, label, value string) *dto.Metric {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if label == "" {
				return m
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m
				}
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	m := findMetric(t, name, label, value)
	if m == nil {
		t.Fatalf("counter %q{%s=%q} not found", name, label, value)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	m := findMetric(t, name, "", "")
	if m == nil || m.GetGauge() == nil {
		t.Fatalf("gauge %q not found", name)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, name, label, value string) uint64 {
	t.Helper()
	m := findMetric(t, name, label, value)
	if m == nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}
