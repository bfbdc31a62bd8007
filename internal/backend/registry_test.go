package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/augur/internal/backend"
)

func noop(_ context.Context, _ []byte, _ string) ([]byte, error) { return nil, nil }

func TestRegistryRegisterAndList(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("series.forecast", noop)
	reg.Register("series.analyze", noop)

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d funcs, want 2", len(list))
	}
	if list[0] != "series.analyze" || list[1] != "series.forecast" {
		t.Errorf("List() = %v, want sorted names", list)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload []byte, _ string) ([]byte, error) {
		return payload, nil
	})

	fn, err := reg.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, _ := fn(context.Background(), []byte("hi"), "t1")
	if string(out) != "hi" {
		t.Errorf("fn output = %q, want hi", out)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := backend.NewRegistry()
	if _, err := reg.Resolve("missing"); !errors.Is(err, backend.ErrUnknownFunc) {
		t.Errorf("Resolve error = %v, want ErrUnknownFunc", err)
	}
}

func TestJobStateTerminal(t *testing.T) {
	tests := []struct {
		state backend.JobState
		want  bool
	}{
		{backend.StateQueued, false},
		{backend.StateStarted, false},
		{backend.StateFinished, true},
		{backend.StateFailed, true},
		{backend.StateDeferred, true},
		{backend.StateCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
