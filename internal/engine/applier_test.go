package engine_test

import (
	"encoding/json"
	"testing"

	"github.com/seantiz/augur/internal/engine"
	"github.com/seantiz/augur/internal/model"
)

func queuedItem(cost int64) *model.WorkItem {
	return &model.WorkItem{
		ID:        "task-1",
		OwnerID:   "owner-1",
		SubjectID: "series-1",
		Kind:      model.KindAnalyze,
		Cost:      cost,
		Status:    model.StatusQueued,
	}
}

func TestApplySuccess(t *testing.T) {
	for _, status := range []string{model.StatusQueued, model.StatusInProgress} {
		item := queuedItem(30)
		item.Status = status

		m, ok := engine.Apply(item, model.Outcome{Success: true, Results: json.RawMessage(`{"mean":4.2}`)})
		if !ok {
			t.Fatalf("Apply from %s yielded no mutation", status)
		}
		if m.From != status || m.To != model.StatusDone {
			t.Errorf("transition = %s -> %s, want %s -> done", m.From, m.To, status)
		}
		if m.Refund != nil {
			t.Errorf("success carries refund %+v", m.Refund)
		}
		if m.Result == nil || m.Result.SubjectID != "series-1" || m.Result.Kind != model.KindAnalyze {
			t.Errorf("result = %+v, want analyze result for series-1", m.Result)
		}
	}
}

func TestApplyFailureRefunds(t *testing.T) {
	tests := []struct {
		name    string
		outcome model.Outcome
		wantErr string
	}{
		{"reported failure", model.Outcome{Error: "too short"}, "too short"},
		{"failure without reason", model.Outcome{}, "worker reported failure"},
		{"missing results", model.Outcome{Success: true}, "malformed result payload"},
		{"null results", model.Outcome{Success: true, Results: json.RawMessage("null")}, "malformed result payload"},
		{"invalid results", model.Outcome{Success: true, Results: json.RawMessage("{oops")}, "malformed result payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := engine.Apply(queuedItem(30), tt.outcome)
			if !ok {
				t.Fatal("Apply yielded no mutation")
			}
			if m.To != model.StatusFailed {
				t.Errorf("to = %q, want failed", m.To)
			}
			if m.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", m.Error, tt.wantErr)
			}
			if m.Refund == nil || m.Refund.OwnerID != "owner-1" || m.Refund.Amount != 30 {
				t.Errorf("refund = %+v, want 30 to owner-1", m.Refund)
			}
			if m.Result != nil {
				t.Errorf("failure carries result %+v", m.Result)
			}
		})
	}
}

func TestTerminalItemsYieldNoMutation(t *testing.T) {
	for _, status := range []string{model.StatusDone, model.StatusFailed} {
		item := queuedItem(30)
		item.Status = status

		if _, ok := engine.Apply(item, model.Outcome{Success: true, Results: json.RawMessage(`1`)}); ok {
			t.Errorf("Apply on %s yielded a mutation", status)
		}
		if _, ok := engine.Fail(item, "late"); ok {
			t.Errorf("Fail on %s yielded a mutation", status)
		}
		if _, ok := engine.Start(item); ok {
			t.Errorf("Start on %s yielded a mutation", status)
		}
	}
}

func TestStartOnlyFromQueued(t *testing.T) {
	m, ok := engine.Start(queuedItem(10))
	if !ok || m.To != model.StatusInProgress {
		t.Fatalf("Start = %+v, %v; want in_progress", m, ok)
	}

	item := queuedItem(10)
	item.Status = model.StatusInProgress
	if _, ok := engine.Start(item); ok {
		t.Error("Start on in_progress yielded a mutation")
	}
}

func TestFailWithoutCostHasNoRefund(t *testing.T) {
	m, ok := engine.Fail(queuedItem(0), "boom")
	if !ok {
		t.Fatal("Fail yielded no mutation")
	}
	if m.Refund != nil {
		t.Errorf("refund = %+v, want none", m.Refund)
	}
}

func TestParseOutcome(t *testing.T) {
	out, err := engine.ParseOutcome([]byte(`{"success":true,"task_id":"t1","results":[1,2]}`))
	if err != nil {
		t.Fatalf("ParseOutcome: %v", err)
	}
	if !out.Success || out.TaskID != "t1" || string(out.Results) != "[1,2]" {
		t.Errorf("outcome = %+v", out)
	}

	for _, raw := range []string{"", "not json", "[1,2]"} {
		if _, err := engine.ParseOutcome([]byte(raw)); err == nil {
			t.Errorf("ParseOutcome(%q) succeeded, want error", raw)
		}
	}
}
