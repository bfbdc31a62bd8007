package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/store"
)

// ParseOutcome decodes a worker's result payload.
func ParseOutcome(raw []byte) (model.Outcome, error) {
	var out model.Outcome
	if len(raw) == 0 {
		return out, fmt.Errorf("empty result payload")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode result payload: %w", err)
	}
	return out, nil
}

// Start returns the mutation for a work item whose job has begun running.
// Only a queued item moves; anything else yields no mutation.
func Start(item *model.WorkItem) (store.Mutation, bool) {
	if item.Status != model.StatusQueued {
		return store.Mutation{}, false
	}
	return store.Mutation{
		TaskID: item.ID,
		From:   item.Status,
		To:     model.StatusInProgress,
	}, true
}

// Apply maps a finished job's outcome onto a work item. A successful outcome
// with well-formed results completes the item and stores the results on its
// subject; anything else fails it with a refund. Terminal items yield no mutation.
func Apply(item *model.WorkItem, outcome model.Outcome) (store.Mutation, bool) {
	if model.IsTerminal(item.Status) {
		return store.Mutation{}, false
	}
	if !outcome.Success {
		reason := outcome.Error
		if reason == "" {
			reason = "worker reported failure"
		}
		return Fail(item, reason)
	}
	if !wellFormed(outcome.Results) {
		return Fail(item, "malformed result payload")
	}
	return store.Mutation{
		TaskID: item.ID,
		From:   item.Status,
		To:     model.StatusDone,
		Result: &store.Result{
			SubjectID: item.SubjectID,
			Kind:      item.Kind,
			Payload:   outcome.Results,
		},
	}, true
}

// Fail returns the mutation that fails a work item and refunds its cost.
// Terminal items yield no mutation.
func Fail(item *model.WorkItem, reason string) (store.Mutation, bool) {
	if model.IsTerminal(item.Status) {
		return store.Mutation{}, false
	}
	m := store.Mutation{
		TaskID: item.ID,
		From:   item.Status,
		To:     model.StatusFailed,
		Error:  reason,
	}
	if item.Cost > 0 {
		m.Refund = &store.Refund{OwnerID: item.OwnerID, Amount: item.Cost}
	}
	return m, true
}

func wellFormed(results json.RawMessage) bool {
	trimmed := bytes.TrimSpace(results)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && json.Valid(trimmed)
}
