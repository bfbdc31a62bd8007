package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/augur/internal/engine"
	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/store"
)

// defaultEventPoll is how often an open stream re-reads its task, so a
// transition applied by another process still reaches the client.
const defaultEventPoll = 2 * time.Second

// handleTaskEvents streams a task's status changes as server-sent events.
// Each change is a "status" event carrying a JSON StatusEvent; a "done" event
// ends the stream once the task is terminal.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe first so a transition landing between the read and the
	// subscription is not lost.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	task, err := s.store.GetWorkItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	eventStreamsActive.Inc()
	defer eventStreamsActive.Dec()

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	last := engine.EventFor(task)
	if err := writeStatusEvent(w, last); err != nil {
		return
	}
	if last.Terminal() {
		_ = writeSSEEvent(w, "done", last.Status)
		flush()
		return
	}
	flush()

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ticker := time.NewTicker(s.eventPoll)
	defer ticker.Stop()

	// emit writes ev if it moves the task forward and reports whether the
	// stream should end.
	emit := func(ev engine.StatusEvent) (finished bool) {
		if !model.ValidTransition(last.Status, ev.Status) {
			return false
		}
		last = ev
		if err := writeStatusEvent(w, ev); err != nil {
			return true // Client gone.
		}
		if ev.Terminal() {
			_ = writeSSEEvent(w, "done", ev.Status)
			flush()
			return true
		}
		flush()
		return false
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Topic dropped: the task is terminal. Settle from the store.
				if cur, err := s.store.GetWorkItem(r.Context(), id); err == nil {
					if emit(engine.EventFor(cur)) {
						return
					}
				}
				_ = writeSSEEvent(w, "done", last.Status)
				flush()
				return
			}
			if emit(ev) {
				return
			}
		case <-ticker.C:
			cur, err := s.store.GetWorkItem(r.Context(), id)
			if err != nil {
				s.logger.Warn("refresh task for events", "task_id", id, "error", err)
				continue
			}
			if emit(engine.EventFor(cur)) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeStatusEvent writes ev as a "status" event with a JSON payload.
func writeStatusEvent(w http.ResponseWriter, ev engine.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, "status", string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
