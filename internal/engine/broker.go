package engine

import (
	"sync"
	"time"

	"github.com/seantiz/augur/internal/model"
)

// subscriberBufferSize is the channel buffer for each status subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// StatusEvent is one work item status change.
type StatusEvent struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the event ends the item's lifecycle.
func (e StatusEvent) Terminal() bool {
	return model.IsTerminal(e.Status)
}

// EventFor describes the current state of a work item as an event.
func EventFor(w *model.WorkItem) StatusEvent {
	return StatusEvent{
		TaskID:    w.ID,
		Status:    w.Status,
		Error:     w.Error,
		UpdatedAt: w.UpdatedAt,
	}
}

// StatusBroker fans out work item status events to subscribers in this
// process. It is safe for concurrent use.
//
// A topic lives only while it has subscribers. A terminal event closes every
// subscriber channel and drops the topic; nothing is remembered about finished
// items, so subscribers must read the store for the current status.
type StatusBroker struct {
	mu     sync.Mutex
	topics map[string]map[int]chan StatusEvent
	nextID int
}

// NewStatusBroker creates a new status broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		topics: make(map[string]map[int]chan StatusEvent),
	}
}

// Subscribe returns a channel of events for the given task and an unsubscribe
// function. The channel is closed after a terminal event.
func (b *StatusBroker) Subscribe(taskID string) (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[taskID]
	if !ok {
		subs = make(map[int]chan StatusEvent)
		b.topics[taskID] = subs
	}

	id := b.nextID
	b.nextID++
	ch := make(chan StatusEvent, subscriberBufferSize)
	subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.topics[taskID]; ok {
			delete(cur, id)
			if len(cur) == 0 {
				delete(b.topics, taskID)
			}
		}
	}
}

// Publish sends ev to every subscriber of its task. A terminal event closes
// the subscriber channels and drops the topic.
func (b *StatusBroker) Publish(ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[ev.TaskID]
	if !ok {
		return
	}

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it can re-read the task.
		}
	}

	if ev.Terminal() {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.topics, ev.TaskID)
	}
}

// Subscribers returns the number of open subscriptions across all tasks.
func (b *StatusBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}
