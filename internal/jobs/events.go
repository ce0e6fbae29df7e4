package jobs

import (
	"sort"
	"sync"
	"time"

	"exocal-client/internal/domain"
)

// EventType classifies messages emitted during a job's lifecycle.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by views and the CLI.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	JobID     string           `json:"jobId,omitempty"`
	Type      EventType        `json:"type"`
	State     domain.JobState  `json:"state,omitempty"`
	Message   string           `json:"message,omitempty"`
	Progress  *domain.Progress `json:"progress,omitempty"`
	Delivery  *domain.Delivery `json:"delivery,omitempty"`
}

// Observer receives every published event.
type Observer func(Event)

// EventBus keeps a bounded, sequenced history of job events. Consecutive
// progress events for one job collapse into the newest, so a long poll does
// not push status changes out of the history.
type EventBus struct {
	mu      sync.RWMutex
	nextSeq int64
	limit   int
	history []Event
}

// NewEventBus creates a bus retaining at most limit events.
func NewEventBus(limit int) *EventBus {
	if limit <= 0 {
		limit = 500
	}
	return &EventBus{limit: limit, history: make([]Event, 0, limit)}
}

// Publish stamps the event with the next sequence number and stores it.
func (b *EventBus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	e.Seq = b.nextSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if n := len(b.history); n > 0 && e.Type == EventTypeProgress {
		if prev := b.history[n-1]; prev.Type == EventTypeProgress && prev.JobID == e.JobID {
			b.history[n-1] = e
			return e
		}
	}

	if len(b.history) == b.limit {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.limit-1]
	}
	b.history = append(b.history, e)
	return e
}

// Since returns retained events with Seq > seq, oldest first.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.history), func(i int) bool { return b.history[i].Seq > seq })
	if i == len(b.history) {
		return nil
	}
	return append([]Event(nil), b.history[i:]...)
}

// Last returns the most recent event of type t, if any.
func (b *EventBus) Last(t EventType) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].Type == t {
			return b.history[i], true
		}
	}
	return Event{}, false
}
