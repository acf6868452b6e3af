// README: Per-user event bus fanning session changes out to live clients.
package session

import (
	"sync"
	"time"

	"trail/internal/types"
)

type EventType string

const (
	EventPosition   EventType = "position"
	EventRanking    EventType = "ranking"
	EventProgress   EventType = "progress"
	EventDraft      EventType = "draft"
	EventSubmission EventType = "submission"
	EventUpload     EventType = "upload"
	EventClosed     EventType = "session_closed"
)

// replayOrder lists the event types whose latest value is replayed to new
// subscribers, in replay order.
var replayOrder = []EventType{EventPosition, EventRanking, EventProgress, EventDraft, EventSubmission}

type Event struct {
	Type      EventType `json:"type"`
	TaskID    types.ID  `json:"task_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a thread-safe in-process publish/subscribe hub. Handlers run on
// the publisher's goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
	latest   map[EventType]Event
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[int]func(Event)),
		latest:   make(map[EventType]Event),
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if e.Type == EventClosed {
		b.latest = make(map[EventType]Event)
	} else {
		b.latest[e.Type] = e
	}
	targets := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		targets = append(targets, h)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(e)
	}
}

// Subscribe registers handler. The returned function unsubscribes it.
func (b *Bus) Subscribe(handler func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.handlers[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Latest returns the most recent event of each replayable type.
func (b *Bus) Latest() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(replayOrder))
	for _, t := range replayOrder {
		if e, ok := b.latest[t]; ok {
			out = append(out, e)
		}
	}
	return out
}
