package events

import (
	"sync"
	"time"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/pkg/logger"
)

// Type names a lifecycle event
type Type string

const (
	TaskScheduled   Type = "task.scheduled"
	TaskUpdated     Type = "task.updated"
	TaskDeleted     Type = "task.deleted"
	TaskTriggered   Type = "task.triggered"
	DataFetched     Type = "data.fetched"
	DataTransformed Type = "data.transformed"
	DataProcessed   Type = "data.processed"
	TaskCompleted   Type = "task.completed"
	TaskFailed      Type = "task.failed"
)

// Event is one lifecycle notification
type Event struct {
	Type   Type        `json:"type"`
	TaskID string      `json:"task_id,omitempty"`
	Time   time.Time   `json:"time"`
	Data   models.JSON `json:"data,omitempty"`
}

// Listener receives events synchronously in emission order
type Listener func(Event)

// Bus is an in-process synchronous fan-out. Listeners run in registration
// order; a panicking listener is logged and never aborts the emitting run.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	log       *logger.Logger
}

// NewBus creates an event bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{log: log.WithComponent("events")}
}

// Subscribe registers a listener. Intended for boot-time wiring.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish delivers the event to every listener
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		b.deliver(l, e)
	}
}

func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event", string(e.Type)).
				Str("task_id", e.TaskID).
				Msg("Event listener panicked")
		}
	}()
	l(e)
}
