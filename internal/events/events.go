// Package events emits structured notifications about memory activity.
// Events are fire-and-forget signals for the surrounding system; nothing in
// this module consumes them for its own behavior.
package events

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Event type strings.
const (
	TypeMemoryPromoted  = "memory.promoted"
	TypeMemoryStored    = "memory.stored"
	TypeMemoryRetrieved = "memory.retrieved"
	TypeContextEnriched = "context.enriched"
	TypeRPCRequest      = "rpc.request"
)

// Event is a CloudEvents-style notification envelope.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data"`
}

// MemoryPayload describes a stored or promoted item.
type MemoryPayload struct {
	SessionID  string  `json:"session_id"`
	MemoryID   string  `json:"memory_id"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
}

// RetrievalPayload describes a retrieval or enrichment result.
type RetrievalPayload struct {
	SessionID string `json:"session_id"`
	Count     int    `json:"count"`
}

// RequestPayload summarizes one handled JSON-RPC request.
type RequestPayload struct {
	Method     string `json:"method"`
	ToolName   string `json:"tool_name,omitempty"`
	Success    bool   `json:"success"`
	ErrorText  string `json:"error_text,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType string, data any) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Source: "tiermem",
		Time:   time.Now().UTC(),
		Data:   data,
	}
}

// Emitter receives events. Implementations must not block the caller.
type Emitter interface {
	Emit(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// LogEmitter writes events to the logger at debug level.
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter creates a logger-backed emitter.
func NewLogEmitter(logger *log.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ev Event) {
	e.logger.Debug("event", "type", ev.Type, "id", ev.ID, "data", ev.Data)
}

// Ring keeps the most recent events in a bounded buffer, feeding the admin
// dashboard. Safe for concurrent use.
type Ring struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewRing creates a ring holding at most capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring{capacity: capacity}
}

func (r *Ring) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
}

// Recent returns up to n events, newest first.
func (r *Ring) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || len(r.events) == 0 {
		return nil
	}
	if n > len(r.events) {
		n = len(r.events)
	}
	out := make([]Event, 0, n)
	for i := len(r.events) - 1; i >= len(r.events)-n; i-- {
		out = append(out, r.events[i])
	}
	return out
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}
