package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	// EventTextDelta carries one streamed fragment of assistant text.
	EventTextDelta EventKind = "text_delta"
	// EventToolStarted announces a tool invocation before it runs.
	EventToolStarted EventKind = "tool_started"
	// EventToolResult carries the invocation's outcome.
	EventToolResult EventKind = "tool_result"
	// EventTurnSummary is emitted after each loop iteration with its
	// counters.
	EventTurnSummary EventKind = "turn_summary"
	// EventTerminal is always the final event on the channel.
	EventTerminal EventKind = "terminal"
)

// Terminal reasons. Exactly one arrives per invocation.
const (
	ReasonCompleted      = "completed"
	ReasonIterationLimit = "iteration_limit"
	ReasonCancelled      = "cancelled"
	ReasonFatalError     = "fatal_error"
)

// Event is one item on the stream returned by Run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// emitter delivers events to the invocation's channel. Unlike the
// delta-bearing events, the terminal event must never be lost, so Emit
// drops on a full buffer but emitTerminal blocks.
type emitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	mu        sync.Mutex
}

func newEmitter(sessionID string, bufferSize int) *emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &emitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// emit sends an event, dropping it if the buffer is full so a slow
// consumer cannot stall the loop.
func (e *emitter) emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- e.event(kind, data):
	default:
	}
}

// emitTerminal sends the terminal event and closes the channel. It
// blocks until the event is buffered or received: consumers are
// guaranteed a terminal event on every invocation.
func (e *emitter) emitTerminal(reason string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["reason"] = reason
	e.ch <- e.event(EventTerminal, data)
	e.closed = true
	close(e.ch)
}

func (e *emitter) event(kind EventKind, data map[string]any) Event {
	return Event{
		Kind:      kind,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
