package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart            EventKind = "run_start"
	EventRunEnd              EventKind = "run_end"
	EventIterationStart      EventKind = "iteration_start"
	EventIterationEnd        EventKind = "iteration_end"
	EventModelCallStart      EventKind = "model_call_start"
	EventModelCallEnd        EventKind = "model_call_end"
	EventToolCallStart       EventKind = "tool_call_start"
	EventToolCallEnd         EventKind = "tool_call_end"
	EventReductionApplied    EventKind = "reduction_applied"
	EventCoordinationRequest EventKind = "coordination_request"
	EventCoordinationResult  EventKind = "coordination_result"
	EventProgress            EventKind = "progress"
	EventWarning             EventKind = "warning"
	EventError               EventKind = "error"
)

// Event is a typed event emitted by the execution core. Coordination
// requests carry the Request field; everything else uses the Data bag.
type Event struct {
	Kind      EventKind            `json:"kind"`
	Timestamp time.Time            `json:"timestamp"`
	RunID     string               `json:"run_id,omitempty"`
	Data      map[string]any       `json:"data,omitempty"`
	Request   *CoordinationRequest `json:"request,omitempty"`
}

// Sink receives events. Implementations must not block the caller for long;
// the core emits from hot paths.
type Sink interface {
	Send(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Send(Event) {}

// CallbackSink invokes a function for each event.
type CallbackSink func(ev Event)

func (f CallbackSink) Send(ev Event) { f(ev) }

// MultiSink fans each event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Send(ev Event) {
	for _, s := range m {
		s.Send(ev)
	}
}

// ChanSink delivers events to a buffered channel, dropping events when the
// buffer is full so the loop is never blocked by a slow consumer.
type ChanSink struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(bufferSize int) *ChanSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChanSink{ch: make(chan Event, bufferSize)}
}

// Send delivers the event, dropping it if the buffer is full or the sink
// is closed.
func (s *ChanSink) Send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Buffer full; drop rather than block the loop.
	}
}

// Events returns the read-only event channel.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Close closes the channel. Safe to call multiple times.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// newEvent stamps the timestamp and run id.
func newEvent(kind EventKind, runID string, data map[string]any) Event {
	return Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      data,
	}
}
