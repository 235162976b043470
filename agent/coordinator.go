package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CoordinationKind distinguishes what the blocked caller is asking for.
type CoordinationKind string

const (
	KindPermission    CoordinationKind = "permission"
	KindClarification CoordinationKind = "clarification"
)

// Outcome is the terminal state of a coordination request. Timeout and
// cancellation are distinct outcomes; neither is ever coerced to approval
// or denial here. Admission policy decides what they mean.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeDenied    Outcome = "denied"
	OutcomeAnswered  Outcome = "answered"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// CoordinationRequest is surfaced through the event sink to whatever
// transport fronts the human. IDs are random so unrelated pending requests
// serviced by the same drain loop cannot cross-talk.
type CoordinationRequest struct {
	ID      string           `json:"id"`
	Kind    CoordinationKind `json:"kind"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// CoordinationResponse resolves a request.
type CoordinationResponse struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Answer  string  `json:"answer,omitempty"`
}

// Coordinator is a correlated request/response bus for human-in-the-loop
// flows. Any frame in a nested call chain can reach the run's coordinator
// through the ambient context reference (WithCoordinator), block in
// EmitAndAwait, and be unblocked by the transport calling Resolve.
type Coordinator struct {
	sink    Sink
	events  chan Event
	pending map[string]chan CoordinationResponse
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
}

// NewCoordinator creates a Coordinator delivering events to sink. A drain
// goroutine forwards emitted events so sibling emissions are not starved
// while one EmitAndAwait blocks.
func NewCoordinator(sink Sink) *Coordinator {
	if sink == nil {
		sink = NopSink{}
	}
	c := &Coordinator{
		sink:    sink,
		events:  make(chan Event, 256),
		pending: make(map[string]chan CoordinationResponse),
		done:    make(chan struct{}),
	}
	go c.drain()
	return c
}

func (c *Coordinator) drain() {
	for {
		select {
		case ev := <-c.events:
			c.sink.Send(ev)
		case <-c.done:
			// Flush whatever is already queued.
			for {
				select {
				case ev := <-c.events:
					c.sink.Send(ev)
				default:
					return
				}
			}
		}
	}
}

// Emit sends a fire-and-forget event. Never blocks; events are dropped if
// the internal buffer is full.
func (c *Coordinator) Emit(ev Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// EmitAndAwait surfaces a coordination request and blocks until it is
// resolved, the timeout elapses, or ctx is cancelled. It always returns: the
// outcome is OutcomeTimeout or OutcomeCancelled when no resolution arrived.
func (c *Coordinator) EmitAndAwait(ctx context.Context, req CoordinationRequest, timeout time.Duration) (CoordinationResponse, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ch := make(chan CoordinationResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return CoordinationResponse{ID: req.ID, Outcome: OutcomeCancelled}, ErrCoordinatorClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.Emit(Event{
		Kind:      EventCoordinationRequest,
		Timestamp: time.Now(),
		Request:   &req,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		resp.ID = req.ID
		return resp, nil
	case <-timer.C:
		return CoordinationResponse{ID: req.ID, Outcome: OutcomeTimeout}, nil
	case <-ctx.Done():
		return CoordinationResponse{ID: req.ID, Outcome: OutcomeCancelled}, nil
	}
}

// Resolve delivers a response for a pending request. Returns false without
// effect when the id is unknown or already resolved, tolerating races
// between a timeout and a late answer.
func (c *Coordinator) Resolve(id string, resp CoordinationResponse) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	resp.ID = id
	ch <- resp

	c.Emit(Event{
		Kind:      EventCoordinationResult,
		Timestamp: time.Now(),
		Data:      map[string]any{"id": id, "outcome": string(resp.Outcome)},
	})
	return true
}

// PendingCount returns the number of unresolved requests.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels all pending requests and stops the drain loop. Safe to call
// multiple times.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan CoordinationResponse)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- CoordinationResponse{ID: id, Outcome: OutcomeCancelled}
	}
	close(c.done)
}

// Ambient coordinator propagation. The reference is scoped to one logical
// run via its context, never a process singleton.

type coordinatorKey struct{}

// WithCoordinator attaches the coordinator to the context.
func WithCoordinator(ctx context.Context, c *Coordinator) context.Context {
	return context.WithValue(ctx, coordinatorKey{}, c)
}

// CoordinatorFromContext returns the run's coordinator, or nil when the
// context carries none.
func CoordinatorFromContext(ctx context.Context) *Coordinator {
	c, _ := ctx.Value(coordinatorKey{}).(*Coordinator)
	return c
}
