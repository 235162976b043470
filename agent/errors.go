package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the runner and scheduler.
var (
	// ErrMaxIterations is returned when the loop hits its iteration cap
	// before the model stops requesting tools.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrUnknownFunction is returned when a tool call names an unregistered
	// function and the scheduler is configured to terminate on unknown calls.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrToolBreaker is returned when consecutive tool failures trip the
	// breaker and the turn is aborted.
	ErrToolBreaker = errors.New("consecutive tool errors exceeded breaker threshold")

	// ErrCoordinatorClosed is returned by EmitAndAwait on a closed coordinator.
	ErrCoordinatorClosed = errors.New("coordinator is closed")
)

// CallError describes a single failed tool invocation.
type CallError struct {
	CallID    string
	Function  string
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Function, e.CallID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
