package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/agentcore/llm"
)

// SchedulerConfig controls batch execution behavior.
type SchedulerConfig struct {
	// MaxConcurrency limits parallel invocations within a batch. 1 (or 0)
	// runs the batch serially.
	MaxConcurrency int

	// CallTimeout bounds each invocation attempt.
	CallTimeout time.Duration

	// MaxRetries is the retry budget for retryable tool errors.
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts, doubled each
	// retry and capped at MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// TerminateOnUnknownCalls turns an unknown-function call into a typed
	// batch failure instead of a corrective error result.
	TerminateOnUnknownCalls bool

	// BreakerThreshold aborts the turn after this many consecutive error
	// results. 0 disables the breaker.
	BreakerThreshold int

	// ApprovalTimeout bounds how long an admission-gated call waits for
	// the human transport.
	ApprovalTimeout time.Duration

	// CharLimits and LineLimits bound per-function result size before the
	// result is fed back to the model.
	CharLimits map[string]int
	LineLimits map[string]int
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrency:   5,
		CallTimeout:      30 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     100 * time.Millisecond,
		MaxRetryBackoff:  5 * time.Second,
		BreakerThreshold: 0,
		ApprovalTimeout:  60 * time.Second,
	}
}

// Scheduler executes batches of tool calls against the registry, preserving
// positional call-id correspondence regardless of completion order.
type Scheduler struct {
	registry *Registry
	config   SchedulerConfig
	sink     Sink
	logger   *slog.Logger
	sem      chan struct{}
}

// NewScheduler creates a Scheduler over the given registry.
func NewScheduler(registry *Registry, config SchedulerConfig, sink Sink) *Scheduler {
	if sink == nil {
		sink = NopSink{}
	}
	maxConc := config.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}
	return &Scheduler{
		registry: registry,
		config:   config,
		sink:     sink,
		logger:   slog.Default().With("component", "scheduler"),
		sem:      make(chan struct{}, maxConc),
	}
}

// ExecuteBatch runs every call and returns exactly one result per request,
// positionally matched by call id. The returned error is non-nil only for
// typed batch failures (unknown function with termination enabled, breaker
// tripped); individual call failures surface as error results.
func (s *Scheduler) ExecuteBatch(ctx context.Context, tc *TurnContext, calls []llm.ToolCall) ([]llm.ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	// Unknown functions are checked up front so a terminating configuration
	// fails the batch before any side effects.
	if s.config.TerminateOnUnknownCalls {
		for _, call := range calls {
			if _, ok := s.registry.Get(call.Name); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
			}
		}
	}

	results := make([]llm.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call llm.ToolCall) {
			defer wg.Done()

			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-ctx.Done():
				results[idx] = errorResult(call.ID, fmt.Sprintf("Cancelled before execution: %v", ctx.Err()))
				return
			}

			results[idx] = s.executeOne(ctx, tc, call)
		}(i, call)
	}
	wg.Wait()

	// Consecutive-error breaker, evaluated in request order. The streak is
	// carried on the TurnContext so failures accumulate across iterations
	// of the run until a success resets them.
	if s.config.BreakerThreshold > 0 {
		consecutive := 0
		if tc != nil {
			consecutive = tc.toolErrorStreak
		}
		for _, r := range results {
			if r.IsError {
				consecutive++
				if consecutive >= s.config.BreakerThreshold {
					if tc != nil {
						tc.toolErrorStreak = consecutive
					}
					return results, ErrToolBreaker
				}
			} else {
				consecutive = 0
			}
		}
		if tc != nil {
			tc.toolErrorStreak = consecutive
		}
	}

	return results, nil
}

// executeOne runs the full per-call pipeline: lookup, container handling,
// argument validation, admission, invocation with timeout and retry, and
// result truncation.
func (s *Scheduler) executeOne(ctx context.Context, tc *TurnContext, call llm.ToolCall) llm.ToolResult {
	s.sink.Send(newEvent(EventToolCallStart, runID(tc), map[string]any{
		"function": call.Name,
		"call_id":  call.ID,
	}))

	result := s.dispatch(ctx, tc, call)

	data := map[string]any{
		"function": call.Name,
		"call_id":  call.ID,
		"is_error": result.IsError,
	}
	if !result.IsError {
		// Full untruncated output goes to the event stream.
		data["output"] = result.Content
	} else {
		data["error"] = result.Content
	}
	s.sink.Send(newEvent(EventToolCallEnd, runID(tc), data))

	// Error content is bounded too: panic traces and verbose failures
	// would otherwise reach the model unbounded.
	if !result.Ephemeral {
		result.Content = TruncateResult(result.Content, call.Name, s.config.CharLimits, s.config.LineLimits)
	}
	return result
}

func (s *Scheduler) dispatch(ctx context.Context, tc *TurnContext, call llm.ToolCall) llm.ToolResult {
	fn, ok := s.registry.Get(call.Name)
	if !ok {
		return errorResult(call.ID, fmt.Sprintf("Unknown function: %s. Check the available function list and use an exact name.", call.Name))
	}

	// Containers expand on a bare call and correct the model otherwise.
	if fn.Descriptor.Container {
		if hasArguments(call.Arguments) {
			return errorResult(call.ID, s.registry.ContainerUsageError(call.Name))
		}
		text, err := s.registry.ExpandContainer(tc, call.Name)
		if err != nil {
			return errorResult(call.ID, err.Error())
		}
		return llm.ToolResult{ToolCallID: call.ID, Content: text, Ephemeral: true}
	}

	if err := s.registry.ValidateArguments(call.Name, call.Arguments); err != nil {
		return errorResult(call.ID, fmt.Sprintf("Invalid arguments: %v. Correct the arguments and retry.", err))
	}

	if fn.Descriptor.RequiresApproval {
		if denied, result := s.admit(ctx, tc, call); denied {
			return result
		}
	}

	return s.invokeWithRetry(ctx, fn, call)
}

// admit runs the permission flow through the run's ambient coordinator. A
// missing coordinator, denial, timeout, or cancellation all keep the
// function from running; the distinct outcome is preserved in the result.
func (s *Scheduler) admit(ctx context.Context, tc *TurnContext, call llm.ToolCall) (bool, llm.ToolResult) {
	coord := CoordinatorFromContext(ctx)
	if coord == nil {
		return true, errorResult(call.ID, fmt.Sprintf("Function %s requires approval but no coordinator is available for this run.", call.Name))
	}

	resp, err := coord.EmitAndAwait(ctx, CoordinationRequest{
		Kind: KindPermission,
		Payload: map[string]any{
			"function":  call.Name,
			"call_id":   call.ID,
			"arguments": string(call.Arguments),
			"run_id":    runID(tc),
		},
	}, s.config.ApprovalTimeout)
	if err != nil {
		return true, errorResult(call.ID, fmt.Sprintf("Approval for %s failed: %v", call.Name, err))
	}

	switch resp.Outcome {
	case OutcomeApproved:
		return false, llm.ToolResult{}
	case OutcomeDenied:
		return true, errorResult(call.ID, fmt.Sprintf("Permission denied for %s.", call.Name))
	case OutcomeTimeout:
		return true, errorResult(call.ID, fmt.Sprintf("Permission request for %s was not answered in time (outcome: timeout).", call.Name))
	case OutcomeCancelled:
		return true, errorResult(call.ID, fmt.Sprintf("Permission request for %s was cancelled (outcome: cancelled).", call.Name))
	default:
		return true, errorResult(call.ID, fmt.Sprintf("Permission request for %s ended with outcome %s.", call.Name, resp.Outcome))
	}
}

func (s *Scheduler) invokeWithRetry(ctx context.Context, fn *RegisteredFunction, call llm.ToolCall) llm.ToolResult {
	backoff := s.config.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		output, err := s.invokeOnce(ctx, fn, call)
		if err == nil {
			return llm.ToolResult{ToolCallID: call.ID, Content: output}
		}
		lastErr = err

		if !isRetryableToolError(err) || ctx.Err() != nil || attempt >= s.config.MaxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if s.config.MaxRetryBackoff > 0 && sleep > s.config.MaxRetryBackoff {
			sleep = s.config.MaxRetryBackoff
		}
		s.logger.Debug("retrying tool call",
			"function", call.Name, "attempt", attempt+1, "backoff", sleep)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return errorResult(call.ID, fmt.Sprintf("Function error (%s): %v", call.Name, ctx.Err()))
		}
	}

	return errorResult(call.ID, fmt.Sprintf("Function error (%s): %v", call.Name, lastErr))
}

// invokeOnce runs a single attempt under the per-call timeout with panic
// recovery.
func (s *Scheduler) invokeOnce(ctx context.Context, fn *RegisteredFunction, call llm.ToolCall) (string, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if s.config.CallTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
	}

	type outcome struct {
		output string
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &CallError{
					CallID:   call.ID,
					Function: call.Name,
					Err:      fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				}}
			}
		}()
		output, err := fn.Invoke(execCtx, call.Arguments)
		if err != nil {
			ch <- outcome{err: &CallError{
				CallID:    call.ID,
				Function:  call.Name,
				Retryable: isRetryableToolError(err),
				Err:       err,
			}}
			return
		}
		ch <- outcome{output: output}
	}()

	select {
	case res := <-ch:
		return res.output, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return "", &CallError{CallID: call.ID, Function: call.Name, Err: ctx.Err()}
		}
		return "", &CallError{
			CallID:    call.ID,
			Function:  call.Name,
			Retryable: true,
			Err:       fmt.Errorf("execution timed out after %s", s.config.CallTimeout),
		}
	}
}

// isRetryableToolError classifies tool failures by content; tools rarely
// return typed errors, so pattern matching carries most of the weight.
func isRetryableToolError(err error) bool {
	if err == nil {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "unavailable"):
		return true
	}
	return false
}

func hasArguments(args []byte) bool {
	trimmed := strings.TrimSpace(string(args))
	return trimmed != "" && trimmed != "{}" && trimmed != "null"
}

func errorResult(callID, content string) llm.ToolResult {
	return llm.ToolResult{ToolCallID: callID, Content: content, IsError: true}
}

func runID(tc *TurnContext) string {
	if tc == nil {
		return ""
	}
	return tc.RunID
}
