package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/llm"
)

// StopReason explains why a run ended.
type StopReason string

const (
	// StopNatural means the model stopped requesting tools.
	StopNatural StopReason = "natural"

	// StopIterationLimit means the iteration cap was hit. Never reported
	// as a plain success.
	StopIterationLimit StopReason = "iteration_limit"

	// StopFatalError means a non-retryable failure terminated the loop.
	StopFatalError StopReason = "fatal_error"

	// StopToolBreaker means consecutive tool failures tripped the breaker.
	StopToolBreaker StopReason = "tool_breaker"
)

// RunResult is what a completed (or terminated) run hands back. NewMessages
// is always populated, even on failure, so callers keep the partial turn
// history.
type RunResult struct {
	FinalResponse *llm.Response
	NewMessages   []llm.Message
	Iterations    int
	StopReason    StopReason
	Usage         llm.Usage
}

// Runner drives the iterate, call-model, execute-tools, append loop.
type Runner struct {
	client        *llm.Client
	model         string
	registry      *Registry
	scheduler     *Scheduler
	history       *HistoryManager
	coordinator   *Coordinator
	sink          Sink
	logger        *slog.Logger
	retryPolicy   *llm.RetryPolicy
	maxIterations int
	streaming     bool
	temperature   *float64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithModel sets the model identifier sent on every request.
func WithModel(model string) RunnerOption {
	return func(r *Runner) { r.model = model }
}

// WithMaxIterations caps model-call iterations per run.
func WithMaxIterations(n int) RunnerOption {
	return func(r *Runner) { r.maxIterations = n }
}

// WithSink sets the event sink for lifecycle events.
func WithSink(sink Sink) RunnerOption {
	return func(r *Runner) { r.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger.With("component", "runner") }
}

// WithCoordinatorOption attaches a coordinator, propagated ambiently to
// every nested frame of the run.
func WithCoordinatorOption(c *Coordinator) RunnerOption {
	return func(r *Runner) { r.coordinator = c }
}

// WithScheduler overrides the default scheduler.
func WithScheduler(s *Scheduler) RunnerOption {
	return func(r *Runner) { r.scheduler = s }
}

// WithSchedulerConfig builds the scheduler from config.
func WithSchedulerConfig(cfg SchedulerConfig) RunnerOption {
	return func(r *Runner) { r.scheduler = NewScheduler(r.registry, cfg, r.sink) }
}

// WithHistoryManager overrides the default history manager.
func WithHistoryManager(h *HistoryManager) RunnerOption {
	return func(r *Runner) { r.history = h }
}

// WithModelRetryPolicy sets the retry policy for model calls.
func WithModelRetryPolicy(p *llm.RetryPolicy) RunnerOption {
	return func(r *Runner) { r.retryPolicy = p }
}

// WithStreaming buffers the model's stream deltas into one assistant
// message per iteration instead of blocking completes.
func WithStreaming(enabled bool) RunnerOption {
	return func(r *Runner) { r.streaming = enabled }
}

// WithTemperature sets the sampling temperature on every request.
func WithTemperature(t float64) RunnerOption {
	return func(r *Runner) { r.temperature = &t }
}

// NewRunner creates a Runner over a model client and function registry.
func NewRunner(client *llm.Client, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:        client,
		registry:      registry,
		sink:          NopSink{},
		logger:        slog.Default().With("component", "runner"),
		retryPolicy:   llm.DefaultRetryPolicy(),
		maxIterations: 25,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scheduler == nil {
		r.scheduler = NewScheduler(registry, DefaultSchedulerConfig(), r.sink)
	}
	if r.history == nil {
		cfg := DefaultHistoryConfig()
		if r.model != "" {
			cfg.ContextWindow = llm.ContextWindowFor(r.model)
		}
		r.history = NewHistoryManager(cfg)
	}
	return r
}

// Run drives the loop until the model stops requesting tools, the iteration
// cap is hit, or a fatal error ends the turn. The RunResult is returned
// alongside the error so partial turn history is never lost.
func (r *Runner) Run(ctx context.Context, history []llm.Message, newMessages []llm.Message) (*RunResult, error) {
	runID := uuid.New().String()
	tc := NewTurnContext(runID, history)
	for _, msg := range newMessages {
		tc.Append(msg)
	}

	if r.coordinator != nil {
		ctx = WithCoordinator(ctx, r.coordinator)
	}

	r.sink.Send(newEvent(EventRunStart, runID, map[string]any{
		"history_len": len(history),
		"new":         len(newMessages),
	}))
	defer func() {
		r.sink.Send(newEvent(EventRunEnd, runID, nil))
	}()

	result := &RunResult{}
	finish := func(reason StopReason, resp *llm.Response) *RunResult {
		result.StopReason = reason
		result.FinalResponse = resp
		result.NewMessages = tc.TurnHistory
		result.Iterations = tc.Iteration
		result.Usage = tc.Usage
		return result
	}

	for {
		if tc.Iteration >= r.maxIterations {
			// Zero model calls for maxIterations == 0 lands here too;
			// the cap is an explicit outcome, never an empty success.
			r.logger.Warn("iteration limit reached", "run_id", runID, "iterations", tc.Iteration)
			return finish(StopIterationLimit, nil), ErrMaxIterations
		}

		if err := ctx.Err(); err != nil {
			return finish(StopFatalError, nil), err
		}

		r.sink.Send(newEvent(EventIterationStart, runID, map[string]any{"iteration": tc.Iteration}))

		if r.history.ShouldReduce(tc.Messages) {
			reduced, err := r.history.Reduce(ctx, tc.Messages)
			if err != nil {
				return finish(StopFatalError, nil), err
			}
			if len(reduced) != len(tc.Messages) {
				r.sink.Send(newEvent(EventReductionApplied, runID, map[string]any{
					"before": len(tc.Messages),
					"after":  len(reduced),
				}))
			}
			tc.Messages = reduced
		}

		resp, err := r.callModel(ctx, tc)
		if err != nil {
			r.sink.Send(newEvent(EventError, runID, map[string]any{"error": err.Error()}))
			return finish(StopFatalError, nil), fmt.Errorf("model call failed: %w", err)
		}

		tc.AddUsage(resp.Usage)
		assistant := resp.Message
		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			assistant = assistant.
				WithMeta(llm.MetaInputTokens, resp.Usage.InputTokens).
				WithMeta(llm.MetaOutputTokens, resp.Usage.OutputTokens)
		}
		tc.Append(assistant)
		tc.Iteration++

		calls := resp.ToolCallRequests()
		r.sink.Send(newEvent(EventIterationEnd, runID, map[string]any{
			"iteration":  tc.Iteration,
			"tool_calls": len(calls),
		}))

		if len(calls) == 0 {
			return finish(StopNatural, resp), nil
		}

		results, batchErr := r.scheduler.ExecuteBatch(ctx, tc, calls)
		for _, res := range results {
			msg := llm.ToolResultMessage(res.ToolCallID, res.Content, res.IsError)
			if res.Ephemeral {
				msg = msg.WithMeta(llm.MetaContainerResult, true)
			}
			tc.Append(msg)
		}
		if batchErr != nil {
			reason := StopFatalError
			if errors.Is(batchErr, ErrToolBreaker) {
				reason = StopToolBreaker
			}
			return finish(reason, resp), batchErr
		}
	}
}

// callModel performs one model call, blocking or streamed. Stream deltas
// are buffered into one logical assistant message; provider-reported usage
// is captured when present.
func (r *Runner) callModel(ctx context.Context, tc *TurnContext) (*llm.Response, error) {
	req := llm.Request{
		Model:       r.model,
		Messages:    r.history.PrepareEffectiveMessages(tc.Messages),
		ToolDefs:    r.registry.ToolDefinitions(tc),
		ToolChoice:  &llm.ToolChoice{Mode: "auto"},
		Temperature: r.temperature,
	}

	r.sink.Send(newEvent(EventModelCallStart, tc.RunID, map[string]any{
		"messages": len(req.Messages),
		"tools":    len(req.ToolDefs),
	}))

	resp, err := llm.Retry(ctx, r.retryPolicy, func() (*llm.Response, error) {
		if r.streaming {
			return r.streamOnce(ctx, req)
		}
		return r.client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	r.sink.Send(newEvent(EventModelCallEnd, tc.RunID, map[string]any{
		"finish_reason": resp.FinishReason.Reason,
		"tool_calls":    len(resp.ToolCallRequests()),
	}))
	return resp, nil
}

func (r *Runner) streamOnce(ctx context.Context, req llm.Request) (*llm.Response, error) {
	events, err := r.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	acc := llm.NewStreamAccumulator()
	for ev := range events {
		acc.Process(ev)
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}
