package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/martinemde/agentcore/llm"
)

// ReductionStrategy selects how the window shrinks.
type ReductionStrategy string

const (
	// StrategyTruncate drops the oldest non-system messages down to the
	// target count.
	StrategyTruncate ReductionStrategy = "truncate"

	// StrategySummarize replaces the contiguous oldest span with one
	// summary-marked message.
	StrategySummarize ReductionStrategy = "summarize"
)

// HistoryConfig controls effective-message preparation and reduction.
type HistoryConfig struct {
	// SystemPrompt is prepended to every effective message list.
	SystemPrompt string

	// InjectedContext is inserted between the system preamble and history.
	InjectedContext []llm.Message

	Strategy ReductionStrategy

	// Predicate, when set, decides the reduction trigger unconditionally.
	Predicate func(history []llm.Message) bool

	// ContextWindow and ContextPercent trigger reduction when the token
	// estimate crosses the given share of the window.
	ContextWindow  int
	ContextPercent float64

	// TokenBudget is an absolute token ceiling, consulted after the
	// window percentage.
	TokenBudget int

	// MaxMessages is the message-count fallback. It is always available
	// and bounds growth even when token accounting is unreliable.
	MaxMessages int

	// TargetMessageCount is how many messages reduction keeps (beyond the
	// summary and any system messages).
	TargetMessageCount int

	// SummarizationThreshold is the minimum number of reducible messages
	// before summarize bothers; avoids churning out one-message summaries.
	SummarizationThreshold int

	// TailWindow is the minimum number of most-recent messages reduction
	// never touches.
	TailWindow int

	// Summarizer synthesizes summary text. Nil falls back to a heuristic
	// digest.
	Summarizer SummaryProvider
}

// DefaultHistoryConfig returns defaults sized for catalog-unknown models.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Strategy:               StrategySummarize,
		ContextWindow:          llm.DefaultContextWindow,
		ContextPercent:         0.8,
		MaxMessages:            200,
		TargetMessageCount:     40,
		SummarizationThreshold: 5,
		TailWindow:             10,
	}
}

// HistoryManager owns the per-run message list: it prepares the effective
// list for each model call and shrinks the window when a trigger fires.
// Reduce holds a per-manager lock so concurrent runs sharing one history
// reduce under a single-writer discipline.
type HistoryManager struct {
	config HistoryConfig
	logger *slog.Logger
	mu     sync.Mutex
}

// NewHistoryManager creates a HistoryManager.
func NewHistoryManager(config HistoryConfig) *HistoryManager {
	if config.Strategy == "" {
		config.Strategy = StrategySummarize
	}
	if config.ContextPercent <= 0 || config.ContextPercent > 1 {
		config.ContextPercent = 0.8
	}
	if config.TargetMessageCount <= 0 {
		config.TargetMessageCount = 40
	}
	return &HistoryManager{
		config: config,
		logger: slog.Default().With("component", "history"),
	}
}

// PrepareEffectiveMessages assembles the list sent to the model: system
// preamble, injected context, then history.
func (h *HistoryManager) PrepareEffectiveMessages(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+len(h.config.InjectedContext)+1)
	if h.config.SystemPrompt != "" {
		out = append(out, llm.SystemMessage(h.config.SystemPrompt))
	}
	out = append(out, h.config.InjectedContext...)
	out = append(out, history...)
	return out
}

// ShouldReduce evaluates the trigger chain, first applicable wins: custom
// predicate, percent of context window, absolute token budget, message
// count. Only messages after the most recent summary are considered.
func (h *HistoryManager) ShouldReduce(history []llm.Message) bool {
	scan := history[scanStart(history):]

	if h.config.Predicate != nil {
		return h.config.Predicate(scan)
	}

	if h.config.ContextWindow > 0 {
		limit := int(float64(h.config.ContextWindow) * h.config.ContextPercent)
		if EstimateTokens(scan) > limit {
			return true
		}
	}

	if h.config.TokenBudget > 0 && EstimateTokens(scan) > h.config.TokenBudget {
		return true
	}

	return h.config.MaxMessages > 0 && len(scan) > h.config.MaxMessages
}

// Reduce applies the configured strategy and returns the shrunk history.
// A history already within bounds is returned unchanged; messages at or
// before the latest summary are never altered.
func (h *HistoryManager) Reduce(ctx context.Context, history []llm.Message) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := scanStart(history)
	// Never summarize away the system preamble.
	for start < len(history) && history[start].Role == llm.RoleSystem {
		start++
	}

	keep := h.config.TargetMessageCount
	if h.config.TailWindow > keep {
		keep = h.config.TailWindow
	}

	excess := len(history) - start - keep
	if excess <= 0 {
		return history, nil
	}

	switch h.config.Strategy {
	case StrategyTruncate:
		return h.truncate(history, start, excess)
	default:
		return h.summarize(ctx, history, start, excess)
	}
}

// scanStart returns the index just past the most recent summary marker.
// Previously summarized content is never re-scanned.
func scanStart(history []llm.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary() {
			return i + 1
		}
	}
	return 0
}

// safeCut moves a proposed cut point backward until it no longer separates
// a tool-call request from its results. Removing only one side corrupts the
// correspondence the model capability requires.
func safeCut(history []llm.Message, start, cut int) int {
	for cut > start {
		if history[cut].Role == llm.RoleTool {
			cut--
			continue
		}
		if history[cut-1].HasToolCalls() {
			cut--
			continue
		}
		break
	}
	return cut
}

// EstimateTokens approximates token usage. Recorded provider counters on a
// message win; otherwise characters divided by four.
func EstimateTokens(msgs []llm.Message) int {
	total := 0
	for _, msg := range msgs {
		if n, ok := recordedTokens(msg); ok {
			total += n
			continue
		}
		chars := len(msg.TextContent())
		for _, part := range msg.Content {
			if part.Kind == llm.ContentToolResult && part.ToolResult != nil {
				chars += len(part.ToolResult.Content)
			}
			if part.Kind == llm.ContentToolCall && part.ToolCall != nil {
				chars += len(part.ToolCall.Arguments)
			}
		}
		total += chars / 4
	}
	return total
}

func recordedTokens(msg llm.Message) (int, bool) {
	if msg.Metadata == nil {
		return 0, false
	}
	total := 0
	found := false
	for _, key := range []string{llm.MetaInputTokens, llm.MetaOutputTokens} {
		switch v := msg.Metadata[key].(type) {
		case int:
			total += v
			found = true
		case float64:
			total += int(v)
			found = true
		}
	}
	return total, found
}
