package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentcore/llm"
)

// chatPairs builds n user/assistant exchanges.
func chatPairs(n int) []llm.Message {
	msgs := make([]llm.Message, 0, n*2)
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			llm.UserMessage(fmt.Sprintf("question %d", i)),
			llm.AssistantMessage(fmt.Sprintf("answer %d", i)))
	}
	return msgs
}

func TestPrepareEffectiveMessages(t *testing.T) {
	h := NewHistoryManager(HistoryConfig{
		SystemPrompt:    "You are helpful.",
		InjectedContext: []llm.Message{llm.UserMessage("project brief")},
	})

	history := chatPairs(2)
	effective := h.PrepareEffectiveMessages(history)

	require.Len(t, effective, 6)
	require.Equal(t, llm.RoleSystem, effective[0].Role)
	require.Equal(t, "You are helpful.", effective[0].TextContent())
	require.Equal(t, "project brief", effective[1].TextContent())
	require.Equal(t, "question 0", effective[2].TextContent())

	// History itself is not mutated.
	require.Len(t, history, 4)
}

func TestShouldReduceTriggerPriority(t *testing.T) {
	history := chatPairs(10)

	// A predicate overrides everything, in both directions.
	h := NewHistoryManager(HistoryConfig{
		Predicate:   func([]llm.Message) bool { return true },
		MaxMessages: 1000,
	})
	require.True(t, h.ShouldReduce(history))

	h = NewHistoryManager(HistoryConfig{
		Predicate:   func([]llm.Message) bool { return false },
		MaxMessages: 1,
	})
	require.False(t, h.ShouldReduce(history))

	// Context window percentage.
	h = NewHistoryManager(HistoryConfig{ContextWindow: 10, ContextPercent: 0.5})
	require.True(t, h.ShouldReduce(history))

	// Token budget.
	h = NewHistoryManager(HistoryConfig{TokenBudget: 5})
	require.True(t, h.ShouldReduce(history))

	// Message count fallback.
	h = NewHistoryManager(HistoryConfig{MaxMessages: 5})
	require.True(t, h.ShouldReduce(history))
	h = NewHistoryManager(HistoryConfig{MaxMessages: 50})
	require.False(t, h.ShouldReduce(history))
}

func TestShouldReduceScansOnlyAfterSummary(t *testing.T) {
	history := chatPairs(10)
	summary := llm.UserMessage("earlier summary").WithMeta(llm.MetaSummary, true)
	history = append(history, summary)
	history = append(history, chatPairs(2)...)

	// 4 messages after the summary; the 20 before it do not count.
	h := NewHistoryManager(HistoryConfig{MaxMessages: 5})
	require.False(t, h.ShouldReduce(history))

	history = append(history, chatPairs(2)...)
	require.True(t, h.ShouldReduce(history))
}

func TestReduceSummarizeReplacesOldestSpan(t *testing.T) {
	history := chatPairs(50) // 100 messages
	h := NewHistoryManager(HistoryConfig{
		Strategy:               StrategySummarize,
		TargetMessageCount:     20,
		SummarizationThreshold: 5,
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, reduced, 21)
	require.True(t, reduced[0].IsSummary())
	require.Equal(t, 79, reduced[0].Metadata[llm.MetaCoversUntil])

	// The surviving tail is the newest 20 messages, unaltered.
	for i, msg := range reduced[1:] {
		require.Equal(t, history[80+i].TextContent(), msg.TextContent())
	}

	// Reducing again is a no-op: the summary is never re-scanned.
	again, err := h.Reduce(context.Background(), reduced)
	require.NoError(t, err)
	require.Len(t, again, 21)
	require.Equal(t, reduced, again)
}

func TestReduceBelowThresholdUnchanged(t *testing.T) {
	history := chatPairs(12) // 24 messages, excess 4 < threshold 5
	h := NewHistoryManager(HistoryConfig{
		Strategy:               StrategySummarize,
		TargetMessageCount:     20,
		SummarizationThreshold: 5,
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, history, reduced)
}

func TestReduceTruncateDropsOldest(t *testing.T) {
	history := chatPairs(30)
	h := NewHistoryManager(HistoryConfig{
		Strategy:           StrategyTruncate,
		TargetMessageCount: 10,
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, reduced, 10)
	require.Equal(t, "question 25", reduced[0].TextContent())
}

func TestReducePreservesSystemMessages(t *testing.T) {
	history := append([]llm.Message{llm.SystemMessage("prompt")}, chatPairs(30)...)
	h := NewHistoryManager(HistoryConfig{
		Strategy:           StrategyTruncate,
		TargetMessageCount: 10,
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)
	require.Equal(t, llm.RoleSystem, reduced[0].Role)
	require.Len(t, reduced, 11)
}

func TestReduceNeverSplitsToolPairs(t *testing.T) {
	// Build history where the natural cut point lands between a tool-call
	// request and its result.
	var history []llm.Message
	history = append(history, chatPairs(4)...) // 8 messages

	assistantCall := llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.ContentPart{
			llm.TextPart("let me check"),
			llm.ToolCallPart("call-1", "lookup", json.RawMessage(`{}`)),
		},
	}
	history = append(history, assistantCall)                            // index 8
	history = append(history, llm.ToolResultMessage("call-1", "result", false)) // index 9
	history = append(history, chatPairs(6)...)                          // indices 10..21

	h := NewHistoryManager(HistoryConfig{
		Strategy:               StrategySummarize,
		TargetMessageCount:     13, // naive cut would land on index 9, the tool result
		SummarizationThreshold: 1,
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)
	require.True(t, reduced[0].IsSummary())

	// The cut moved back so the pair survived together.
	require.True(t, reduced[1].HasToolCalls())
	require.Equal(t, llm.RoleTool, reduced[2].Role)
	require.Equal(t, "call-1", reduced[2].ToolCallID)
}

func TestReduceDoesNotTouchPriorSummary(t *testing.T) {
	history := []llm.Message{llm.UserMessage("old summary").WithMeta(llm.MetaSummary, true)}
	history = append(history, chatPairs(20)...)

	h := NewHistoryManager(HistoryConfig{
		Strategy:               StrategySummarize,
		TargetMessageCount:     10,
		SummarizationThreshold: 1,
	})
	reduced, err := h.Reduce(context.Background(), history)
	require.NoError(t, err)

	require.Equal(t, "old summary", reduced[0].TextContent())
	require.True(t, reduced[1].IsSummary())
	require.Len(t, reduced, 12)
}

func TestSummarizerErrorLeavesHistoryIntact(t *testing.T) {
	history := chatPairs(30)
	h := NewHistoryManager(HistoryConfig{
		Strategy:               StrategySummarize,
		TargetMessageCount:     10,
		SummarizationThreshold: 1,
		Summarizer:             failingSummarizer{},
	})

	reduced, err := h.Reduce(context.Background(), history)
	require.Error(t, err)
	require.Equal(t, history, reduced)
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []llm.Message) (string, error) {
	return "", fmt.Errorf("summarizer offline")
}

func TestHeuristicSummaryMentionsToolCalls(t *testing.T) {
	msgs := []llm.Message{
		llm.UserMessage("please deploy"),
		{
			Role: llm.RoleAssistant,
			Content: []llm.ContentPart{
				llm.ToolCallPart("c1", "deploy_service", json.RawMessage(`{}`)),
			},
		},
	}
	text, err := heuristicSummary{}.Summarize(context.Background(), msgs)
	require.NoError(t, err)
	require.Contains(t, text, "please deploy")
	require.Contains(t, text, "deploy_service")
}

func TestEstimateTokens(t *testing.T) {
	msgs := []llm.Message{llm.UserMessage(strings.Repeat("a", 400))}
	require.Equal(t, 100, EstimateTokens(msgs))

	// Recorded provider usage wins over the heuristic.
	counted := llm.AssistantMessage(strings.Repeat("a", 400)).
		WithMeta(llm.MetaInputTokens, 7).
		WithMeta(llm.MetaOutputTokens, 3)
	require.Equal(t, 10, EstimateTokens([]llm.Message{counted}))

	// Tool arguments and results count toward the estimate.
	toolMsgs := []llm.Message{
		llm.ToolResultMessage("c1", strings.Repeat("b", 40), false),
	}
	require.Greater(t, EstimateTokens(toolMsgs), 9)
}
