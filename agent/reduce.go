package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/agentcore/llm"
)

// SummaryProvider synthesizes the text of a summary message from the span
// of messages it replaces.
type SummaryProvider interface {
	Summarize(ctx context.Context, msgs []llm.Message) (string, error)
}

// truncate drops the oldest non-system messages past the cut point.
func (h *HistoryManager) truncate(history []llm.Message, start, excess int) ([]llm.Message, error) {
	cut := safeCut(history, start, start+excess)
	if cut <= start {
		return history, nil
	}

	h.logger.Debug("truncating history", "dropped", cut-start, "kept", len(history)-cut)

	out := make([]llm.Message, 0, len(history)-(cut-start))
	out = append(out, history[:start]...)
	out = append(out, history[cut:]...)
	return out, nil
}

// summarize replaces the contiguous oldest span with a single synthesized,
// summary-marked message.
func (h *HistoryManager) summarize(ctx context.Context, history []llm.Message, start, excess int) ([]llm.Message, error) {
	threshold := h.config.SummarizationThreshold
	if threshold < 1 {
		threshold = 1
	}
	if excess < threshold {
		return history, nil
	}

	cut := safeCut(history, start, start+excess)
	if cut <= start {
		return history, nil
	}

	span := history[start:cut]
	provider := h.config.Summarizer
	if provider == nil {
		provider = heuristicSummary{}
	}
	text, err := provider.Summarize(ctx, span)
	if err != nil {
		return history, fmt.Errorf("summarize %d messages: %w", len(span), err)
	}

	summary := llm.UserMessage(text).
		WithMeta(llm.MetaSummary, true).
		WithMeta(llm.MetaCoversUntil, cut-1)

	h.logger.Debug("summarized history", "replaced", len(span), "kept", len(history)-cut)

	out := make([]llm.Message, 0, len(history)-len(span)+1)
	out = append(out, history[:start]...)
	out = append(out, summary)
	out = append(out, history[cut:]...)
	return out, nil
}

// heuristicSummary digests a span without a model call: role-tagged
// snippets, enough for the model to keep its bearings.
type heuristicSummary struct{}

const summarySnippetLen = 120

func (heuristicSummary) Summarize(_ context.Context, msgs []llm.Message) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Conversation summary covering %d earlier messages]\n", len(msgs))
	for _, msg := range msgs {
		text := strings.TrimSpace(msg.TextContent())
		if text == "" {
			if msg.HasToolCalls() {
				names := make([]string, 0, 2)
				for _, tc := range msg.ToolCalls() {
					names = append(names, tc.Name)
				}
				text = "(called " + strings.Join(names, ", ") + ")"
			} else {
				continue
			}
		}
		if len(text) > summarySnippetLen {
			text = text[:summarySnippetLen] + "..."
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ModelSummaryProvider asks the model capability to compress the span.
type ModelSummaryProvider struct {
	Client *llm.Client
	Model  string
}

const summarizePrompt = "Summarize the conversation so far into a compact brief. " +
	"Preserve decisions, open tasks, file names, and any constraints the user stated. " +
	"Write it so the conversation can continue seamlessly from the summary."

func (p *ModelSummaryProvider) Summarize(ctx context.Context, msgs []llm.Message) (string, error) {
	request := llm.Request{
		Model:    p.Model,
		Messages: append(append([]llm.Message{llm.SystemMessage(summarizePrompt)}, msgs...), llm.UserMessage("Summarize the conversation above.")),
	}
	resp, err := p.Client.CompleteWithRetry(ctx, request)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
