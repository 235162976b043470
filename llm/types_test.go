package llm

import (
	"encoding/json"
	"testing"
)

func TestMessageTextContent(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("hello "),
			ToolCallPart("call_1", "search", json.RawMessage(`{}`)),
			TextPart("world"),
		},
	}
	if got := msg.TextContent(); got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}

func TestMessageToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("let me check"),
			ToolCallPart("call_1", "search", json.RawMessage(`{"q":"go"}`)),
			ToolCallPart("call_2", "fetch", json.RawMessage(`{"url":"x"}`)),
		},
	}
	if !msg.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "search" || calls[1].Name != "fetch" {
		t.Errorf("unexpected call names: %s, %s", calls[0].Name, calls[1].Name)
	}
}

func TestMessageWithMetaCopies(t *testing.T) {
	orig := UserMessage("hi")
	marked := orig.WithMeta(MetaSummary, true)

	if !marked.IsSummary() {
		t.Error("expected marked message to be a summary")
	}
	if orig.IsSummary() {
		t.Error("WithMeta must not mutate the original message")
	}
}

func TestSummaryMetadataSurvivesJSON(t *testing.T) {
	msg := UserMessage("condensed history").
		WithMeta(MetaSummary, true).
		WithMeta(MetaCoversUntil, 42)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.IsSummary() {
		t.Error("summary marker lost in round trip")
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{
		Message: Message{
			Role: RoleAssistant,
			Content: []ContentPart{
				ThinkingPart("considering", ""),
				TextPart("the answer"),
				ToolCallPart("call_1", "lookup", json.RawMessage(`{}`)),
			},
		},
	}
	if resp.Text() != "the answer" {
		t.Errorf("expected text %q, got %q", "the answer", resp.Text())
	}
	if resp.Reasoning() != "considering" {
		t.Errorf("expected reasoning %q, got %q", "considering", resp.Reasoning())
	}
	calls := resp.ToolCallRequests()
	if len(calls) != 1 || calls[0].Name != "lookup" {
		t.Errorf("unexpected tool call requests: %+v", calls)
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	b := Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}
	sum := a.Add(b)
	if sum.InputTokens != 13 || sum.OutputTokens != 7 || sum.TotalTokens != 20 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("call_9", "file contents", false)
	if msg.Role != RoleTool {
		t.Errorf("expected role %q, got %q", RoleTool, msg.Role)
	}
	if msg.ToolCallID != "call_9" {
		t.Errorf("expected tool call id %q, got %q", "call_9", msg.ToolCallID)
	}
}
