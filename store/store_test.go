package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentcore/llm"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

// richHistory exercises the shapes reduction correctness depends on: tool
// call/result pairs, a summary marker, and recorded token counters.
func richHistory() []llm.Message {
	assistant := llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.ContentPart{
			llm.TextPart("checking"),
			llm.ToolCallPart("call-1", "lookup", json.RawMessage(`{"key":"x"}`)),
		},
	}
	return []llm.Message{
		llm.UserMessage("summary text").WithMeta(llm.MetaSummary, true).WithMeta(llm.MetaCoversUntil, 12),
		llm.UserMessage("hello"),
		assistant.WithMeta(llm.MetaInputTokens, 42).WithMeta(llm.MetaOutputTokens, 7),
		llm.ToolResultMessage("call-1", "found it", false),
		llm.AssistantMessage("done"),
	}
}

func TestRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			original := richHistory()
			require.NoError(t, s.Append(ctx, "sess-1", original...))

			loaded, err := s.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.Len(t, loaded, len(original))

			for i, msg := range loaded {
				require.Equal(t, original[i].Role, msg.Role)
				require.Equal(t, original[i].TextContent(), msg.TextContent())
				require.Equal(t, original[i].ToolCallID, msg.ToolCallID)
			}

			// Markers survive reload.
			require.True(t, loaded[0].IsSummary())

			// Tool call/result correspondence survives reload.
			calls := loaded[2].ToolCalls()
			require.Len(t, calls, 1)
			require.Equal(t, "call-1", calls[0].ID)
			require.Equal(t, "lookup", calls[0].Name)
			require.JSONEq(t, `{"key":"x"}`, string(calls[0].Arguments))
			require.Equal(t, llm.RoleTool, loaded[3].Role)
			require.Equal(t, "call-1", loaded[3].ToolCallID)

			// Recorded usage still drives token estimation. JSON decodes
			// numbers as float64; both forms must be accepted downstream.
			tokens := loaded[2].Metadata
			require.NotNil(t, tokens)
			require.InDelta(t, 42, numeric(t, tokens[llm.MetaInputTokens]), 0)
			require.InDelta(t, 7, numeric(t, tokens[llm.MetaOutputTokens]), 0)
		})
	}
}

func numeric(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

func TestLoadUnknownSessionIsEmpty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msgs, err := s.Load(context.Background(), "never-seen")
			require.NoError(t, err)
			require.Empty(t, msgs)
		})
	}
}

func TestAppendStripsEphemeralResults(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			expansion := llm.ToolResultMessage("call-1", "container listing", false).
				WithMeta(llm.MetaContainerResult, true)
			require.NoError(t, s.Append(ctx, "sess-1",
				llm.UserMessage("hi"), expansion, llm.AssistantMessage("bye")))

			loaded, err := s.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			for _, msg := range loaded {
				require.False(t, msg.IsContainerResult())
			}
		})
	}
}

func TestReplace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "sess-1",
				llm.UserMessage("a"), llm.AssistantMessage("b"), llm.UserMessage("c")))

			reduced := []llm.Message{
				llm.UserMessage("summary").WithMeta(llm.MetaSummary, true),
				llm.UserMessage("c"),
			}
			require.NoError(t, s.Replace(ctx, "sess-1", reduced))

			loaded, err := s.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			require.True(t, loaded[0].IsSummary())
			require.Equal(t, "c", loaded[1].TextContent())
		})
	}
}

func TestClear(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "sess-1", llm.UserMessage("a")))
			require.NoError(t, s.Clear(ctx, "sess-1"))

			loaded, err := s.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.Empty(t, loaded)

			_, err = s.Meta(ctx, "sess-1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMetaLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Meta(ctx, "sess-1")
			require.ErrorIs(t, err, ErrNotFound)

			// First append creates metadata.
			require.NoError(t, s.Append(ctx, "sess-1", llm.UserMessage("a")))
			meta, err := s.Meta(ctx, "sess-1")
			require.NoError(t, err)
			require.Equal(t, "sess-1", meta.SessionID)
			require.False(t, meta.CreatedAt.IsZero())
			require.False(t, meta.LastActivity.IsZero())

			// Tags persist; CreatedAt is preserved across updates.
			meta.Tags = map[string]string{"owner": "ops"}
			created := meta.CreatedAt
			require.NoError(t, s.SaveMeta(ctx, meta))

			reloaded, err := s.Meta(ctx, "sess-1")
			require.NoError(t, err)
			require.Equal(t, map[string]string{"owner": "ops"}, reloaded.Tags)
			require.Equal(t, created.Unix(), reloaded.CreatedAt.Unix())
		})
	}
}

func TestList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "sess-b", llm.UserMessage("x")))
			require.NoError(t, s.Append(ctx, "sess-a", llm.UserMessage("y")))

			ids, err := s.List(ctx)
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"sess-a", "sess-b"}, ids)
		})
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "sess-1", llm.UserMessage("one")))
			require.NoError(t, s.Append(ctx, "sess-2", llm.UserMessage("two")))
			require.NoError(t, s.Clear(ctx, "sess-1"))

			loaded, err := s.Load(ctx, "sess-2")
			require.NoError(t, err)
			require.Len(t, loaded, 1)
			require.Equal(t, "two", loaded[0].TextContent())
		})
	}
}
