// Package store persists conversation histories across runs. All backends
// round-trip messages exactly, including the metadata bag: summary markers
// and recorded token counters must survive save and reload or reduction
// behaves differently after a restart.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/martinemde/agentcore/llm"
)

// ErrNotFound is returned when a session has no stored metadata.
var ErrNotFound = errors.New("session not found")

// SessionMeta is the per-session record kept alongside the messages.
type SessionMeta struct {
	SessionID    string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Store persists session histories. Loading an unknown session returns an
// empty history, not an error; sessions come into existence on first append.
type Store interface {
	// Load returns the stored history for a session.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)

	// Append adds messages to the end of a session's history. Ephemeral
	// container results are stripped; they are only meaningful within the
	// turn that produced them.
	Append(ctx context.Context, sessionID string, msgs ...llm.Message) error

	// Replace overwrites a session's history, used after reduction shrinks
	// the window.
	Replace(ctx context.Context, sessionID string, msgs []llm.Message) error

	// Clear removes a session's messages and metadata.
	Clear(ctx context.Context, sessionID string) error

	// Meta returns the session metadata, or ErrNotFound.
	Meta(ctx context.Context, sessionID string) (SessionMeta, error)

	// SaveMeta creates or updates session metadata.
	SaveMeta(ctx context.Context, meta SessionMeta) error

	// List returns all known session ids.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// persistable filters out messages that must not outlive their turn.
func persistable(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsContainerResult() {
			continue
		}
		out = append(out, msg)
	}
	return out
}
