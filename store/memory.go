package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/martinemde/agentcore/llm"
)

// MemoryStore keeps sessions in process memory. Useful for tests and for
// callers that manage persistence themselves.
type MemoryStore struct {
	sessions map[string][]llm.Message
	meta     map[string]SessionMeta
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]llm.Message),
		meta:     make(map[string]SessionMeta),
	}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], persistable(msgs)...)
	s.touch(sessionID)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, sessionID string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement := persistable(msgs)
	out := make([]llm.Message, len(replacement))
	copy(out, replacement)
	s.sessions[sessionID] = out
	s.touch(sessionID)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.meta, sessionID)
	return nil
}

func (s *MemoryStore) Meta(_ context.Context, sessionID string) (SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[sessionID]
	if !ok {
		return SessionMeta{}, ErrNotFound
	}
	return meta, nil
}

func (s *MemoryStore) SaveMeta(_ context.Context, meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.meta[meta.SessionID]; ok && meta.CreatedAt.IsZero() {
		meta.CreatedAt = existing.CreatedAt
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	s.meta[meta.SessionID] = meta
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	for id := range s.meta {
		if _, ok := s.sessions[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }

// touch updates activity metadata, creating it on first write. Callers hold
// the write lock.
func (s *MemoryStore) touch(sessionID string) {
	now := time.Now().UTC()
	meta, ok := s.meta[sessionID]
	if !ok {
		meta = SessionMeta{SessionID: sessionID, CreatedAt: now}
	}
	meta.LastActivity = now
	s.meta[sessionID] = meta
}
