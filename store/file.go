package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/agentcore/llm"
)

// FileStore persists each session as one JSON document under a directory.
// Fine for single-process use; concurrent processes should use SQLiteStore.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// sessionFile is the on-disk document.
type sessionFile struct {
	Meta     SessionMeta   `json:"meta"`
	Messages []llm.Message `json:"messages"`
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []llm.Message{}, nil
	}
	return doc.Messages, nil
}

func (s *FileStore) Append(_ context.Context, sessionID string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc == nil {
		doc = &sessionFile{Meta: SessionMeta{SessionID: sessionID, CreatedAt: now}}
	}
	doc.Messages = append(doc.Messages, persistable(msgs)...)
	doc.Meta.LastActivity = now
	return s.write(sessionID, doc)
}

func (s *FileStore) Replace(_ context.Context, sessionID string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc == nil {
		doc = &sessionFile{Meta: SessionMeta{SessionID: sessionID, CreatedAt: now}}
	}
	doc.Messages = persistable(msgs)
	doc.Meta.LastActivity = now
	return s.write(sessionID, doc)
}

func (s *FileStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

func (s *FileStore) Meta(_ context.Context, sessionID string) (SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	if doc == nil {
		return SessionMeta{}, ErrNotFound
	}
	return doc.Meta, nil
}

func (s *FileStore) SaveMeta(_ context.Context, meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(meta.SessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &sessionFile{}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = doc.Meta.CreatedAt
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	doc.Meta = meta
	return s.write(meta.SessionID, doc)
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// read returns nil with no error when the session does not exist yet.
func (s *FileStore) read(sessionID string) (*sessionFile, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", sessionID, err)
	}
	return &doc, nil
}

// write replaces the session document atomically via rename.
func (s *FileStore) write(sessionID string, doc *sessionFile) error {
	if doc.Meta.SessionID == "" {
		doc.Meta.SessionID = sessionID
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", sessionID, err)
	}
	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return os.Rename(tmp, s.path(sessionID))
}
