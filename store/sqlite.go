package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/martinemde/agentcore/llm"
)

// schema is the DDL executed on every open (idempotent via IF NOT EXISTS).
// Messages are stored as opaque JSON payloads so every content part and
// metadata key round-trips without a schema migration per new field.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id    TEXT PRIMARY KEY,
    created_at    TEXT NOT NULL,
    last_activity TEXT NOT NULL,
    tags          TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_sid ON messages(session_id);
`

// SQLiteStore persists sessions in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open session database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM messages WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	defer rows.Close()

	msgs := []llm.Message{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg llm.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("parse message in session %s: %w", sessionID, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append to session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := upsertSession(tx, sessionID, now); err != nil {
		return err
	}
	for _, msg := range persistable(msgs) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO messages (session_id, payload, created_at) VALUES (?, ?, ?)",
			sessionID, string(payload), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Replace(ctx context.Context, sessionID string, msgs []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := upsertSession(tx, sessionID, now); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	for _, msg := range persistable(msgs) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO messages (session_id, payload, created_at) VALUES (?, ?, ?)",
			sessionID, string(payload), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Meta(ctx context.Context, sessionID string) (SessionMeta, error) {
	var (
		meta         SessionMeta
		createdAt    string
		lastActivity string
		tags         string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, created_at, last_activity, tags FROM sessions WHERE session_id = ?",
		sessionID).Scan(&meta.SessionID, &createdAt, &lastActivity, &tags)
	if err == sql.ErrNoRows {
		return SessionMeta{}, ErrNotFound
	}
	if err != nil {
		return SessionMeta{}, fmt.Errorf("load meta for %s: %w", sessionID, err)
	}

	meta.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	meta.LastActivity, _ = time.Parse(time.RFC3339, lastActivity)
	if tags != "" && tags != "{}" {
		if err := json.Unmarshal([]byte(tags), &meta.Tags); err != nil {
			return SessionMeta{}, fmt.Errorf("parse tags for %s: %w", sessionID, err)
		}
	}
	return meta, nil
}

func (s *SQLiteStore) SaveMeta(ctx context.Context, meta SessionMeta) error {
	if meta.CreatedAt.IsZero() {
		if existing, err := s.Meta(ctx, meta.SessionID); err == nil {
			meta.CreatedAt = existing.CreatedAt
		} else {
			meta.CreatedAt = time.Now().UTC()
		}
	}
	if meta.LastActivity.IsZero() {
		meta.LastActivity = time.Now().UTC()
	}
	tags, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("serialize tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (session_id, created_at, last_activity, tags)
		VALUES (?, ?, ?, ?)`,
		meta.SessionID,
		meta.CreatedAt.UTC().Format(time.RFC3339),
		meta.LastActivity.UTC().Format(time.RFC3339),
		string(tags),
	)
	if err != nil {
		return fmt.Errorf("save meta for %s: %w", meta.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id FROM sessions ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// upsertSession creates the session row on first write and bumps activity
// on every subsequent one.
func upsertSession(tx *sql.Tx, sessionID, now string) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (session_id, created_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_activity = excluded.last_activity`,
		sessionID, now, now)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}
	return nil
}
