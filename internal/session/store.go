// Package session persists client-side conversation state using SQLite: the
// remote session id remembered for each named conversation, and a local
// transcript of its turns.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation has no stored session.
var ErrNotFound = errors.New("conversation not found")

// Role of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Conversation maps a local key (a CLI conversation name, a Slack thread,
// a Telegram chat) to the opaque remote session id.
type Conversation struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is a single transcript entry.
type Turn struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation"`
	SessionID       string    `json:"session_id,omitempty"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// Sessions is the subset of Store the chat channels need.
type Sessions interface {
	SessionID(key string) (string, error)
	SetSessionID(key, sessionID string) error
	AddTurn(turn *Turn) error
}

// Store manages conversation persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key        TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS turns (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_key TEXT NOT NULL,
			session_id       TEXT NOT NULL DEFAULT '',
			role             TEXT NOT NULL,
			content          TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_key);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionID returns the remote session id stored for key, or ErrNotFound.
func (s *Store) SessionID(key string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT session_id FROM conversations WHERE key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && id == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading session for %q: %w", key, err)
	}
	return id, nil
}

// SetSessionID stores sessionID for key, creating the conversation if needed.
func (s *Store) SetSessionID(key, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO conversations (key, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		key, sessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("storing session for %q: %w", key, err)
	}
	return nil
}

// Forget clears the session id of key so its next turn starts a new remote
// session. The transcript is kept.
func (s *Store) Forget(key string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET session_id = '', updated_at = ? WHERE key = ?`,
		time.Now().UTC(), key,
	)
	return err
}

// GetConversation retrieves a conversation by key.
func (s *Store) GetConversation(key string) (*Conversation, error) {
	c := &Conversation{}
	err := s.db.QueryRow(
		`SELECT key, session_id, created_at, updated_at FROM conversations WHERE key = ?`, key,
	).Scan(&c.Key, &c.SessionID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns all conversations, most recently used first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	rows, err := s.db.Query(
		`SELECT key, session_id, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(&c.Key, &c.SessionID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AddTurn appends a transcript entry and sets its ID. The conversation row is
// created if missing, so a conversation that never got a session id is still
// listed.
func (s *Store) AddTurn(turn *Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO conversations (key, created_at, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		turn.ConversationKey, turn.CreatedAt, turn.CreatedAt,
	); err != nil {
		return fmt.Errorf("touching conversation %q: %w", turn.ConversationKey, err)
	}
	result, err := tx.Exec(
		`INSERT INTO turns (conversation_key, session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		turn.ConversationKey, turn.SessionID, turn.Role, turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}
	turn.ID = id
	return nil
}

// Turns returns the last limit turns of a conversation in chronological
// order. limit <= 0 returns all of them.
func (s *Store) Turns(key string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, conversation_key, session_id, role, content, created_at FROM (
			SELECT * FROM turns WHERE conversation_key = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		key, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		t := &Turn{}
		if err := rows.Scan(&t.ID, &t.ConversationKey, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
