// Package sqlite implements the persistent-store contract over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wavelink-im/realtime/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	last_activity_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chat_members (
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	file_url TEXT NOT NULL DEFAULT '',
	reply_to_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
CREATE TABLE IF NOT EXISTS read_markers (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	read_at TIMESTAMP NOT NULL,
	PRIMARY KEY (message_id, user_id)
);
CREATE TABLE IF NOT EXISTS chat_reads (
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	last_read_at TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	caller_id TEXT NOT NULL,
	callee_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	duration INTEGER
);
CREATE TABLE IF NOT EXISTS user_status (
	user_id TEXT PRIMARY KEY,
	last_seen TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS contacts (
	user_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (user_id, contact_id)
);
`

// New opens (and if needed initializes) a SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ChatMembership returns the membership record or store.ErrNotFound.
func (s *SQLiteStore) ChatMembership(ctx context.Context, chatID, userID string) (*store.Member, error) {
	query := `
		SELECT chat_id, user_id, joined_at
		FROM chat_members
		WHERE chat_id = ? AND user_id = ?
	`
	var m store.Member
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&m.ChatID, &m.UserID, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return &m, nil
}

// ChatMemberIDs lists the user IDs of all members of a chat.
func (s *SQLiteStore) ChatMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM chat_members WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateMessage inserts the message and touches the chat's last activity.
func (s *SQLiteStore) CreateMessage(ctx context.Context, chatID, senderID string, payload store.MessagePayload) (*store.Message, error) {
	msg := &store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      payload.Type,
		Content:   payload.Content,
		FileURL:   payload.FileURL,
		ReplyToID: payload.ReplyToID,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, type, content, file_url, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Type, msg.Content, msg.FileURL, msg.ReplyToID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, last_activity_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity_at = excluded.last_activity_at
	`, msg.ChatID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("touch chat activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// GetMessage fetches a message by ID or returns store.ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*store.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, type, content, file_url, reply_to_id, created_at
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Type,
		&msg.Content,
		&msg.FileURL,
		&msg.ReplyToID,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &msg, nil
}

// MarkRead records the read marker and advances the reader's last-read
// pointer in one transaction. Idempotent: a repeated call returns the
// timestamp of the first.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, chatID, userID string, at time.Time) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return at, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO read_markers (message_id, user_id, read_at) VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING
	`, messageID, userID, at)
	if err != nil {
		return at, fmt.Errorf("insert read marker: %w", err)
	}

	var readAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT read_at FROM read_markers WHERE message_id = ? AND user_id = ?
	`, messageID, userID).Scan(&readAt)
	if err != nil {
		return at, fmt.Errorf("query read marker: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_reads (chat_id, user_id, last_read_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET last_read_at = MAX(last_read_at, excluded.last_read_at)
	`, chatID, userID, readAt)
	if err != nil {
		return at, fmt.Errorf("advance last read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return at, fmt.Errorf("commit: %w", err)
	}
	return readAt, nil
}

// CreateCall inserts a new call record.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, chat_id, caller_id, callee_id, kind, state, started_at, ended_at, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, call.ID, call.ChatID, call.CallerID, call.CalleeID, call.Kind, call.State, call.StartedAt, call.EndedAt, call.Duration)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCall applies a partial update to a call record.
func (s *SQLiteStore) UpdateCall(ctx context.Context, callID string, patch store.CallPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET
			state = COALESCE(?, state),
			ended_at = COALESCE(?, ended_at),
			duration = COALESCE(?, duration)
		WHERE id = ?
	`, patch.State, patch.EndedAt, patch.Duration, callID)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RelevantPeerIDs returns chat co-members plus users holding userID as an
// accepted or pending contact.
func (s *SQLiteStore) RelevantPeerIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT cm2.user_id
		FROM chat_members cm1
		JOIN chat_members cm2 ON cm1.chat_id = cm2.chat_id
		WHERE cm1.user_id = ? AND cm2.user_id != ?
		UNION
		SELECT user_id FROM contacts
		WHERE contact_id = ? AND status IN ('accepted', 'pending') AND user_id != ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query relevant peers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetLastSeen upserts the user's last-seen timestamp.
func (s *SQLiteStore) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_status (user_id, last_seen) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_seen = excluded.last_seen
	`, userID, at)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}
