package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	pgSchema = `CREATE TABLE IF NOT EXISTS chat_history (
	id SERIAL PRIMARY KEY,
	session_id VARCHAR(255) NOT NULL,
	user_id UUID,
	type VARCHAR(50) NOT NULL,
	content TEXT NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
	pgSessionIndex = `CREATE INDEX IF NOT EXISTS idx_session_id ON chat_history(session_id)`
	pgUserIndex    = `CREATE INDEX IF NOT EXISTS idx_user_id ON chat_history(user_id)`

	pgInsertQuery = `INSERT INTO chat_history (session_id, type, content, user_id) VALUES ($1, $2, $3, $4)`

	pgRecentByUserQuery = `SELECT session_id, user_id, type, content, timestamp FROM (
	SELECT id, session_id, user_id, type, content, timestamp FROM chat_history
	WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2
) sub ORDER BY timestamp ASC, id ASC`

	pgRecentBySessionQuery = `SELECT session_id, user_id, type, content, timestamp FROM (
	SELECT id, session_id, user_id, type, content, timestamp FROM chat_history
	WHERE session_id = $1 AND user_id IS NULL ORDER BY timestamp DESC, id DESC LIMIT $2
) sub ORDER BY timestamp ASC, id ASC`

	pgGuestCountQuery = `SELECT COUNT(*) FROM chat_history WHERE session_id = $1 AND type = 'human' AND user_id IS NULL`

	pgLinkQuery = `UPDATE chat_history SET user_id = $2 WHERE session_id = $1 AND user_id IS NULL`
)

type messageRow struct {
	SessionID string         `db:"session_id"`
	UserID    sql.NullString `db:"user_id"`
	Type      string         `db:"type"`
	Content   string         `db:"content"`
	Timestamp time.Time      `db:"timestamp"`
}

// PostgresStore implements Store on the chat_history table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on a shared pool.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres history store requires a database handle")
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates chat_history and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{pgSchema, pgSessionIndex, pgUserIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure chat_history schema: %w", err)
		}
	}
	return nil
}

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, pgInsertQuery, msg.SessionID, msg.Type, msg.Content, nullable(msg.UserID)); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, sessionID, userID string, limit int) ([]Message, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	var rows []messageRow
	var err error
	if userID != "" {
		err = s.db.SelectContext(ctx, &rows, pgRecentByUserQuery, userID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, pgRecentBySessionQuery, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}

	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			SessionID: r.SessionID,
			UserID:    r.UserID.String,
			Type:      r.Type,
			Content:   r.Content,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// CountGuestMessages implements Store.
func (s *PostgresStore) CountGuestMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, pgGuestCountQuery, sessionID); err != nil {
		return 0, fmt.Errorf("count guest messages: %w", err)
	}
	return n, nil
}

// Link implements Store.
func (s *PostgresStore) Link(ctx context.Context, sessionID, userID string) (int64, error) {
	if sessionID == "" || userID == "" {
		return 0, fmt.Errorf("%w: session id and user id are required", ErrInvalidMessage)
	}
	if err := ValidateUserID(userID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, pgLinkQuery, sessionID, userID)
	if err != nil {
		return 0, fmt.Errorf("link guest history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("link guest history: %w", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
