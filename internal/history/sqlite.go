package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore is a single-node file-backed store for local development.
// Timestamps are stored as Unix milliseconds so expiry comparisons are
// plain integer comparisons.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			conversation_key TEXT NOT NULL,
			sequence_token TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conversation_key, sequence_token)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_summaries (
			conversation_key TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, storageErr("init sqlite schema", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, turn Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_turns
		 (conversation_key, sequence_token, role, content, created_at_ms, expires_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ConversationKey,
		turn.SequenceToken,
		turn.Role,
		turn.Text,
		turn.CreatedAt.UTC().UnixMilli(),
		turn.ExpiresAt.UTC().UnixMilli(),
	)
	if err != nil {
		return storageErr("append turn", err)
	}
	return nil
}

func (s *SQLiteStore) LoadRecent(ctx context.Context, conversationKey string, maxTurns int) ([]Turn, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_key, sequence_token, role, content, created_at_ms, expires_at_ms
		 FROM chat_turns
		 WHERE conversation_key = ? AND expires_at_ms > ?
		 ORDER BY sequence_token DESC LIMIT ?`,
		conversationKey,
		time.Now().UTC().UnixMilli(),
		maxTurns,
	)
	if err != nil {
		return nil, storageErr("query recent turns", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, maxTurns)
	for rows.Next() {
		var t Turn
		var createdMS, expiresMS int64
		if err := rows.Scan(&t.ConversationKey, &t.SequenceToken, &t.Role, &t.Text, &createdMS, &expiresMS); err != nil {
			return nil, storageErr("scan turn row", err)
		}
		t.CreatedAt = time.UnixMilli(createdMS).UTC()
		t.ExpiresAt = time.UnixMilli(expiresMS).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate turn rows", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLiteStore) LoadSummary(ctx context.Context, conversationKey string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM chat_summaries WHERE conversation_key = ?`,
		conversationKey,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("load summary", err)
	}
	return summary, nil
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, conversationKey, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (conversation_key, summary, updated_at_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT (conversation_key) DO UPDATE SET summary = excluded.summary, updated_at_ms = excluded.updated_at_ms`,
		conversationKey,
		summary,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return storageErr("save summary", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
