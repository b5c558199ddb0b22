package history

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation history in PostgreSQL. Expiry is
// enforced on the read side; an external job may additionally prune rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storageErr("connect postgres", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			conversation_key TEXT NOT NULL,
			sequence_token TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_key, sequence_token)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_key_token ON chat_turns (conversation_key, sequence_token DESC);`,
		`CREATE TABLE IF NOT EXISTS chat_summaries (
			conversation_key TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, turn Turn) error {
	// ON CONFLICT DO NOTHING makes retried writes harmless.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_turns (conversation_key, sequence_token, role, content, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (conversation_key, sequence_token) DO NOTHING`,
		turn.ConversationKey,
		turn.SequenceToken,
		turn.Role,
		turn.Text,
		turn.CreatedAt,
		turn.ExpiresAt,
	)
	if err != nil {
		return storageErr("append turn", err)
	}
	return nil
}

func (s *PostgresStore) LoadRecent(ctx context.Context, conversationKey string, maxTurns int) ([]Turn, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_key, sequence_token, role, content, created_at, expires_at
		 FROM chat_turns
		 WHERE conversation_key=$1 AND expires_at > now()
		 ORDER BY sequence_token DESC LIMIT $2`,
		conversationKey,
		maxTurns,
	)
	if err != nil {
		return nil, storageErr("query recent turns", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, maxTurns)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ConversationKey, &t.SequenceToken, &t.Role, &t.Text, &t.CreatedAt, &t.ExpiresAt); err != nil {
			return nil, storageErr("scan turn row", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate turn rows", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

func (s *PostgresStore) LoadSummary(ctx context.Context, conversationKey string) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM chat_summaries WHERE conversation_key=$1`,
		conversationKey,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("load summary", err)
	}
	return summary, nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, conversationKey, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_summaries (conversation_key, summary, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_key) DO UPDATE SET summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`,
		conversationKey,
		summary,
		time.Now().UTC(),
	)
	if err != nil {
		return storageErr("save summary", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
