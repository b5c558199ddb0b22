package history

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StoreConfig selects and configures a history backend.
type StoreConfig struct {
	// Backend is one of "auto", "postgres", "redis", "sqlite", "memory".
	Backend     string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string
	// RedisKeyTTL bounds how long an idle conversation key survives in
	// Redis. Zero means the default (just over the longest tier retention).
	RedisKeyTTL time.Duration
}

// NewStore creates the configured backend. In auto mode it prefers
// postgres, then redis, then sqlite, and falls back to in-memory so a bare
// dev environment still runs.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "auto":
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			return NewPostgresStore(ctx, cfg.DatabaseURL)
		}
		if strings.TrimSpace(cfg.RedisURL) != "" {
			return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKeyTTL)
		}
		if strings.TrimSpace(cfg.SQLitePath) != "" {
			return NewSQLiteStore(ctx, cfg.SQLitePath)
		}
		return NewInMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres history backend requires a database URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("redis history backend requires a redis URL")
		}
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKeyTTL)
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("sqlite history backend requires a file path")
		}
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.Backend)
	}
}
