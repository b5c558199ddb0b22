package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	Environment      string

	AllowAnyOrigin bool

	HistoryBackend string
	DatabaseURL    string
	RedisURL       string
	SQLitePath     string
	RedisKeyTTL    time.Duration

	ModelMode    string
	ModelBaseURL string
	ModelAPIKey  string
	ModelName    string
	ModelTimeout time.Duration

	SummarizerTimeout time.Duration
	PersistTimeout    time.Duration

	SiblingBaseURL string
	SiblingTimeout time.Duration

	FallbackRotationIdle time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "homebiyori_chat"),
		Environment:      envOrDefault("APP_ENVIRONMENT", "development"),
		AllowAnyOrigin:   false,

		HistoryBackend: envOrDefault("HISTORY_BACKEND", "auto"),
		DatabaseURL:    stringsTrimSpace("DATABASE_URL"),
		RedisURL:       stringsTrimSpace("REDIS_URL"),
		SQLitePath:     stringsTrimSpace("SQLITE_PATH"),

		ModelMode:    envOrDefault("MODEL_MODE", "auto"),
		ModelBaseURL: stringsTrimSpace("MODEL_BASE_URL"),
		ModelAPIKey:  stringsTrimSpace("MODEL_API_KEY"),
		ModelName:    envOrDefault("MODEL_NAME", "gpt-4o-mini"),

		SiblingBaseURL: stringsTrimSpace("SIBLING_BASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		ModelTimeout:         15 * time.Second,
		SummarizerTimeout:    10 * time.Second,
		PersistTimeout:       2 * time.Second,
		SiblingTimeout:       3 * time.Second,
		FallbackRotationIdle: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisKeyTTL, err = durationFromEnv("HISTORY_REDIS_KEY_TTL", cfg.RedisKeyTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizerTimeout, err = durationFromEnv("SUMMARIZER_TIMEOUT", cfg.SummarizerTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistTimeout, err = durationFromEnv("PERSIST_TIMEOUT", cfg.PersistTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SiblingTimeout, err = durationFromEnv("SIBLING_TIMEOUT", cfg.SiblingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FallbackRotationIdle, err = durationFromEnv("FALLBACK_ROTATION_IDLE", cfg.FallbackRotationIdle)
	if err != nil {
		return Config{}, err
	}

	if cfg.ModelTimeout < time.Second {
		return Config{}, fmt.Errorf("MODEL_TIMEOUT must be at least 1s")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("PERSIST_TIMEOUT must be positive")
	}
	if cfg.SiblingTimeout <= 0 {
		return Config{}, fmt.Errorf("SIBLING_TIMEOUT must be positive")
	}
	switch cfg.HistoryBackend {
	case "auto", "postgres", "redis", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("HISTORY_BACKEND %q is not supported", cfg.HistoryBackend)
	}
	switch cfg.ModelMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("MODEL_MODE %q is not supported", cfg.ModelMode)
	}

	return cfg, nil
}

// Development reports whether the service runs with developer ergonomics
// (console logging, permissive defaults).
func (c Config) Development() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
