package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.HistoryBackend != "auto" {
		t.Fatalf("HistoryBackend = %q, want %q", cfg.HistoryBackend, "auto")
	}
	if cfg.ModelMode != "auto" {
		t.Fatalf("ModelMode = %q, want %q", cfg.ModelMode, "auto")
	}
	if cfg.ModelBaseURL != "" {
		t.Fatalf("ModelBaseURL = %q, want empty default", cfg.ModelBaseURL)
	}
	if cfg.ModelTimeout != 15*time.Second {
		t.Fatalf("ModelTimeout = %v, want 15s", cfg.ModelTimeout)
	}
	if cfg.SiblingTimeout != 3*time.Second {
		t.Fatalf("SiblingTimeout = %v, want 3s", cfg.SiblingTimeout)
	}
	if !cfg.Development() {
		t.Fatal("default environment should count as development")
	}
}

func TestLoadUsesExplicitModelBaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MODEL_BASE_URL", "http://localhost:7777/v1")
	t.Setenv("MODEL_TIMEOUT", "20s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ModelBaseURL != "http://localhost:7777/v1" {
		t.Fatalf("ModelBaseURL = %q, want explicit value", cfg.ModelBaseURL)
	}
	if cfg.ModelTimeout != 20*time.Second {
		t.Fatalf("ModelTimeout = %v, want 20s", cfg.ModelTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"unknown backend":    {"HISTORY_BACKEND", "dynamodb"},
		"unknown model mode": {"MODEL_MODE", "grpc"},
		"short timeout":      {"MODEL_TIMEOUT", "100ms"},
		"garbage duration":   {"SIBLING_TIMEOUT", "fast"},
		"garbage bool":       {"APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s expected error", kv[0], kv[1])
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ENVIRONMENT",
		"APP_ALLOW_ANY_ORIGIN",
		"HISTORY_BACKEND",
		"HISTORY_REDIS_KEY_TTL",
		"DATABASE_URL",
		"REDIS_URL",
		"SQLITE_PATH",
		"MODEL_MODE",
		"MODEL_BASE_URL",
		"MODEL_API_KEY",
		"MODEL_NAME",
		"MODEL_TIMEOUT",
		"SUMMARIZER_TIMEOUT",
		"PERSIST_TIMEOUT",
		"SIBLING_BASE_URL",
		"SIBLING_TIMEOUT",
		"FALLBACK_ROTATION_IDLE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
