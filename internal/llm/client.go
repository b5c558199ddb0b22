// Package llm is the client side of the text-completion service that
// produces replies and conversation summaries. The model is opaque: one
// request, one completion, with optional streaming deltas along the way.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelTimeout marks an invocation that ran out of time.
	ErrModelTimeout = errors.New("model invocation timed out")
	// ErrModelError marks transport or upstream failures.
	ErrModelError = errors.New("model invocation failed")
)

// CompletionRequest is one completion call.
type CompletionRequest struct {
	ConversationKey string
	Prompt          string
	MaxTokens       int
	Temperature     float64
}

// CompletionResponse is the final completion after any streaming.
type CompletionResponse struct {
	Text string
}

// DeltaHandler receives streaming text fragments. Deltas are advisory;
// the returned CompletionResponse.Text is authoritative.
type DeltaHandler func(delta string) error

// Client invokes the completion service. Implementations make exactly one
// attempt per call; retry policy belongs to the caller.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (CompletionResponse, error)
}

// Config controls client construction.
type Config struct {
	// Mode is "auto", "http", or "mock".
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
}

// NewClient builds a client for the configured mode. Auto uses HTTP when a
// base URL is configured and otherwise the deterministic mock, so a bare
// dev environment still answers.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
		}
		return NewMockClient(), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("model base URL is required for http mode")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported model client mode %q", cfg.Mode)
	}
}
