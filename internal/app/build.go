package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sodafloatlab/homebiyori-chat/internal/chat"
	"github.com/sodafloatlab/homebiyori-chat/internal/config"
	"github.com/sodafloatlab/homebiyori-chat/internal/conversation"
	"github.com/sodafloatlab/homebiyori-chat/internal/gateway"
	"github.com/sodafloatlab/homebiyori-chat/internal/history"
	"github.com/sodafloatlab/homebiyori-chat/internal/httpapi"
	"github.com/sodafloatlab/homebiyori-chat/internal/llm"
	"github.com/sodafloatlab/homebiyori-chat/internal/observability"
	"github.com/sodafloatlab/homebiyori-chat/internal/persona"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *chat.Orchestrator
	Store        history.Store
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	registry, err := persona.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("persona registry init failed: %w", err)
	}

	store, err := history.NewStore(ctx, history.StoreConfig{
		Backend:     cfg.HistoryBackend,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		SQLitePath:  cfg.SQLitePath,
		RedisKeyTTL: cfg.RedisKeyTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	model, err := llm.NewClient(llm.Config{
		Mode:    cfg.ModelMode,
		BaseURL: cfg.ModelBaseURL,
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.ModelName,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model client init failed: %w", err)
	}

	summarizer := llm.NewSummarizer(model, cfg.SummarizerTimeout)
	window := conversation.NewManager(store, summarizer, logger, metrics)

	var sibling chat.SiblingClient
	if strings.TrimSpace(cfg.SiblingBaseURL) != "" {
		sibling = gateway.NewClient(cfg.SiblingBaseURL, cfg.SiblingTimeout, logger, metrics)
	} else {
		logger.Warn().Msg("SIBLING_BASE_URL not set, all users get free-tier defaults")
	}

	orchestrator := chat.NewOrchestrator(registry, window, model, sibling, logger, metrics, chat.OrchestratorConfig{
		ModelTimeout:        cfg.ModelTimeout,
		PersistTimeout:      cfg.PersistTimeout,
		RotationIdleTimeout: cfg.FallbackRotationIdle,
	})

	api := httpapi.New(cfg, orchestrator, registry, store, metrics, logger)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Store:        store,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
