// Package conversation maintains the bounded working window of a
// conversation: a running summary plus the most recent turns, compacted
// against a per-tier token budget.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sodafloatlab/homebiyori-chat/internal/history"
	"github.com/sodafloatlab/homebiyori-chat/internal/observability"
)

// ErrCompactionFailed marks a failed summarization during compaction. The
// window keeps its oversized buffer for the current call; the next call
// retries compaction.
var ErrCompactionFailed = errors.New("compaction failed")

// compactTargetRatio is how far under budget compaction aims: folding stops
// once the window costs at most 70% of the token budget, leaving headroom
// so the very next turn does not immediately re-trigger compaction. The
// exact constant is a tuning parameter, not a correctness requirement.
const compactTargetRatio = 0.7

// maxFetchTurns bounds how many raw turns Load pulls from storage before
// budget trimming. Older turns are represented by the summary only.
const maxFetchTurns = 48

// Summarizer folds a batch of turns into (or onto) a running summary.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, turns []history.Turn) (string, error)
}

// Window is the call-scoped working set for one conversation. It is built
// fresh from storage at the start of each orchestration call and discarded
// afterwards; nothing here is shared across requests.
type Window struct {
	ConversationKey string
	Summary         string
	Turns           []history.Turn
	TokenBudget     int

	// Degraded is set when storage could not be read at load time and the
	// window proceeded empty rather than failing the whole reply.
	Degraded bool
}

// EstimatedCost is the token estimate for summary plus buffered turns.
func (w *Window) EstimatedCost() int {
	cost := EstimateTokens(w.Summary)
	for _, t := range w.Turns {
		cost += EstimateTokens(t.Text) + turnOverheadTokens
	}
	return cost
}

func turnsCost(turns []history.Turn) int {
	cost := 0
	for _, t := range turns {
		cost += EstimateTokens(t.Text) + turnOverheadTokens
	}
	return cost
}

// Manager loads and appends conversation windows against a history store.
type Manager struct {
	store      history.Store
	summarizer Summarizer
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewManager(store history.Store, summarizer Summarizer, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:      store,
		summarizer: summarizer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Load reconstructs the window for a conversation: persisted summary plus
// as many recent turns as fit the token budget, most-recent-last. Storage
// failures degrade to an empty flagged window instead of failing the call.
func (m *Manager) Load(ctx context.Context, conversationKey string, tokenBudget int) *Window {
	w := &Window{
		ConversationKey: conversationKey,
		TokenBudget:     tokenBudget,
	}

	summary, err := m.store.LoadSummary(ctx, conversationKey)
	if err != nil {
		m.markDegraded(w, "load_summary", err)
		return w
	}
	w.Summary = summary

	turns, err := m.store.LoadRecent(ctx, conversationKey, maxFetchTurns)
	if err != nil {
		m.markDegraded(w, "load_recent", err)
		return w
	}

	// Keep the most recent suffix that fits alongside the summary.
	budget := tokenBudget - EstimateTokens(summary)
	kept := turns
	for len(kept) > 0 && turnsCost(kept) > budget {
		kept = kept[1:]
	}
	w.Turns = kept
	return w
}

// Append persists newTurn, adds it to the buffer, and compacts when the
// window exceeds its budget. Compaction is synchronous so the budget
// invariant holds before the next read. Summarization never deletes raw
// history; folded turns stay in storage until their own expiry.
func (m *Manager) Append(ctx context.Context, w *Window, newTurn history.Turn) error {
	if err := m.store.Append(ctx, newTurn); err != nil {
		m.metrics.StorageEvents.WithLabelValues("append_failed").Inc()
		m.logger.Warn().Err(err).Str("conversation", w.ConversationKey).Msg("turn append failed")
		return err
	}
	w.Turns = append(w.Turns, newTurn)

	if w.EstimatedCost() <= w.TokenBudget {
		return nil
	}
	return m.compact(ctx, w)
}

func (m *Manager) compact(ctx context.Context, w *Window) error {
	target := int(compactTargetRatio * float64(w.TokenBudget))

	// Fold oldest-first until the window fits the target. The newest turn is
	// never folded: a single turn larger than the whole budget is still kept
	// verbatim and everything older is summarized away.
	keep := w.Turns
	var fold []history.Turn
	for len(keep) > 1 && EstimateTokens(w.Summary)+turnsCost(keep) > target {
		fold = append(fold, keep[0])
		keep = keep[1:]
	}
	if len(fold) == 0 {
		return nil
	}

	summary, err := m.summarizer.Summarize(ctx, w.Summary, fold)
	if err != nil {
		m.metrics.CompactionsTotal.WithLabelValues("failed").Inc()
		m.logger.Warn().Err(err).Str("conversation", w.ConversationKey).Msg("compaction summarizer failed, keeping oversized buffer")
		return fmt.Errorf("%w: %v", ErrCompactionFailed, err)
	}

	w.Summary = summary
	w.Turns = keep
	m.metrics.CompactionsTotal.WithLabelValues("ok").Inc()

	if err := m.store.SaveSummary(ctx, w.ConversationKey, summary); err != nil {
		// The in-memory window is already consistent; a lost summary write
		// only means the next call re-summarizes the same turns.
		m.metrics.StorageEvents.WithLabelValues("summary_save_failed").Inc()
		m.logger.Warn().Err(err).Str("conversation", w.ConversationKey).Msg("summary persist failed")
	}
	return nil
}

func (m *Manager) markDegraded(w *Window, op string, err error) {
	w.Degraded = true
	w.Summary = ""
	w.Turns = nil
	m.metrics.StorageEvents.WithLabelValues("load_degraded").Inc()
	m.logger.Warn().Err(err).Str("conversation", w.ConversationKey).Str("op", op).Msg("history unavailable, proceeding with empty window")
}
