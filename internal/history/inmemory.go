package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]Turn
	summaries map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:     make(map[string][]Turn),
		summaries: make(map[string]string),
	}
}

func (s *InMemoryStore) Append(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.turns[turn.ConversationKey]
	for _, t := range existing {
		if t.SequenceToken == turn.SequenceToken {
			// Retried write; the turn is already durable.
			return nil
		}
	}
	existing = append(existing, turn)
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].SequenceToken < existing[j].SequenceToken
	})
	s.turns[turn.ConversationKey] = existing
	return nil
}

func (s *InMemoryStore) LoadRecent(_ context.Context, conversationKey string, maxTurns int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	all := s.turns[conversationKey]
	live := make([]Turn, 0, len(all))
	for _, t := range all {
		if t.Expired(now) {
			continue
		}
		live = append(live, t)
	}
	if maxTurns > 0 && len(live) > maxTurns {
		live = live[len(live)-maxTurns:]
	}
	return live, nil
}

func (s *InMemoryStore) LoadSummary(_ context.Context, conversationKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[conversationKey], nil
}

func (s *InMemoryStore) SaveSummary(_ context.Context, conversationKey, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[conversationKey] = summary
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
