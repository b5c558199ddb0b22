package history

import (
	"context"
	"testing"
	"time"
)

func mkTurn(key, role, text string, createdAt time.Time, retention time.Duration) Turn {
	return Turn{
		ConversationKey: key,
		SequenceToken:   NewSequenceToken(createdAt),
		Role:            role,
		Text:            text,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(retention),
	}
}

func TestAppendIsIdempotentBySequenceToken(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	turn := mkTurn("u1:tama", RoleUser, "今日は疲れました", time.Now().UTC(), time.Hour)
	if err := s.Append(ctx, turn); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// Retried write with the same token must be a no-op.
	if err := s.Append(ctx, turn); err != nil {
		t.Fatalf("retried Append() error = %v", err)
	}

	turns, err := s.LoadRecent(ctx, "u1:tama", 10)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("LoadRecent() returned %d turns, want 1", len(turns))
	}
}

func TestLoadRecentFiltersExpiredTurns(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()

	expired := mkTurn("u1:tama", RoleUser, "old", now.Add(-2*time.Hour), time.Hour)
	live := mkTurn("u1:tama", RoleAssistant, "new", now, time.Hour)
	if err := s.Append(ctx, expired); err != nil {
		t.Fatalf("Append(expired) error = %v", err)
	}
	if err := s.Append(ctx, live); err != nil {
		t.Fatalf("Append(live) error = %v", err)
	}

	turns, err := s.LoadRecent(ctx, "u1:tama", 10)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "new" {
		t.Fatalf("LoadRecent() = %+v, want only the live turn", turns)
	}
}

func TestLoadRecentOrdersChronologicallyAndLimits(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Now().UTC().Add(-time.Minute)

	for i, text := range []string{"a", "b", "c", "d"} {
		turn := mkTurn("u1:madoka", RoleUser, text, base.Add(time.Duration(i)*time.Second), time.Hour)
		if err := s.Append(ctx, turn); err != nil {
			t.Fatalf("Append(%q) error = %v", text, err)
		}
	}

	turns, err := s.LoadRecent(ctx, "u1:madoka", 2)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("LoadRecent() returned %d turns, want 2", len(turns))
	}
	if turns[0].Text != "c" || turns[1].Text != "d" {
		t.Fatalf("LoadRecent() = [%s %s], want most-recent-last [c d]", turns[0].Text, turns[1].Text)
	}
}

func TestLoadRecentNewConversationIsEmptyNotError(t *testing.T) {
	turns, err := NewInMemoryStore().LoadRecent(context.Background(), "nobody:tama", 10)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v, want nil for a new conversation", err)
	}
	if len(turns) != 0 {
		t.Fatalf("LoadRecent() = %d turns, want 0", len(turns))
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	got, err := s.LoadSummary(ctx, "u1:hide")
	if err != nil || got != "" {
		t.Fatalf("LoadSummary() before save = (%q, %v), want empty", got, err)
	}

	if err := s.SaveSummary(ctx, "u1:hide", "first"); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if err := s.SaveSummary(ctx, "u1:hide", "second"); err != nil {
		t.Fatalf("SaveSummary() overwrite error = %v", err)
	}

	got, err = s.LoadSummary(ctx, "u1:hide")
	if err != nil {
		t.Fatalf("LoadSummary() error = %v", err)
	}
	if got != "second" {
		t.Fatalf("LoadSummary() = %q, want %q (last writer wins)", got, "second")
	}
}

func TestSequenceTokensSortByTime(t *testing.T) {
	earlier := NewSequenceToken(time.Now().UTC())
	later := NewSequenceToken(time.Now().UTC().Add(time.Second))
	if !(earlier < later) {
		t.Fatalf("sequence tokens out of order: %q >= %q", earlier, later)
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, StoreConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("NewStore(memory) error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(memory) = %T, want *InMemoryStore", s)
	}

	// Auto with nothing configured must still produce a working store.
	s, err = NewStore(ctx, StoreConfig{Backend: "auto"})
	if err != nil {
		t.Fatalf("NewStore(auto) error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(auto, empty) = %T, want *InMemoryStore", s)
	}

	if _, err := NewStore(ctx, StoreConfig{Backend: "dynamodb"}); err == nil {
		t.Fatal("NewStore(dynamodb) expected error for unsupported backend")
	}
	if _, err := NewStore(ctx, StoreConfig{Backend: "postgres"}); err == nil {
		t.Fatal("NewStore(postgres) without URL expected error")
	}
}
