package history

import (
	"context"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteAppendLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	user := mkTurn("u1:tama", RoleUser, "寝かしつけに2時間かかりました", base, time.Hour)
	assistant := mkTurn("u1:tama", RoleAssistant, "2時間も頑張ったんですね", base.Add(time.Second), time.Hour)

	for _, turn := range []Turn{user, assistant, user} { // third append is a retry
		if err := s.Append(ctx, turn); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	turns, err := s.LoadRecent(ctx, "u1:tama", 10)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("LoadRecent() returned %d turns, want 2 (retry deduplicated)", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("LoadRecent() order = [%s %s], want [user assistant]", turns[0].Role, turns[1].Role)
	}
	if !turns[0].CreatedAt.Equal(user.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", turns[0].CreatedAt, user.CreatedAt)
	}
	if !turns[0].ExpiresAt.Equal(user.ExpiresAt) {
		t.Fatalf("ExpiresAt = %v, want %v", turns[0].ExpiresAt, user.ExpiresAt)
	}
}

func TestSQLiteExpiryFiltering(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now().UTC()

	if err := s.Append(ctx, mkTurn("u2:hide", RoleUser, "stale", now.Add(-48*time.Hour), 24*time.Hour)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, mkTurn("u2:hide", RoleUser, "fresh", now, 24*time.Hour)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, err := s.LoadRecent(ctx, "u2:hide", 10)
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "fresh" {
		t.Fatalf("LoadRecent() = %+v, want only the fresh turn", turns)
	}
}

func TestSQLiteSummaryUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	if got, err := s.LoadSummary(ctx, "u3:madoka"); err != nil || got != "" {
		t.Fatalf("LoadSummary() before save = (%q, %v), want empty", got, err)
	}
	if err := s.SaveSummary(ctx, "u3:madoka", "v1"); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if err := s.SaveSummary(ctx, "u3:madoka", "v2"); err != nil {
		t.Fatalf("SaveSummary() upsert error = %v", err)
	}
	got, err := s.LoadSummary(ctx, "u3:madoka")
	if err != nil {
		t.Fatalf("LoadSummary() error = %v", err)
	}
	if got != "v2" {
		t.Fatalf("LoadSummary() = %q, want %q", got, "v2")
	}
}
