// Package history persists per-user, per-persona conversation logs with
// time-based expiry, plus one running summary per conversation.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrStorageUnavailable marks storage-layer failures. Callers must be able
// to tell "new conversation" apart from "store is down": an empty history is
// a normal answer, this error never is.
var ErrStorageUnavailable = errors.New("history storage unavailable")

// Turn is one user utterance or one assistant reply. Immutable once written.
type Turn struct {
	ConversationKey string    `json:"conversation_key"`
	SequenceToken   string    `json:"sequence_token"`
	Role            string    `json:"role"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the turn is past its retention window at now.
func (t Turn) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Key builds the conversation key for a user talking to a persona.
func Key(userID, personaID string) string {
	return userID + ":" + personaID
}

// NewSequenceToken returns a time-ordered token for a turn. ULIDs sort
// lexicographically by creation time, so ordering by token is ordering by
// time even when two requests interleave.
func NewSequenceToken(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at.UTC()), ulid.DefaultEntropy()).String()
}

// Store is the durable turn log. Append is idempotent by
// (ConversationKey, SequenceToken); LoadRecent returns chronological order
// (most-recent-last) and never returns expired turns.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	LoadRecent(ctx context.Context, conversationKey string, maxTurns int) ([]Turn, error)
	LoadSummary(ctx context.Context, conversationKey string) (string, error)
	SaveSummary(ctx context.Context, conversationKey, summary string) error
	Close() error
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
