package chat

import (
	"context"
	"sync"
	"time"
)

// fallbackRotation hands out canned-reply indexes per conversation so a
// user who hits consecutive failures does not read the same apology twice
// in a row. State is in-process only; losing it on restart just restarts
// the rotation.
type fallbackRotation struct {
	mu          sync.Mutex
	entries     map[string]*rotationEntry
	idleTimeout time.Duration
}

type rotationEntry struct {
	next     int
	lastUsed time.Time
}

func newFallbackRotation(idleTimeout time.Duration) *fallbackRotation {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &fallbackRotation{
		entries:     make(map[string]*rotationEntry),
		idleTimeout: idleTimeout,
	}
}

// Next returns the index to use from a pool of n replies and advances the
// rotation for the given conversation key.
func (r *fallbackRotation) Next(key string, n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &rotationEntry{}
		r.entries[key] = e
	}
	idx := e.next % n
	e.next = idx + 1
	e.lastUsed = time.Now().UTC()
	return idx
}

// StartJanitor prunes rotation state for conversations that have not hit a
// fallback recently. It returns once the goroutine is running.
func (r *fallbackRotation) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.pruneIdle()
			}
		}
	}()
}

func (r *fallbackRotation) pruneIdle() {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if now.Sub(e.lastUsed) >= r.idleTimeout {
			delete(r.entries, key)
		}
	}
}
