// Package plan maps subscription tiers to the resource limits they grant:
// conversation memory size, reply length, and history retention.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription level of a user.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// ParseTier parses a tier string. Unknown values are an error so callers
// decide their own safe default instead of silently upgrading anyone.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// TokenBudget is the estimated-token ceiling for the working conversation
// window (running summary plus buffered turns).
func (t Tier) TokenBudget() int {
	if t == TierPremium {
		return 4096
	}
	return 1024
}

// ReplyTargetChars is the reply length the prompt asks the model to aim for.
func (t Tier) ReplyTargetChars() int {
	if t == TierPremium {
		return 400
	}
	return 150
}

// Retention is how long a turn written under this tier stays readable.
// It is stamped onto the turn at write time; later tier changes do not
// rewrite already-stored turns.
func (t Tier) Retention() time.Duration {
	if t == TierPremium {
		return 180 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
