// Package reliability classifies upstream failures and computes
// deterministic backoff. The orchestrator itself never retries (retries
// belong to the caller); only the fire-and-forget growth report uses
// backoff for its single in-process retry.
package reliability

import "time"

// RetryableStatus reports whether an HTTP status from a sibling service or
// the model endpoint is worth a retry by whoever owns the retry policy.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Backoff computes a deterministic capped exponential backoff for the
// given zero-based attempt number.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
