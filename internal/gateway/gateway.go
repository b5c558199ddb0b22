package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sodafloatlab/homebiyori-chat/internal/observability"
	"github.com/sodafloatlab/homebiyori-chat/internal/plan"
	"github.com/sodafloatlab/homebiyori-chat/internal/reliability"
)

// ErrSiblingUnavailable reports that a sibling service call failed and a
// safe default was substituted for its answer.
var ErrSiblingUnavailable = errors.New("sibling service unavailable")

const (
	defaultCallTimeout = 3 * time.Second
	growthRetryBase    = 200 * time.Millisecond
	growthRetryMax     = 2 * time.Second
)

// Profile is the user profile slice owned by the user service that reply
// generation cares about.
type Profile struct {
	PersonaDefault  string `json:"persona_default"`
	PraiseLevel     string `json:"praise_level"`
	InteractionMode string `json:"interaction_mode"`
}

// AccessControl is the billing service's answer on what the user may use.
type AccessControl struct {
	Tier            plan.Tier `json:"tier"`
	AllowedFeatures []string  `json:"allowed_features"`
}

// Client calls the sibling services that own user profiles, billing state
// and the growth tree. Every lookup degrades to a safe default instead of
// blocking reply generation.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With().Str("component", "gateway").Logger(),
		metrics: metrics,
	}
}

// FetchProfile returns the user's stored preferences. On any failure it
// returns an empty profile together with ErrSiblingUnavailable so callers
// can proceed with their own defaults.
func (c *Client) FetchProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, fmt.Sprintf("%s/profile/%s", c.baseURL, userID), &p); err != nil {
		c.degrade("profile", userID, err)
		return Profile{}, fmt.Errorf("fetch profile: %w", ErrSiblingUnavailable)
	}
	return p, nil
}

// FetchAccessControl returns the user's tier and feature set. Failures
// fail closed: the caller gets the free tier and ErrSiblingUnavailable,
// never an elevated tier on a guess.
func (c *Client) FetchAccessControl(ctx context.Context, userID string) (AccessControl, error) {
	var ac AccessControl
	if err := c.getJSON(ctx, fmt.Sprintf("%s/billing/access-control/%s", c.baseURL, userID), &ac); err != nil {
		c.degrade("access_control", userID, err)
		return AccessControl{Tier: plan.TierFree}, fmt.Errorf("fetch access control: %w", ErrSiblingUnavailable)
	}
	if !ac.Tier.Valid() {
		c.degrade("access_control", userID, fmt.Errorf("unknown tier %q", ac.Tier))
		return AccessControl{Tier: plan.TierFree}, fmt.Errorf("fetch access control: %w", ErrSiblingUnavailable)
	}
	return ac, nil
}

// ReportGrowth credits accepted reply characters to the user's growth
// tree. It retries once on a retryable status and otherwise gives up
// quietly; growth accounting must never affect the reply path.
func (c *Client) ReportGrowth(ctx context.Context, userID string, addedCharacters int) {
	if addedCharacters <= 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"user_id":          userID,
		"added_characters": addedCharacters,
	})
	if err != nil {
		return
	}

	url := fmt.Sprintf("%s/tree/growth", c.baseURL)
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reliability.Backoff(attempt, growthRetryBase, growthRetryMax)):
			}
		}
		status, err := c.postJSON(ctx, url, payload)
		if err == nil && status < 300 {
			return
		}
		if err == nil && !reliability.RetryableStatus(status) {
			c.degrade("growth", userID, fmt.Errorf("status %d", status))
			return
		}
		if attempt == 1 {
			if err == nil {
				err = fmt.Errorf("status %d", status)
			}
			c.degrade("growth", userID, err)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, url string, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}

func (c *Client) degrade(capability, userID string, err error) {
	if c.metrics != nil {
		c.metrics.SiblingFallbacks.WithLabelValues(capability).Inc()
	}
	c.logger.Warn().
		Str("capability", capability).
		Str("user_id", userID).
		Err(err).
		Msg("sibling service call failed, using safe default")
}
