package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sodafloatlab/homebiyori-chat/internal/conversation"
	"github.com/sodafloatlab/homebiyori-chat/internal/gateway"
	"github.com/sodafloatlab/homebiyori-chat/internal/history"
	"github.com/sodafloatlab/homebiyori-chat/internal/llm"
	"github.com/sodafloatlab/homebiyori-chat/internal/observability"
	"github.com/sodafloatlab/homebiyori-chat/internal/persona"
	"github.com/sodafloatlab/homebiyori-chat/internal/plan"
	"github.com/sodafloatlab/homebiyori-chat/internal/prompt"
)

var (
	// ErrInvalidRequest marks caller mistakes that should become a 400,
	// never a fallback reply.
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownPersona = fmt.Errorf("%w: unknown persona", ErrInvalidRequest)
)

const (
	defaultModelTimeout   = 15 * time.Second
	defaultPersistTimeout = 2 * time.Second

	// maxMessageRunes caps user input before any prompt work happens.
	maxMessageRunes = 2000

	// replyCeilingFactor times the tier's target length is the point past
	// which a model reply is treated as runaway output.
	replyCeilingFactor = 4
)

// SiblingClient is the slice of the gateway the orchestrator needs.
type SiblingClient interface {
	FetchProfile(ctx context.Context, userID string) (gateway.Profile, error)
	FetchAccessControl(ctx context.Context, userID string) (gateway.AccessControl, error)
	ReportGrowth(ctx context.Context, userID string, addedCharacters int)
}

// GenerateRequest is one reply request for one persona.
type GenerateRequest struct {
	UserID       string
	PersonaID    string
	MoodID       string
	Message      string
	PriorReplies []prompt.GroupReply
}

// GenerateResult is the outcome of one reply request. A fallback reply is
// still a successful result from the caller's point of view.
type GenerateResult struct {
	PersonaID    string
	ReplyText    string
	UsedFallback bool
	Degraded     bool
}

// Orchestrator drives a reply request through context gathering, prompt
// composition, the model call, validation and persistence. It degrades to
// a canned persona reply whenever the model path fails, and it never lets
// a persistence problem take down an already-generated reply.
type Orchestrator struct {
	personas *persona.Registry
	window   *conversation.Manager
	model    llm.Client
	sibling  SiblingClient
	rotation *fallbackRotation
	logger   zerolog.Logger
	metrics  *observability.Metrics

	modelTimeout   time.Duration
	persistTimeout time.Duration
}

type OrchestratorConfig struct {
	ModelTimeout        time.Duration
	PersistTimeout      time.Duration
	RotationIdleTimeout time.Duration
}

func NewOrchestrator(
	personas *persona.Registry,
	window *conversation.Manager,
	model llm.Client,
	sibling SiblingClient,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		personas:       personas,
		window:         window,
		model:          model,
		sibling:        sibling,
		rotation:       newFallbackRotation(cfg.RotationIdleTimeout),
		logger:         logger.With().Str("component", "orchestrator").Logger(),
		metrics:        metrics,
		modelTimeout:   cfg.ModelTimeout,
		persistTimeout: cfg.PersistTimeout,
	}
}

// StartJanitor launches background pruning of idle fallback-rotation
// state. Call it once at startup.
func (o *Orchestrator) StartJanitor(ctx context.Context) {
	o.rotation.StartJanitor(ctx, time.Minute)
}

// Generate produces one persona reply for one user message. onDelta, when
// non-nil, receives text fragments as the model streams them; fallback
// replies are delivered through it as a single fragment.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest, onDelta llm.DeltaHandler) (GenerateResult, error) {
	started := time.Now()
	res, err := o.generate(ctx, req, started, onDelta)
	o.metrics.ObserveReplyStage("reply_total", time.Since(started))
	switch {
	case err != nil:
		o.metrics.RepliesTotal.WithLabelValues("error").Inc()
	case res.UsedFallback:
		o.metrics.RepliesTotal.WithLabelValues("fallback").Inc()
	default:
		o.metrics.RepliesTotal.WithLabelValues("ok").Inc()
	}
	return res, err
}

func (o *Orchestrator) generate(ctx context.Context, req GenerateRequest, started time.Time, onDelta llm.DeltaHandler) (GenerateResult, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" {
		return GenerateResult{}, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if req.Message == "" {
		return GenerateResult{}, fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		return GenerateResult{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRequest, maxMessageRunes)
	}

	mood, err := persona.ParseMood(req.MoodID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// GATHER_CONTEXT: persona resolution, tier lookup, window load.
	spec, err := o.resolvePersona(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}
	tier, tierDegraded := o.resolveTier(ctx, req.UserID)

	key := history.Key(req.UserID, spec.ID)
	window := o.window.Load(ctx, key, tier.TokenBudget())
	o.metrics.ObserveReplyStage("gather_context", time.Since(started))

	// COMPOSE is deterministic and never fails.
	composeStart := time.Now()
	promptText := prompt.Build(prompt.Input{
		Persona:      spec,
		Mood:         mood,
		Tier:         tier,
		Window:       window,
		UserMessage:  req.Message,
		PriorReplies: req.PriorReplies,
	})
	o.metrics.ObserveReplyStage("compose", time.Since(composeStart))

	// INVOKE_MODEL: one attempt under its own deadline. Retrying a slow
	// model only stacks latency the user already paid once.
	invokeStart := time.Now()
	modelCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	resp, modelErr := o.model.Complete(modelCtx, llm.CompletionRequest{
		ConversationKey: key,
		Prompt:          promptText,
		MaxTokens:       tier.ReplyTargetChars(),
	}, onDelta)
	cancel()
	o.metrics.ObserveModelLatency(time.Since(invokeStart))
	o.metrics.ObserveReplyStage("invoke_model", time.Since(invokeStart))

	if modelErr != nil {
		reason := "model_error"
		if errors.Is(modelErr, llm.ErrModelTimeout) {
			reason = "model_timeout"
		}
		o.logger.Warn().Str("conversation", key).Err(modelErr).Msg("model call failed")
		return o.fallback(ctx, req, spec, tier, window, reason, onDelta)
	}

	// VALIDATE.
	validateStart := time.Now()
	reply, reason := validateReply(resp.Text, req.Message, tier)
	o.metrics.ObserveReplyStage("validate", time.Since(validateStart))
	if reason != "" {
		o.logger.Warn().Str("conversation", key).Str("reason", reason).Msg("model reply rejected")
		return o.fallback(ctx, req, spec, tier, window, reason, onDelta)
	}

	// PERSIST: user turn first, then the assistant turn. A write failure
	// here degrades the result but the user still gets the reply.
	persistStart := time.Now()
	degraded := o.persistExchange(ctx, window, key, req.Message, reply, tier)
	o.metrics.ObserveReplyStage("persist", time.Since(persistStart))

	if !degraded && o.sibling != nil {
		go o.sibling.ReportGrowth(context.WithoutCancel(ctx), req.UserID, len([]rune(reply)))
	}

	return GenerateResult{
		PersonaID:    spec.ID,
		ReplyText:    reply,
		UsedFallback: false,
		Degraded:     degraded || tierDegraded || window.Degraded,
	}, nil
}

// RunGroupRound asks each listed persona in turn for a reply to the same
// message. Later personas see a gist of the earlier replies so the round
// reads like three people answering, not one answer three times.
func (o *Orchestrator) RunGroupRound(ctx context.Context, userID, moodID, message string, personaIDs []string) ([]GenerateResult, error) {
	if len(personaIDs) == 0 {
		personaIDs = o.personas.IDs()
	}
	results := make([]GenerateResult, 0, len(personaIDs))
	var prior []prompt.GroupReply
	for _, id := range personaIDs {
		res, err := o.Generate(ctx, GenerateRequest{
			UserID:       userID,
			PersonaID:    id,
			MoodID:       moodID,
			Message:      message,
			PriorReplies: prior,
		}, nil)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.UsedFallback {
			prior = append(prior, prompt.GroupReply{PersonaID: res.PersonaID, Gist: prompt.Gist(res.ReplyText)})
		}
	}
	return results, nil
}

func (o *Orchestrator) resolvePersona(ctx context.Context, req GenerateRequest) (persona.Spec, error) {
	id := req.PersonaID
	if id == "" && o.sibling != nil {
		if profile, err := o.sibling.FetchProfile(ctx, req.UserID); err == nil {
			id = profile.PersonaDefault
		}
	}
	spec, ok := o.personas.Get(id)
	if !ok {
		return persona.Spec{}, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	return spec, nil
}

// resolveTier asks billing for the user's tier and falls back to the free
// tier when billing cannot answer. Degradation is reported, not fatal.
func (o *Orchestrator) resolveTier(ctx context.Context, userID string) (plan.Tier, bool) {
	if o.sibling == nil {
		return plan.TierFree, false
	}
	ac, err := o.sibling.FetchAccessControl(ctx, userID)
	if err != nil {
		return plan.TierFree, true
	}
	return ac.Tier, false
}

// fallback serves a rotated canned reply for the persona. Only the user
// turn is persisted; canned text must never enter history as something
// the persona said.
func (o *Orchestrator) fallback(ctx context.Context, req GenerateRequest, spec persona.Spec, tier plan.Tier, window *conversation.Window, reason string, onDelta llm.DeltaHandler) (GenerateResult, error) {
	o.metrics.FallbacksTotal.WithLabelValues(reason).Inc()

	key := history.Key(req.UserID, spec.ID)
	idx := o.rotation.Next(key, len(spec.FallbackReplies))
	reply := spec.FallbackReplies[idx]

	persistStart := time.Now()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()
	if err := o.window.Append(persistCtx, window, o.newTurn(key, history.RoleUser, req.Message, tier)); err != nil {
		o.reportPersistErr(key, "user turn", err)
	}
	o.metrics.ObserveReplyStage("persist", time.Since(persistStart))

	if onDelta != nil {
		if err := onDelta(reply); err != nil {
			return GenerateResult{}, fmt.Errorf("deliver fallback: %w", err)
		}
	}
	return GenerateResult{
		PersonaID:    spec.ID,
		ReplyText:    reply,
		UsedFallback: true,
		Degraded:     true,
	}, nil
}

// persistExchange writes the user turn then the assistant turn. It
// reports whether anything failed; either way the reply has already been
// generated and will be returned.
func (o *Orchestrator) persistExchange(ctx context.Context, window *conversation.Window, key, userMessage, reply string, tier plan.Tier) bool {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	degraded := false
	if err := o.window.Append(persistCtx, window, o.newTurn(key, history.RoleUser, userMessage, tier)); err != nil {
		o.reportPersistErr(key, "user turn", err)
		degraded = degraded || !errors.Is(err, conversation.ErrCompactionFailed)
	}
	if err := o.window.Append(persistCtx, window, o.newTurn(key, history.RoleAssistant, reply, tier)); err != nil {
		o.reportPersistErr(key, "assistant turn", err)
		degraded = degraded || !errors.Is(err, conversation.ErrCompactionFailed)
	}
	return degraded
}

func (o *Orchestrator) reportPersistErr(key, what string, err error) {
	if errors.Is(err, conversation.ErrCompactionFailed) {
		// The turn itself is durable; only the window housekeeping failed.
		o.logger.Warn().Str("conversation", key).Err(err).Msg("compaction failed after append")
		return
	}
	o.logger.Error().Str("conversation", key).Str("turn", what).Err(err).Msg("turn not persisted")
}

func (o *Orchestrator) newTurn(key, role, text string, tier plan.Tier) history.Turn {
	now := time.Now().UTC()
	return history.Turn{
		ConversationKey: key,
		SequenceToken:   history.NewSequenceToken(now),
		Role:            role,
		Text:            text,
		CreatedAt:       now,
		ExpiresAt:       now.Add(tier.Retention()),
	}
}

// validateReply normalizes and checks a model reply. It returns the reply
// to use and an empty reason, or a non-empty rejection reason.
func validateReply(text, userMessage string, tier plan.Tier) (string, string) {
	reply := strings.TrimSpace(text)
	if reply == "" {
		return "", "empty_reply"
	}
	// A reply that is just the user's words back, or that leaks prompt
	// scaffolding, reads as a malfunction.
	if reply == strings.TrimSpace(userMessage) {
		return "", "echo"
	}
	if leaksPromptScaffolding(reply) {
		return "", "prompt_leak"
	}
	if len([]rune(reply)) > tier.ReplyTargetChars()*replyCeilingFactor {
		return "", "too_long"
	}
	return reply, ""
}

// leaksPromptScaffolding detects transcript-shaped output: a line that
// starts with a role prefix or a prompt section header. Checks anchor to
// line starts so a reply merely quoting those words in prose passes.
func leaksPromptScaffolding(reply string) bool {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "user: ") ||
			strings.HasPrefix(line, "assistant: ") ||
			strings.HasPrefix(line, "直近の会話:") ||
			strings.HasPrefix(line, "これまでの会話の要約") {
			return true
		}
	}
	return false
}
