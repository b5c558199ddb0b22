package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sodafloatlab/homebiyori-chat/internal/chat"
	"github.com/sodafloatlab/homebiyori-chat/internal/config"
	"github.com/sodafloatlab/homebiyori-chat/internal/history"
	"github.com/sodafloatlab/homebiyori-chat/internal/llm"
	"github.com/sodafloatlab/homebiyori-chat/internal/observability"
	"github.com/sodafloatlab/homebiyori-chat/internal/persona"
)

type Orchestrator interface {
	Generate(ctx context.Context, req chat.GenerateRequest, onDelta llm.DeltaHandler) (chat.GenerateResult, error)
	RunGroupRound(ctx context.Context, userID, moodID, message string, personaIDs []string) ([]chat.GenerateResult, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	personas     *persona.Registry
	store        history.Store
	metrics      *observability.Metrics
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, personas *persona.Registry, store history.Store, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		personas:     personas,
		store:        store,
		metrics:      metrics,
		logger:       logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. Other sites
				// must not be able to drive a user's chat stream.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	allowedOrigins := []string{"https://homebiyori.com"}
	if s.cfg.AllowAnyOrigin {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/internal/perf", s.handlePerf)

	r.Post("/api/chat/reply", s.handleReply)
	r.Post("/api/chat/group", s.handleGroup)
	r.Get("/api/chat/history/{personaID}", s.handleHistory)
	r.Get("/api/chat/stream", s.handleStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"personas": s.personas.IDs(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type replyRequest struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
	Mood      string `json:"mood"`
	Message   string `json:"message"`
}

type replyResponse struct {
	PersonaID    string `json:"persona_id"`
	Reply        string `json:"reply"`
	UsedFallback bool   `json:"used_fallback"`
	Degraded     bool   `json:"degraded,omitempty"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.Generate(r.Context(), chat.GenerateRequest{
		UserID:    req.UserID,
		PersonaID: req.PersonaID,
		MoodID:    req.Mood,
		Message:   req.Message,
	}, nil)
	if err != nil {
		s.respondGenerateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, replyResponse{
		PersonaID:    res.PersonaID,
		Reply:        res.ReplyText,
		UsedFallback: res.UsedFallback,
		Degraded:     res.Degraded,
	})
}

type groupRequest struct {
	UserID     string   `json:"user_id"`
	Mood       string   `json:"mood"`
	Message    string   `json:"message"`
	PersonaIDs []string `json:"persona_ids,omitempty"`
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	roundID := uuid.NewString()
	results, err := s.orchestrator.RunGroupRound(r.Context(), req.UserID, req.Mood, req.Message, req.PersonaIDs)
	if err != nil {
		s.respondGenerateError(w, err)
		return
	}
	replies := make([]replyResponse, 0, len(results))
	for _, res := range results {
		replies = append(replies, replyResponse{
			PersonaID:    res.PersonaID,
			Reply:        res.ReplyText,
			UsedFallback: res.UsedFallback,
			Degraded:     res.Degraded,
		})
	}
	s.logger.Info().Str("round_id", roundID).Int("replies", len(replies)).Msg("group round completed")
	respondJSON(w, http.StatusOK, map[string]any{"round_id": roundID, "replies": replies})
}

type historyTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if _, ok := s.personas.Get(personaID); !ok {
		respondError(w, http.StatusNotFound, "unknown_persona", "persona not found")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	key := history.Key(userID, personaID)
	summary, err := s.store.LoadSummary(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "history storage is unavailable")
		return
	}
	turns, err := s.store.LoadRecent(r.Context(), key, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "history storage is unavailable")
		return
	}
	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, historyTurn{Role: t.Role, Text: t.Text, CreatedAt: t.CreatedAt})
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": summary, "turns": out})
}

func (s *Server) respondGenerateError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrInvalidRequest) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "internal_error", "reply generation failed")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
