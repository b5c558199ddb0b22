package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sodafloatlab/homebiyori-chat/internal/chat"
)

const (
	streamReadLimit    = 64 << 10
	streamReadTimeout  = 120 * time.Second
	streamWriteTimeout = 10 * time.Second
)

type streamRequest struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
	Mood      string `json:"mood"`
	Message   string `json:"message"`
}

type streamEvent struct {
	Type         string `json:"type"`
	PersonaID    string `json:"persona_id,omitempty"`
	Text         string `json:"text,omitempty"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	Code         string `json:"code,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// handleStream serves replies over a websocket, one request message in,
// a sequence of delta events and one terminal reply event out. Writes
// stay on this goroutine so no two events interleave.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		res, err := s.orchestrator.Generate(r.Context(), chat.GenerateRequest{
			UserID:    req.UserID,
			PersonaID: req.PersonaID,
			MoodID:    req.Mood,
			Message:   req.Message,
		}, func(delta string) error {
			return s.writeStreamEvent(conn, streamEvent{Type: "delta", Text: delta})
		})
		if err != nil {
			if werr := s.writeStreamEvent(conn, streamEvent{
				Type:   "error",
				Code:   "invalid_request",
				Detail: err.Error(),
			}); werr != nil {
				return
			}
			continue
		}

		if err := s.writeStreamEvent(conn, streamEvent{
			Type:         "reply",
			PersonaID:    res.PersonaID,
			Text:         res.ReplyText,
			UsedFallback: res.UsedFallback,
			Degraded:     res.Degraded,
		}); err != nil {
			return
		}
	}
}

func (s *Server) writeStreamEvent(conn *websocket.Conn, ev streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(ev)
}
