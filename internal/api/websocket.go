package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/careerbot/internal/llm"
	"github.com/nugget/careerbot/internal/web"
)

// maxSocketHistory bounds the per-connection transcript. Older
// exchanges fall off the front.
const maxSocketHistory = 40

// socketRequest is a client frame on /v1/ws.
type socketRequest struct {
	Content string `json:"content"`
}

// socketReply is a server frame on /v1/ws. Exactly one of Content or
// Error is set.
type socketReply struct {
	Content string `json:"content,omitempty"`
	HTML    string `json:"html,omitempty"`
	Error   string `json:"error,omitempty"`
}

// checkOrigin admits same-origin pages and any configured CORS origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleWebSocket serves the chat page. Each connection carries its own
// history; nothing is kept after it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ws.SetReadLimit(maxBodyBytes)
	var history []llm.Message

	for {
		var req socketRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			continue
		}

		turn, err := s.loop.Run(r.Context(), req.Content, history)
		var reply socketReply
		if err != nil {
			s.logger.Error("agent loop failed", "error", err)
			reply.Error = "Sorry, something went wrong. Please try again."
		} else {
			s.stats.Record(turn)
			history = append(history,
				llm.Message{Role: llm.RoleUser, Content: req.Content},
				llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
			)
			if len(history) > maxSocketHistory {
				history = history[len(history)-maxSocketHistory:]
			}
			reply.Content = turn.Answer
			if html, err := web.RenderMarkdown(turn.Answer); err == nil {
				reply.HTML = html
			}
		}

		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(reply); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}
