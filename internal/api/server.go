// Package api implements the HTTP chat API and its OpenAI-compatible
// surface.
package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/nugget/careerbot/internal/agent"
	"github.com/nugget/careerbot/internal/buildinfo"
	"github.com/nugget/careerbot/internal/leads"
	"github.com/nugget/careerbot/internal/llm"
	"github.com/nugget/careerbot/internal/web"
)

// maxBodyBytes caps request bodies. Histories are resent with every
// request, so this is generous.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner answers one user message given prior history.
type Runner interface {
	Run(ctx context.Context, message string, history []llm.Message) (*agent.Turn, error)
}

// LeadStore is the read side of the lead ledger.
type LeadStore interface {
	List(ctx context.Context, kind string, limit int) ([]leads.Lead, error)
	Count(ctx context.Context, kind string) (int, error)
	ExportVCards(ctx context.Context, w io.Writer) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	loop        Runner
	model       string
	leads       LeadStore
	adminToken  string
	corsOrigins []string
	web         *web.WebServer
	logger      *slog.Logger
	server      *http.Server
	stats       *SessionStats
}

// SessionStats tracks usage since process start.
type SessionStats struct {
	mu                sync.Mutex
	TotalRequests     int64 `json:"total_requests"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
}

// Record adds a finished turn.
func (s *SessionStats) Record(turn *agent.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.TotalToolCalls += int64(len(turn.Tools))
	s.TotalInputTokens += int64(turn.InputTokens)
	s.TotalOutputTokens += int64(turn.OutputTokens)
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	TotalRequests     int64  `json:"total_requests"`
	TotalToolCalls    int64  `json:"total_tool_calls"`
	TotalInputTokens  int64  `json:"total_input_tokens"`
	TotalOutputTokens int64  `json:"total_output_tokens"`
	Uptime            string `json:"uptime"`
}

// Snapshot returns a copy of the counters.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalRequests:     s.TotalRequests,
		TotalToolCalls:    s.TotalToolCalls,
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		Uptime:            buildinfo.Uptime().Truncate(time.Second).String(),
	}
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop Runner, model string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		model:   model,
		logger:  logger.With("component", "api"),
		stats:   &SessionStats{},
	}
}

// SetLeadStore enables the lead endpoints, guarded by token.
func (s *Server) SetLeadStore(store LeadStore, token string) {
	s.leads = store
	s.adminToken = token
}

// SetCORSOrigins lists origins allowed to call the API from a browser.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

// SetWebServer mounts the chat page.
func (s *Server) SetWebServer(ws *web.WebServer) {
	s.web = ws
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// OpenAI-compatible endpoints
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	mux.HandleFunc("POST /v1/chat", s.handleSimpleChat)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/session/stats", s.handleSessionStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.leads != nil && s.adminToken != "" {
		mux.HandleFunc("GET /v1/leads", s.requireAdmin(s.handleLeadList))
		mux.HandleFunc("GET /v1/leads/export.vcf", s.requireAdmin(s.handleLeadExport))
	}

	if s.web != nil {
		s.web.RegisterRoutes(mux)
	}

	var h http.Handler = mux
	if len(s.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(h)
	}
	return s.withLogging(h)
}

// Start begins serving HTTP requests. It returns when the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// A turn may take several completion calls.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.stats.Snapshot(), s.logger)
}

// HistoryMessage is one prior exchange supplied by a client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toHistory validates client-supplied history. Only user and assistant
// turns are accepted; the system prompt is always rebuilt server-side.
func toHistory(in []HistoryMessage) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(in))
	for i, m := range in {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		default:
			return nil, fmt.Errorf("history[%d]: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

// SimpleChatRequest is the body of POST /v1/chat.
type SimpleChatRequest struct {
	Message string           `json:"message"`
	History []HistoryMessage `json:"history,omitempty"`
	// Format "html" adds a rendered ResponseHTML.
	Format string `json:"format,omitempty"`
}

// SimpleChatResponse is the reply to POST /v1/chat.
type SimpleChatResponse struct {
	Response     string   `json:"response"`
	ResponseHTML string   `json:"response_html,omitempty"`
	Model        string   `json:"model"`
	ToolCalls    []string `json:"tool_calls,omitempty"` // Tool names used
	Rounds       int      `json:"rounds"`
}

// handleSimpleChat runs one turn.
// POST /v1/chat {"message": "what do you work on?", "history": [...]}
func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	var req SimpleChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	history, err := toHistory(req.History)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := s.loop.Run(r.Context(), req.Message, history)
	if err != nil {
		s.logger.Error("agent loop failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "agent error")
		return
	}
	s.stats.Record(turn)

	resp := SimpleChatResponse{
		Response:  turn.Answer,
		Model:     s.model,
		ToolCalls: turn.Tools,
		Rounds:    turn.Rounds,
	}
	if req.Format == "html" {
		if html, err := web.RenderMarkdown(turn.Answer); err == nil {
			resp.ResponseHTML = html
		} else {
			s.logger.Warn("markdown render failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleLeadList(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != leads.KindEmail && kind != leads.KindQuestion {
		s.errorResponse(w, http.StatusBadRequest, "kind must be email or question")
		return
	}
	list, err := s.leads.List(r.Context(), kind, parseIntParam(r, "limit", 100))
	if err != nil {
		s.logger.Error("list leads failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if list == nil {
		list = []leads.Lead{}
	}
	total, err := s.leads.Count(r.Context(), kind)
	if err != nil {
		s.logger.Error("count leads failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to count leads")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"leads": list, "count": len(list), "total": total}, s.logger)
}

// handleLeadExport builds the whole file before responding so a failed
// export is reported as an error, never as a short or empty file.
func (s *Server) handleLeadExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := s.leads.ExportVCards(r.Context(), &buf)
	if err != nil {
		s.logger.Error("vcard export failed", "cards", n, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to export leads")
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="careerbot-leads.vcf"`)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("failed to write vcard export", "error", err)
		return
	}
	s.logger.Info("leads exported", "cards", n)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
