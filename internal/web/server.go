// Package web provides the chat web interface for careerbot.
package web

import (
	"log/slog"
	"net/http"
)

// WebServer serves the embedded chat page.
type WebServer struct {
	name      string
	templates templateSet
	logger    *slog.Logger
}

// NewWebServer creates the chat UI handler for the represented person.
func NewWebServer(name string, logger *slog.Logger) *WebServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebServer{
		name:      name,
		templates: loadTemplates(),
		logger:    logger.With("component", "web"),
	}
}

// RegisterRoutes adds the chat UI routes to mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleChat)
	mux.HandleFunc("GET /chat", s.handleChat)
}
