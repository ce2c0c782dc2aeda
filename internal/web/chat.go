package web

import "net/http"

// ChatData is the template context for the chat page.
type ChatData struct {
	Name string
}

// handleChat renders the chat page.
func (s *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	s.render(w, "chat.html", ChatData{Name: s.name})
}
