package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templateFiles embed.FS

type templateSet map[string]*template.Template

// loadTemplates parses every page template. Panics on syntax errors so
// that startup fails fast.
func loadTemplates() templateSet {
	pages := []string{"chat.html"}
	result := make(templateSet, len(pages))
	for _, page := range pages {
		result[page] = template.Must(template.New(page).ParseFS(templateFiles, "templates/"+page))
	}
	return result
}

func (s *WebServer) render(w http.ResponseWriter, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template render failed", "template", name, "error", err)
	}
}

// RenderMarkdown converts a model answer to an HTML fragment. Raw HTML
// in the input is not passed through.
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
