// Package persona loads the represented person's source documents and
// builds the system prompt from them.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nugget/careerbot/internal/config"
	"github.com/nugget/careerbot/internal/prompts"
)

// ErrNoName is returned when no persona name is configured.
var ErrNoName = errors.New("persona name is required")

// Context is the read-only knowledge about the represented person.
type Context struct {
	Name    string
	Summary string
	Profile string
}

// Load reads the summary and profile documents named by cfg. Profiles
// ending in .pdf are text-extracted page by page; anything else is read
// as plain text.
func Load(cfg config.PersonaConfig) (*Context, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, ErrNoName
	}

	summary, err := os.ReadFile(cfg.SummaryFile)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}

	profile, err := readProfile(cfg.ProfileFile)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	return &Context{
		Name:    cfg.Name,
		Summary: string(summary),
		Profile: profile,
	}, nil
}

// SystemPrompt renders the persona instructions. The result depends only
// on the Context, so repeated calls return identical text.
func (c *Context) SystemPrompt() string {
	return prompts.PersonaPrompt(c.Name, c.Summary, c.Profile)
}

func readProfile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractPDFText concatenates the plain text of every page in order,
// skipping pages without text.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
