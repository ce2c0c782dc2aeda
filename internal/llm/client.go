package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/careerbot/internal/config"
)

// Client is the interface that all completion providers implement.
type Client interface {
	// Chat sends the transcript and the advertised tool descriptors
	// (OpenAI function format) and returns the model's reply.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)
}

// New builds the client selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// functionDef pulls name, description and parameters out of a tool
// descriptor in OpenAI function format.
func functionDef(tool map[string]any) (name, description string, params map[string]any) {
	fn, ok := tool["function"].(map[string]any)
	if !ok {
		return "", "", nil
	}
	name, _ = fn["name"].(string)
	description, _ = fn["description"].(string)
	params, _ = fn["parameters"].(map[string]any)
	return name, description, params
}
