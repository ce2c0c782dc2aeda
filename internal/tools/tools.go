// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nugget/careerbot/internal/llm"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Handler receives the decoded argument object. Its result is
	// JSON-encoded into the tool message content.
	Handler func(ctx context.Context, args map[string]any) (map[string]any, error) `json:"-"`
}

// MalformedPolicy decides what Dispatch does when a call's arguments
// cannot be decoded.
type MalformedPolicy int

const (
	// MalformedReport answers the call with an error result and
	// continues with the remaining calls.
	MalformedReport MalformedPolicy = iota
	// MalformedAbort stops dispatch and returns the decoding error.
	MalformedAbort
)

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger

	// MalformedPolicy is consulted by Dispatch. The zero value is
	// MalformedReport.
	MalformedPolicy MalformedPolicy
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool to the registry, replacing any tool with the
// same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools for the LLM, sorted by name.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs one tool call and returns the JSON text for its result
// message. An unregistered name yields "{}". Arguments that do not
// decode to a JSON object return an error wrapping
// [ErrMalformedToolArguments] and the handler is not run.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	tool := r.tools[call.Name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return "{}", nil
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return "", &MalformedArgumentsError{ToolName: call.Name, Err: err}
	}

	r.logger.Info("tool called", "tool", call.Name, "call_id", call.ID)

	result, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return errorResult(err.Error()), nil
	}
	if result == nil {
		return "{}", nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", call.Name, err)
	}
	return string(data), nil
}

// Dispatch executes calls in order and returns one tool message per
// call, each carrying the originating call ID.
func (r *Registry) Dispatch(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		content, err := r.Execute(ctx, call)
		if err != nil {
			if IsMalformedArguments(err) && r.MalformedPolicy == MalformedReport {
				r.logger.Warn("malformed tool arguments",
					"tool", call.Name,
					"call_id", call.ID,
					"error", err,
				)
				content = errorResult(err.Error())
			} else {
				return nil, err
			}
		}
		out = append(out, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return out, nil
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		// JSON null
		args = map[string]any{}
	}
	return args, nil
}

func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// stringArg returns args[key] as a string. Missing or non-string values
// yield "".
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
