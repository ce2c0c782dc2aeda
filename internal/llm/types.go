// Package llm provides completion endpoint clients.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported in [ChatResponse.FinishReason].
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Message is one entry of a transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a request from the model to run a local tool.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object exactly as the
	// endpoint produced it. Decoding is the dispatcher's job.
	Arguments string `json:"arguments"`
}

// ChatResponse is the provider-neutral result of one completion call.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
}

// WantsTools reports whether the model asked for tool execution.
func (r *ChatResponse) WantsTools() bool {
	return r.FinishReason == FinishToolCalls || len(r.Message.ToolCalls) > 0
}
