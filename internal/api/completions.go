package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/careerbot/internal/llm"
)

// ChatCompletionRequest is the subset of the OpenAI request we honor.
// Tools and sampling parameters from the client are ignored.
type ChatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []HistoryMessage `json:"messages"`
	Stream   bool             `json:"stream,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is a response choice.
type Choice struct {
	Index        int            `json:"index"`
	Message      HistoryMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

// Usage reports token counts summed over every completion in the turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is the SSE format for streaming responses.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice is a choice within a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta represents incremental content.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       s.model,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "careerbot",
			},
		},
	}, s.logger)
}

// splitCompletionMessages separates the final user message from prior
// history. System messages are dropped: the persona prompt is not
// negotiable by clients.
func splitCompletionMessages(msgs []HistoryMessage) (string, []HistoryMessage, error) {
	if len(msgs) == 0 {
		return "", nil, fmt.Errorf("messages is required")
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return "", nil, fmt.Errorf("last message must be a non-empty user message")
	}
	history := make([]HistoryMessage, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		if m.Role == llm.RoleSystem {
			continue
		}
		history = append(history, m)
	}
	return last.Content, history, nil
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message, prior, err := splitCompletionMessages(req.Messages)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := toHistory(prior)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Debug("chat completion request", "history", len(history), "stream", req.Stream)

	turn, err := s.loop.Run(r.Context(), message, history)
	if err != nil {
		s.logger.Error("agent loop failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "agent error")
		return
	}
	s.stats.Record(turn)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		s.streamAnswer(w, id, created, turn.Answer)
		return
	}

	resp := ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   s.model,
		Choices: []Choice{{
			Index:        0,
			Message:      HistoryMessage{Role: llm.RoleAssistant, Content: turn.Answer},
			FinishReason: llm.FinishStop,
		}},
		Usage: Usage{
			PromptTokens:     turn.InputTokens,
			CompletionTokens: turn.OutputTokens,
			TotalTokens:      turn.InputTokens + turn.OutputTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// streamAnswer sends a finished answer as an SSE stream: a role chunk,
// a single content chunk, a stop chunk and the [DONE] marker. The loop
// does not produce tokens incrementally.
func (s *Server) streamAnswer(w http.ResponseWriter, id string, created int64, answer string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunk := func(delta StreamDelta, finish *string) StreamChunk {
		return StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   s.model,
			Choices: []StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	stop := llm.FinishStop
	s.writeSSE(w, chunk(StreamDelta{Role: llm.RoleAssistant}, nil))
	s.writeSSE(w, chunk(StreamDelta{Content: answer}, nil))
	s.writeSSE(w, chunk(StreamDelta{}, &stop))
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}
