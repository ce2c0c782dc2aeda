package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "plain text", content: "I have worked with Go since 2015.", wantCount: 0},
		{
			name:      "single object",
			content:   `{"name": "record_unknown_question", "arguments": {"question": "favourite colour?"}}`,
			wantCount: 1,
			wantName:  "record_unknown_question",
		},
		{
			name:      "array",
			content:   `[{"name": "get_current_date", "arguments": {}}, {"name": "record_user_detail", "arguments": {"email": "a@b.com"}}]`,
			wantCount: 2,
			wantName:  "get_current_date",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me check. <tool_call>{"name": "get_current_date", "arguments": {}}</tool_call>`,
			wantCount: 1,
			wantName:  "get_current_date",
		},
		{
			name:      "tag without closing",
			content:   `<tool_call>{"name": "get_current_date", "arguments": {}}`,
			wantCount: 1,
			wantName:  "get_current_date",
		},
		{name: "malformed JSON", content: `{"name": "get_current_date", "arguments": {`, wantCount: 0},
		{name: "object without name", content: `{"arguments": {}}`, wantCount: 0},
		{name: "json answer with name key", content: `{"name": "Jane Doe", "role": "Staff Engineer"}`, wantCount: 0},
		{
			name:      "array with one unknown tool",
			content:   `[{"name": "get_current_date", "arguments": {}}, {"name": "send_fax", "arguments": {}}]`,
			wantCount: 0,
		},
	}

	advertised := map[string]bool{
		"get_current_date":        true,
		"record_user_detail":      true,
		"record_unknown_question": true,
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, advertised)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestOllamaChat_ToolCalls(t *testing.T) {
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"model": "qwen3:4b",
			"done": true,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "record_user_detail", "arguments": {"email": "a@b.com"}}}]
			},
			"prompt_eval_count": 42,
			"eval_count": 7
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	history := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_current_date", Arguments: "{}"}}},
		{Role: RoleTool, Content: `{"current_date":"2026-01-01 00:00:00"}`, ToolCallID: "call_0"},
	}
	resp, err := c.Chat(context.Background(), "qwen3:4b", history, []map[string]any{{"type": "function"}})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if gotReq.Stream {
		t.Error("request should not stream")
	}
	if len(gotReq.Messages) != 3 || gotReq.Messages[1].ToolCalls[0].Function.Name != "get_current_date" {
		t.Errorf("messages not forwarded: %+v", gotReq.Messages)
	}

	if resp.FinishReason != FinishToolCalls || !resp.WantsTools() {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_0" || tc.Name != "record_user_detail" || tc.Arguments != `{"email":"a@b.com"}` {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 42/7", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaChat_PlainAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","done":true,"message":{"role":"assistant","content":"Go, Python and Rust."}}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.WantsTools() {
		t.Error("plain answer should not want tools")
	}
	if resp.Message.Content != "Go, Python and Rust." {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestOllamaChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOllamaChat_JSONAnswerIsNotAToolCall(t *testing.T) {
	answer := `{"name": "Jane Doe", "title": "Staff Engineer"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"model":   "m",
			"done":    true,
			"message": map[string]any{"role": "assistant", "content": answer},
		})
		w.Write(body)
	}))
	defer srv.Close()

	tools := []map[string]any{{
		"type":     "function",
		"function": map[string]any{"name": "get_current_date", "parameters": map[string]any{"type": "object"}},
	}}
	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "m", nil, tools)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.WantsTools() {
		t.Errorf("tool calls = %+v, want plain answer", resp.Message.ToolCalls)
	}
	if resp.Message.Content != answer {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestOllamaChat_TextToolCallRecovered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","done":true,"message":{"role":"assistant","content":"<tool_call>{\"name\": \"get_current_date\", \"arguments\": {}}</tool_call>"}}`))
	}))
	defer srv.Close()

	tools := []map[string]any{{
		"type":     "function",
		"function": map[string]any{"name": "get_current_date"},
	}}
	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "m", nil, tools)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Name != "get_current_date" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Errorf("content = %q, want empty", resp.Message.Content)
	}
}

func TestOllamaChat_ConnectionRefusedFailsOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = NewOllamaClient("http://"+addr, nil).Chat(context.Background(), "m",
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for closed port")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Chat took %v against a closed port, want a single fast failure", elapsed)
	}
}
