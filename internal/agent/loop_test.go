package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nugget/careerbot/internal/llm"
	"github.com/nugget/careerbot/internal/prompts"
	"github.com/nugget/careerbot/internal/tools"
)

// mockLLM returns pre-configured responses in sequence and records each call.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	callIndex int
	calls     []mockLLMCall
}

type mockLLMCall struct {
	Model       string
	Messages    []llm.Message
	Tools       []map[string]any
	HasDeadline bool
}

func (m *mockLLM) Chat(ctx context.Context, model string, msgs []llm.Message, td []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, hasDeadline := ctx.Deadline()
	m.calls = append(m.calls, mockLLMCall{
		Model:       model,
		Messages:    append([]llm.Message(nil), msgs...),
		Tools:       td,
		HasDeadline: hasDeadline,
	})

	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

type staticPersona string

func (p staticPersona) SystemPrompt() string { return string(p) }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return true
}

type recordingObserver struct{ turns []*Turn }

func (o *recordingObserver) OnTurn(_ context.Context, t *Turn) { o.turns = append(o.turns, t) }

func answer(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		FinishReason: llm.FinishStop,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolCalls(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		FinishReason: llm.FinishToolCalls,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func buildTestLoop(t *testing.T, mock *mockLLM, cfg Config) (*Loop, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	reg := tools.NewRegistry(nil)
	reg.SetPersonaTools(&tools.PersonaTools{
		Notifier: notifier,
		Now:      func() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 0, time.Local) },
	})
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewLoop(nil, mock, staticPersona("SYSTEM"), reg, cfg), notifier
}

func TestRun_PlainAnswer(t *testing.T) {
	// A question answerable from the profile: one completion, no tools.
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("Go, Python and Rust.")}}
	loop, notifier := buildTestLoop(t, mock, Config{})

	turn, err := loop.Run(context.Background(), "What languages do you know?", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if turn.Answer != "Go, Python and Rust." {
		t.Errorf("Answer = %q", turn.Answer)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(mock.calls))
	}
	if turn.Rounds != 0 || turn.ModelCalls != 1 {
		t.Errorf("Rounds = %d, ModelCalls = %d", turn.Rounds, turn.ModelCalls)
	}
	if len(notifier.messages) != 0 {
		t.Errorf("unexpected notifications: %v", notifier.messages)
	}

	call := mock.calls[0]
	if call.Model != "test-model" {
		t.Errorf("model = %q", call.Model)
	}
	if len(call.Tools) != 3 {
		t.Errorf("advertised tools = %d, want 3", len(call.Tools))
	}
	if !call.HasDeadline {
		t.Error("completion call has no deadline")
	}
	if len(call.Messages) != 2 || call.Messages[0].Role != llm.RoleSystem || call.Messages[0].Content != "SYSTEM" {
		t.Errorf("messages = %+v", call.Messages)
	}
}

func TestRun_TranscriptLayout(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("hi again")}}
	loop, _ := buildTestLoop(t, mock, Config{})

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
	}
	if _, err := loop.Run(context.Background(), "still there?", history); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := mock.calls[0].Messages
	want := []struct{ role, content string }{
		{llm.RoleSystem, "SYSTEM"},
		{llm.RoleUser, "hello"},
		{llm.RoleAssistant, "hi"},
		{llm.RoleUser, "still there?"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Errorf("msgs[%d] = %s/%q, want %s/%q", i, msgs[i].Role, msgs[i].Content, w.role, w.content)
		}
	}
	if len(history) != 2 {
		t.Error("history slice was modified")
	}
}

func TestRun_UnknownQuestion(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(llm.ToolCall{ID: "call_1", Name: "record_unknown_question", Arguments: `{"question":"What is your favorite color?"}`}),
		answer("I'm not sure, but I've noted your question."),
	}}
	loop, notifier := buildTestLoop(t, mock, Config{})

	turn, err := loop.Run(context.Background(), "What is your favorite color?", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != "Unknown question recorded: What is your favorite color?" {
		t.Errorf("notifications = %v", notifier.messages)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(mock.calls))
	}

	second := mock.calls[1].Messages
	if len(second) != 4 {
		t.Fatalf("second call has %d messages, want 4", len(second))
	}
	last := second[3]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("last message = %+v", last)
	}
	if last.Content != `{"recorded_question":"What is your favorite color?"}` {
		t.Errorf("tool content = %s", last.Content)
	}
	if turn.Answer != "I'm not sure, but I've noted your question." {
		t.Errorf("Answer = %q", turn.Answer)
	}
	if turn.Rounds != 1 || len(turn.Tools) != 1 || turn.Tools[0] != "record_unknown_question" {
		t.Errorf("Rounds = %d, Tools = %v", turn.Rounds, turn.Tools)
	}
}

func TestRun_MultipleCallsInOneRound(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "a", Name: "record_user_detail", Arguments: `{"email":"a@b.com"}`},
		{ID: "b", Name: "get_current_date", Arguments: `{}`},
		{ID: "c", Name: "no_such_tool", Arguments: `{}`},
	}
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(calls...),
		answer("Thanks! I'll be in touch."),
	}}
	loop, notifier := buildTestLoop(t, mock, Config{})

	if _, err := loop.Run(context.Background(), "my email is a@b.com", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != "New user detail recorded: a@b.com" {
		t.Errorf("notifications = %v", notifier.messages)
	}

	msgs := mock.calls[1].Messages
	// system, user, assistant, 3 tool results
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	asst := msgs[2]
	if asst.Role != llm.RoleAssistant || len(asst.ToolCalls) != 3 {
		t.Fatalf("assistant message = %+v", asst)
	}
	wantContent := []string{
		`{"recorded_email":"a@b.com"}`,
		`{"current_date":"2025-05-06 07:08:09"}`,
		`{}`,
	}
	for i, c := range calls {
		m := msgs[3+i]
		if m.Role != llm.RoleTool || m.ToolCallID != c.ID {
			t.Errorf("msgs[%d] = %s/%s, want tool/%s", 3+i, m.Role, m.ToolCallID, c.ID)
		}
		if m.Content != wantContent[i] {
			t.Errorf("msgs[%d].Content = %s, want %s", 3+i, m.Content, wantContent[i])
		}
	}
}

func TestRun_TranscriptGrowsPerRound(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(
			llm.ToolCall{ID: "1", Name: "get_current_date"},
			llm.ToolCall{ID: "2", Name: "get_current_date"},
		),
		toolCalls(llm.ToolCall{ID: "3", Name: "get_current_date"}),
		answer("done"),
	}}
	loop, _ := buildTestLoop(t, mock, Config{})

	turn, err := loop.Run(context.Background(), "what day is it?", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Each round adds one assistant message plus one result per call.
	wantLens := []int{2, 2 + 1 + 2, 2 + 1 + 2 + 1 + 1}
	for i, want := range wantLens {
		if got := len(mock.calls[i].Messages); got != want {
			t.Errorf("call %d: %d messages, want %d", i, got, want)
		}
	}
	if turn.Rounds != 2 || turn.ModelCalls != 3 {
		t.Errorf("Rounds = %d, ModelCalls = %d", turn.Rounds, turn.ModelCalls)
	}
	if got := len(turn.Transcript); got != wantLens[2]+1 {
		t.Errorf("final transcript = %d messages, want %d", got, wantLens[2]+1)
	}
	if turn.InputTokens != 30 || turn.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 30/15", turn.InputTokens, turn.OutputTokens)
	}
}

func TestRun_MaxToolRounds(t *testing.T) {
	const limit = 3
	var responses []*llm.ChatResponse
	for i := range limit + 5 {
		responses = append(responses, toolCalls(llm.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "get_current_date"}))
	}
	mock := &mockLLM{responses: responses}
	loop, _ := buildTestLoop(t, mock, Config{MaxToolRounds: limit})

	turn, err := loop.Run(context.Background(), "loop forever", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !turn.Exhausted {
		t.Error("Exhausted = false, want true")
	}
	if turn.Answer != prompts.ToolLoopExhaustedFallback {
		t.Errorf("Answer = %q, want fallback", turn.Answer)
	}
	if turn.Rounds != limit {
		t.Errorf("Rounds = %d, want %d", turn.Rounds, limit)
	}
	if len(mock.calls) != limit+1 {
		t.Errorf("completion calls = %d, want %d", len(mock.calls), limit+1)
	}
}

func TestRun_CompletionError(t *testing.T) {
	sentinel := errors.New("upstream unavailable")
	mock := &mockLLM{err: sentinel}
	loop, _ := buildTestLoop(t, mock, Config{})

	_, err := loop.Chat(context.Background(), "hi", nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("completion calls = %d, want 1 (no retry)", len(mock.calls))
	}
}

func TestRun_MalformedArgumentsPolicy(t *testing.T) {
	bad := toolCalls(llm.ToolCall{ID: "x", Name: "record_user_detail", Arguments: `{"email":`})

	t.Run("report", func(t *testing.T) {
		mock := &mockLLM{responses: []*llm.ChatResponse{bad, answer("Could you repeat your email?")}}
		loop, notifier := buildTestLoop(t, mock, Config{})

		turn, err := loop.Run(context.Background(), "a@b.com", nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if turn.Answer != "Could you repeat your email?" {
			t.Errorf("Answer = %q", turn.Answer)
		}
		if len(notifier.messages) != 0 {
			t.Errorf("handler ran: %v", notifier.messages)
		}
	})

	t.Run("abort", func(t *testing.T) {
		mock := &mockLLM{responses: []*llm.ChatResponse{bad, answer("unreachable")}}
		notifier := &recordingNotifier{}
		reg := tools.NewRegistry(nil)
		reg.SetPersonaTools(&tools.PersonaTools{Notifier: notifier})
		reg.MalformedPolicy = tools.MalformedAbort
		loop := NewLoop(nil, mock, staticPersona("SYSTEM"), reg, Config{})

		_, err := loop.Run(context.Background(), "a@b.com", nil)
		if !errors.Is(err, tools.ErrMalformedToolArguments) {
			t.Fatalf("err = %v, want ErrMalformedToolArguments", err)
		}
		if len(mock.calls) != 1 {
			t.Errorf("completion calls = %d, want 1", len(mock.calls))
		}
	})
}

func TestRun_SystemPromptRebuiltEachTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("one"), answer("two")}}
	loop, _ := buildTestLoop(t, mock, Config{})

	first, err := loop.Run(context.Background(), "q1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	history := first.Transcript[1:]
	if _, err := loop.Run(context.Background(), "q2", history); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, c := range mock.calls {
		systems := 0
		for _, m := range c.Messages {
			if m.Role == llm.RoleSystem {
				systems++
			}
		}
		if systems != 1 || c.Messages[0].Role != llm.RoleSystem {
			t.Errorf("call %d: %d system messages, want exactly one leading", i, systems)
		}
	}
}

func TestRun_Observer(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("ok")}}
	loop, _ := buildTestLoop(t, mock, Config{})
	obs := &recordingObserver{}
	loop.SetObserver(obs)

	if _, err := loop.Run(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(obs.turns) != 1 || obs.turns[0].Answer != "ok" {
		t.Errorf("observer turns = %+v", obs.turns)
	}
}

func TestRun_RequestTimeout(t *testing.T) {
	slow := llmFunc(func(ctx context.Context) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	reg := tools.NewRegistry(nil)
	loop := NewLoop(nil, slow, staticPersona("S"), reg, Config{RequestTimeout: 20 * time.Millisecond})

	_, err := loop.Run(context.Background(), "hi", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

type llmFunc func(ctx context.Context) (*llm.ChatResponse, error)

func (f llmFunc) Chat(ctx context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	return f(ctx)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateAwaitingModel:    "awaiting_model",
		StateDispatchingTools: "dispatching_tools",
		StateDone:             "done",
		State(9):              "state(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
