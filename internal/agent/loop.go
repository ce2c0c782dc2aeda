// Package agent implements the tool-calling conversation loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/careerbot/internal/llm"
	"github.com/nugget/careerbot/internal/prompts"
)

// Defaults applied by NewLoop for zero Config fields.
const (
	DefaultMaxToolRounds  = 10
	DefaultRequestTimeout = 120 * time.Second
)

// State is the position of a turn in the loop.
type State int

const (
	StateAwaitingModel State = iota
	StateDispatchingTools
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PromptSource produces the system prompt for a turn.
type PromptSource interface {
	SystemPrompt() string
}

// ToolDispatcher advertises tools and executes the calls the model
// requests, returning one tool message per call in order.
type ToolDispatcher interface {
	List() []map[string]any
	Dispatch(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error)
}

// TurnObserver is told about every completed turn.
type TurnObserver interface {
	OnTurn(ctx context.Context, turn *Turn)
}

// Config tunes a Loop.
type Config struct {
	Model string
	// MaxToolRounds caps tool dispatch rounds per turn. Zero means
	// DefaultMaxToolRounds.
	MaxToolRounds int
	// RequestTimeout bounds each completion call. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Turn is the outcome of one user message.
type Turn struct {
	Answer string
	// Transcript is every message sent to or received from the model
	// during the turn, starting with the system prompt.
	Transcript []llm.Message
	// Rounds counts tool dispatch rounds; ModelCalls counts completions.
	Rounds     int
	ModelCalls int
	// Tools lists the names of executed tool calls in order.
	Tools        []string
	InputTokens  int
	OutputTokens int
	// Exhausted is set when the round limit cut the turn short and
	// Answer is the fallback text.
	Exhausted bool
	Duration  time.Duration
}

// Loop drives completions and tool dispatch until the model answers.
// It holds no per-conversation state; concurrent turns are safe as
// long as the client and dispatcher are.
type Loop struct {
	logger   *slog.Logger
	llm      llm.Client
	persona  PromptSource
	tools    ToolDispatcher
	cfg      Config
	observer TurnObserver
}

// NewLoop creates a conversation loop.
func NewLoop(logger *slog.Logger, client llm.Client, persona PromptSource, tools ToolDispatcher, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Loop{
		logger:  logger.With("component", "agent"),
		llm:     client,
		persona: persona,
		tools:   tools,
		cfg:     cfg,
	}
}

// SetObserver registers o to receive completed turns.
func (l *Loop) SetObserver(o TurnObserver) {
	l.observer = o
}

// Chat answers message given the prior history and returns only the
// answer text.
func (l *Loop) Chat(ctx context.Context, message string, history []llm.Message) (string, error) {
	turn, err := l.Run(ctx, message, history)
	if err != nil {
		return "", err
	}
	return turn.Answer, nil
}

// Run answers message given the prior history. The history slice is
// not modified.
func (l *Loop) Run(ctx context.Context, message string, history []llm.Message) (*Turn, error) {
	start := time.Now()

	transcript := make([]llm.Message, 0, len(history)+2)
	transcript = append(transcript, llm.Message{Role: llm.RoleSystem, Content: l.persona.SystemPrompt()})
	transcript = append(transcript, history...)
	transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: message})

	l.logger.Info("turn started",
		"history", len(history),
		"model", l.cfg.Model,
	)

	descriptors := l.tools.List()
	turn := &Turn{}
	state := StateAwaitingModel

	for state != StateDone {
		switch state {
		case StateAwaitingModel:
			resp, err := l.complete(ctx, transcript, descriptors)
			turn.ModelCalls++
			if err != nil {
				l.logger.Error("completion failed", "error", err, "model_calls", turn.ModelCalls)
				return nil, fmt.Errorf("completion: %w", err)
			}
			turn.InputTokens += resp.InputTokens
			turn.OutputTokens += resp.OutputTokens

			if !resp.WantsTools() {
				turn.Answer = resp.Message.Content
				transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content})
				state = StateDone
				continue
			}

			if turn.Rounds >= l.cfg.MaxToolRounds {
				l.logger.Warn("tool round limit reached",
					"max_tool_rounds", l.cfg.MaxToolRounds,
					"pending_calls", len(resp.Message.ToolCalls),
				)
				turn.Answer = prompts.ToolLoopExhaustedFallback
				turn.Exhausted = true
				state = StateDone
				continue
			}

			transcript = append(transcript, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Message.Content,
				ToolCalls: resp.Message.ToolCalls,
			})
			state = StateDispatchingTools

		case StateDispatchingTools:
			calls := transcript[len(transcript)-1].ToolCalls
			results, err := l.tools.Dispatch(ctx, calls)
			if err != nil {
				l.logger.Error("tool dispatch failed", "error", err, "round", turn.Rounds+1)
				return nil, fmt.Errorf("dispatch tools: %w", err)
			}
			for _, c := range calls {
				turn.Tools = append(turn.Tools, c.Name)
			}
			transcript = append(transcript, results...)
			turn.Rounds++
			l.logger.Debug("tool round complete", "round", turn.Rounds, "calls", len(calls))
			state = StateAwaitingModel
		}
	}

	turn.Transcript = transcript
	turn.Duration = time.Since(start)

	l.logger.Info("turn completed",
		"rounds", turn.Rounds,
		"model_calls", turn.ModelCalls,
		"tools", turn.Tools,
		"exhausted", turn.Exhausted,
		"elapsed", turn.Duration.Round(time.Millisecond),
	)

	if l.observer != nil {
		l.observer.OnTurn(ctx, turn)
	}
	return turn, nil
}

// complete performs one bounded completion call.
func (l *Loop) complete(ctx context.Context, transcript []llm.Message, descriptors []map[string]any) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	l.logger.Debug("calling model",
		"model", l.cfg.Model,
		"messages", len(transcript),
		"tools", len(descriptors),
	)
	return l.llm.Chat(callCtx, l.cfg.Model, transcript, descriptors)
}
