package tools

import (
	"context"
	"log/slog"
	"time"
)

// DateFormat is the layout of the get_current_date result.
const DateFormat = "2006-01-02 15:04:05"

// Lead kinds passed to [LeadRecorder].
const (
	LeadEmail    = "email"
	LeadQuestion = "question"
)

// Notifier delivers a short text to the represented person. It reports
// delivery success and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, message string) bool
}

// LeadRecorder keeps a durable record of captured details.
type LeadRecorder interface {
	Record(ctx context.Context, kind, value string) error
}

// PersonaTools holds the dependencies of the visitor-facing tools.
type PersonaTools struct {
	Notifier Notifier
	Leads    LeadRecorder // optional
	Now      func() time.Time
	Logger   *slog.Logger
}

// SetPersonaTools registers record_user_detail, record_unknown_question
// and get_current_date.
func (r *Registry) SetPersonaTools(pt *PersonaTools) {
	if pt.Now == nil {
		pt.Now = time.Now
	}
	if pt.Logger == nil {
		pt.Logger = r.logger
	}

	r.Register(&Tool{
		Name:        "record_user_detail",
		Description: "Record user details and send a notification via Telegram",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"email": map[string]any{
					"type":        "string",
					"description": "The user's email address to record",
				},
			},
			"required": []string{"email"},
		},
		Handler: pt.recordUserDetail,
	})

	r.Register(&Tool{
		Name:        "record_unknown_question",
		Description: "Record an unknown question and send a notification via Telegram",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The unknown question to record",
				},
			},
			"required": []string{"question"},
		},
		Handler: pt.recordUnknownQuestion,
	})

	r.Register(&Tool{
		Name:        "get_current_date",
		Description: "Get the current date and time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: pt.currentDate,
	})
}

func (pt *PersonaTools) recordUserDetail(ctx context.Context, args map[string]any) (map[string]any, error) {
	email := stringArg(args, "email")
	pt.notify(ctx, "New user detail recorded: "+email)
	pt.record(ctx, LeadEmail, email)
	return map[string]any{"recorded_email": email}, nil
}

func (pt *PersonaTools) recordUnknownQuestion(ctx context.Context, args map[string]any) (map[string]any, error) {
	question := stringArg(args, "question")
	pt.notify(ctx, "Unknown question recorded: "+question)
	pt.record(ctx, LeadQuestion, question)
	return map[string]any{"recorded_question": question}, nil
}

func (pt *PersonaTools) currentDate(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"current_date": pt.Now().Format(DateFormat)}, nil
}

// notify ignores the delivery outcome; the notifier logs its own failures.
func (pt *PersonaTools) notify(ctx context.Context, msg string) {
	if pt.Notifier == nil {
		return
	}
	pt.Notifier.Notify(ctx, msg)
}

func (pt *PersonaTools) record(ctx context.Context, kind, value string) {
	if pt.Leads == nil {
		return
	}
	if err := pt.Leads.Record(ctx, kind, value); err != nil {
		pt.Logger.Warn("failed to record lead", "kind", kind, "error", err)
	}
}
