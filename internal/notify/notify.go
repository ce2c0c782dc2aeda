// Package notify delivers short out-of-band messages to the represented
// person. Every sink is soft-fail: delivery problems are logged and
// reported as false, never returned as errors.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends one message and reports whether it was delivered.
type Notifier interface {
	Notify(ctx context.Context, message string) bool
}

// Multi fans a message out to several notifiers in order.
type Multi struct {
	sinks  []Notifier
	logger *slog.Logger
}

// NewMulti returns a notifier that delivers to every non-nil sink.
func NewMulti(logger *slog.Logger, sinks ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "notify")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Notify delivers to all sinks and reports true if at least one
// succeeded.
func (m *Multi) Notify(ctx context.Context, message string) bool {
	if len(m.sinks) == 0 {
		m.logger.Warn("no notification sinks configured")
		return false
	}
	delivered := 0
	for _, s := range m.sinks {
		if s.Notify(ctx, message) {
			delivered++
		}
	}
	m.logger.Debug("notification fanned out", "sinks", len(m.sinks), "delivered", delivered)
	return delivered > 0
}
