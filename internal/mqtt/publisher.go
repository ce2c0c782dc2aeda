package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/careerbot/internal/config"
)

// notifyTimeout bounds a single notification publish.
const notifyTimeout = 10 * time.Second

// ErrNotConnected is returned by Publish before Start has connected.
var ErrNotConnected = errors.New("mqtt publisher not connected")

// TurnEvent is the payload published on <prefix>/events/turn.
type TurnEvent struct {
	Time         time.Time `json:"time"`
	Rounds       int       `json:"rounds"`
	Tools        []string  `json:"tools,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	Exhausted    bool      `json:"exhausted,omitempty"`
}

// Publisher manages the broker connection, mirrors notifications and
// turn events, and periodically publishes daily counters.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	stats      *DailyStats
	logger     *slog.Logger
	cm         atomic.Pointer[autopaho.ConnectionManager]
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, stats *DailyStats, logger *slog.Logger) *Publisher {
	if stats == nil {
		stats = NewDailyStats(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		stats:      stats,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and runs the periodic stats loop. It
// blocks until ctx is cancelled. A birth message is published on every
// (re-)connect.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID(p.cfg.ClientID, p.instanceID),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Publish sends payload to <prefix>/<subtopic>.
func (p *Publisher) Publish(ctx context.Context, subtopic string, payload []byte, retain bool) error {
	cm := p.cm.Load()
	if cm == nil {
		return ErrNotConnected
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic(subtopic),
		Payload: payload,
		QoS:     1,
		Retain:  retain,
	})
	return err
}

// Notify publishes message on the notifications topic. It satisfies
// the notifier contract: failures are logged and reported as false.
func (p *Publisher) Notify(ctx context.Context, message string) bool {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := p.Publish(ctx, "notifications", []byte(message), false); err != nil {
		p.logger.Warn("mqtt notification publish failed", "error", err)
		return false
	}
	p.logger.Debug("mqtt notification published")
	return true
}

// RecordTurn adds a finished turn to the daily counters and publishes
// its summary. Publish failures are logged only.
func (p *Publisher) RecordTurn(ctx context.Context, ev TurnEvent) {
	p.stats.Add(len(ev.Tools), ev.InputTokens, ev.OutputTokens)

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("mqtt marshal turn event", "error", err)
		return
	}
	if err := p.Publish(ctx, "events/turn", payload, false); err != nil {
		p.logger.Debug("mqtt turn event publish failed", "error", err)
	}
}

// --- Topic helpers ---

func (p *Publisher) topic(subtopic string) string {
	return p.cfg.TopicPrefix + "/" + subtopic
}

func (p *Publisher) availabilityTopic() string {
	return p.topic("availability")
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic stats loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := p.cfg.PublishInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStats(ctx)
		}
	}
}

// statValues renders the current counters as topic suffix → payload.
func (p *Publisher) statValues() map[string]string {
	s := p.stats.Snapshot()
	values := map[string]string{
		"turns_today":      strconv.FormatInt(s.Turns, 10),
		"tool_calls_today": strconv.FormatInt(s.ToolCalls, 10),
		"tokens_today":     strconv.FormatInt(s.InputTokens+s.OutputTokens, 10),
		"last_turn":        "never",
	}
	if !s.LastTurn.IsZero() {
		values["last_turn"] = s.LastTurn.Format(time.RFC3339)
	}
	return values
}

func (p *Publisher) publishStats(ctx context.Context) {
	values := p.statValues()
	for name, value := range values {
		if err := p.Publish(ctx, "stats/"+name, []byte(value), true); err != nil {
			p.logger.Debug("mqtt stats publish failed", "stat", name, "error", err)
		}
	}
	p.logger.Debug("mqtt stats published", "stats", len(values))
}
