package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"

	"github.com/nugget/careerbot/internal/config"
)

const (
	emailSubjectPrefix = "[careerbot] "
	defaultSMTPTimeout = 30 * time.Second
)

// Email delivers notifications as a short multipart message over SMTP.
type Email struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	// send is replaced in tests.
	send func(ctx context.Context, cfg config.EmailConfig, from string, to []string, msg []byte) error
}

// NewEmail creates an SMTP notifier from cfg.
func NewEmail(cfg config.EmailConfig, logger *slog.Logger) *Email {
	if logger == nil {
		logger = slog.Default()
	}
	return &Email{
		cfg:    cfg,
		logger: logger.With("component", "email"),
		send:   sendMail,
	}
}

// Notify composes and sends message. The body is treated as markdown.
func (e *Email) Notify(ctx context.Context, message string) bool {
	if !e.cfg.Configured() {
		e.logger.Warn("email notifier not configured, skipping notification")
		return false
	}

	msg, err := composeMessage(e.cfg.From, e.cfg.To, subjectFor(message), message, time.Now())
	if err != nil {
		e.logger.Error("failed to compose notification email", "error", err)
		return false
	}

	recipients := make([]string, 0, len(e.cfg.To))
	for _, to := range e.cfg.To {
		recipients = append(recipients, bareAddress(to))
	}

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.send(ctx, e.cfg, bareAddress(e.cfg.From), recipients, msg); err != nil {
		e.logger.Error("failed to send notification email", "host", e.cfg.Host, "error", err)
		return false
	}

	e.logger.Info("email notification sent successfully", "to", strings.Join(recipients, ","))
	return true
}

// subjectFor uses the first line of the message, trimmed to a sane length.
func subjectFor(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 78 {
		line = string(r[:75]) + "..."
	}
	return emailSubjectPrefix + line
}

// composeMessage builds an RFC 5322 message with text/plain and
// text/html alternatives rendered from markdown.
func composeMessage(from string, to []string, subject, body string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, a := range to {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", a, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	if err := writePart(tw, "text/plain; charset=utf-8", body); err != nil {
		return nil, err
	}

	var rendered bytes.Buffer
	if err := goldmark.Convert([]byte(body), &rendered); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	htmlBody := `<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
` + rendered.String() + `</body></html>`
	if err := writePart(tw, "text/html; charset=utf-8", htmlBody); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader
	h.Set("Content-Type", contentType)
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}

// bareAddress strips a display name: "Name <a@b>" becomes "a@b".
func bareAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return s
}

// sendMail opens one SMTP connection, delivers msg and quits. Port 465
// style implicit TLS is used unless StartTLS is set. The whole exchange,
// including the server greeting, is bounded by the ctx deadline.
func sendMail(ctx context.Context, cfg config.EmailConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSMTPTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	var conn net.Conn
	var err error
	if cfg.StartTLS {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&tls.Dialer{Config: &tls.Config{ServerName: cfg.Host}}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set SMTP deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}
