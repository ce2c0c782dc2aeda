package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nugget/careerbot/internal/config"
)

func TestComposeMessage(t *testing.T) {
	raw, err := composeMessage(
		"Careerbot <bot@example.com>",
		[]string{"jane@example.com"},
		"[careerbot] New user detail recorded: a@b.com",
		"New user detail recorded: **a@b.com**",
		time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("composeMessage() error = %v", err)
	}

	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("CreateReader() error = %v", err)
	}

	subject, err := mr.Header.Subject()
	if err != nil || subject != "[careerbot] New user detail recorded: a@b.com" {
		t.Errorf("Subject = %q (%v)", subject, err)
	}
	to, err := mr.Header.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "jane@example.com" {
		t.Errorf("To = %v (%v)", to, err)
	}
	if id, _ := mr.Header.MessageID(); id == "" {
		t.Error("Message-ID not generated")
	}

	var types []string
	var htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		ct, _, _ := p.Header.(*mail.InlineHeader).ContentType()
		types = append(types, ct)
		if ct == "text/html" {
			b, _ := io.ReadAll(p.Body)
			htmlBody = string(b)
		}
	}

	if strings.Join(types, ",") != "text/plain,text/html" {
		t.Errorf("part types = %v", types)
	}
	if !strings.Contains(htmlBody, "<strong>a@b.com</strong>") {
		t.Errorf("html body missing rendered markdown: %q", htmlBody)
	}
}

func TestComposeMessage_BadAddress(t *testing.T) {
	if _, err := composeMessage("not an address", []string{"a@b.com"}, "s", "b", time.Now()); err == nil {
		t.Error("expected error for invalid from address")
	}
}

func TestEmail_Notify(t *testing.T) {
	cfg := config.EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "Careerbot <bot@example.com>",
		To:   []string{"Jane <jane@example.com>"},
	}

	t.Run("delivered", func(t *testing.T) {
		var gotFrom string
		var gotTo []string
		e := NewEmail(cfg, nil)
		e.send = func(_ context.Context, _ config.EmailConfig, from string, to []string, msg []byte) error {
			gotFrom, gotTo = from, to
			if len(msg) == 0 {
				t.Error("empty message")
			}
			return nil
		}
		if !e.Notify(context.Background(), "Unknown question recorded: salary?") {
			t.Fatal("Notify() = false, want true")
		}
		if gotFrom != "bot@example.com" {
			t.Errorf("from = %q", gotFrom)
		}
		if len(gotTo) != 1 || gotTo[0] != "jane@example.com" {
			t.Errorf("to = %v", gotTo)
		}
	})

	t.Run("send failure", func(t *testing.T) {
		e := NewEmail(cfg, nil)
		e.send = func(context.Context, config.EmailConfig, string, []string, []byte) error {
			return errors.New("connection refused")
		}
		if e.Notify(context.Background(), "x") {
			t.Error("Notify() = true on send failure")
		}
	})

	t.Run("not configured", func(t *testing.T) {
		e := NewEmail(config.EmailConfig{}, nil)
		e.send = func(context.Context, config.EmailConfig, string, []string, []byte) error {
			t.Error("send called without configuration")
			return nil
		}
		if e.Notify(context.Background(), "x") {
			t.Error("Notify() = true without configuration")
		}
	})
}

func TestEmail_SilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Accept connections but never send the 220 greeting.
	var held []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()
	defer func() {
		ln.Close()
		<-done
		for _, c := range held {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	for _, startTLS := range []bool{true, false} {
		e := NewEmail(config.EmailConfig{
			Host:     "127.0.0.1",
			Port:     addr.Port,
			StartTLS: startTLS,
			From:     "bot@example.com",
			To:       []string{"jane@example.com"},
			Timeout:  200 * time.Millisecond,
		}, nil)

		start := time.Now()
		if e.Notify(context.Background(), "hello") {
			t.Errorf("starttls=%v: Notify() = true against a silent server", startTLS)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("starttls=%v: Notify() took %v, want it bounded by the timeout", startTLS, elapsed)
		}
	}
}

func TestSubjectFor(t *testing.T) {
	long := strings.Repeat("q", 100)
	tests := []struct {
		in, want string
	}{
		{"New user detail recorded: a@b.com", "[careerbot] New user detail recorded: a@b.com"},
		{"first line\nsecond", "[careerbot] first line"},
		{long, "[careerbot] " + strings.Repeat("q", 75) + "..."},
	}
	for _, tt := range tests {
		if got := subjectFor(tt.in); got != tt.want {
			t.Errorf("subjectFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
