package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/careerbot/internal/httpkit"
)

// CredentialSource supplies the Telegram chat id and bot token. It is
// consulted on every send so that changed credentials take effect
// without a restart.
type CredentialSource interface {
	Credentials() (chatID, token string)
}

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	creds      CredentialSource
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegram creates a Telegram notifier. An empty apiURL selects the
// public Bot API; a zero timeout selects 10 seconds.
func NewTelegram(creds CredentialSource, apiURL string, timeout time.Duration, logger *slog.Logger) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		creds:      creds,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("component", "telegram"),
	}
}

// Notify posts message to the configured chat. It returns false when
// credentials are missing or the API does not answer 200.
func (t *Telegram) Notify(ctx context.Context, message string) bool {
	chatID, token := t.creds.Credentials()
	if chatID == "" {
		t.logger.Warn("telegram chat id not set, skipping notification")
		return false
	}
	if token == "" {
		t.logger.Warn("telegram bot token not set, skipping notification")
		return false
	}

	form := url.Values{
		"chat_id":    {chatID},
		"text":       {html.EscapeString(message)},
		"parse_mode": {"HTML"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		t.logger.Error("failed to build telegram request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// url.Error would include the token-bearing URL.
		t.logger.Error("failed to send telegram notification", "error", redact(err.Error(), token))
		return false
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 2048)
		t.logger.Error("failed to send telegram notification",
			"status", resp.StatusCode,
			"response", body,
		)
		return false
	}

	t.logger.Info("telegram notification sent successfully", "message", message)
	return true
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}
