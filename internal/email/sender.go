// Package email sends book delivery emails and keeps the per-order delivery log.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrRejected marks a request the provider refused; retrying it cannot succeed.
var ErrRejected = errors.New("email rejected by provider")

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config holds HTTP provider settings.
type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// HTTPSender talks to a Resend-compatible JSON API (POST /emails).
type HTTPSender struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

// NewHTTPSender creates a provider client.
func NewHTTPSender(cfg Config, logger *slog.Logger) *HTTPSender {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.resend.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSender{
		logger:  logger.With("component", "email"),
		baseURL: base,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(sendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("User-Agent", "funnel-bot/email-client")

	res, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("email request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return "", classifyHTTPError(res.StatusCode, string(body))
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	s.logger.Info("email sent", "to", msg.To, "id", out.ID)
	return out.ID, nil
}

func classifyHTTPError(status int, body string) error {
	snippet := strings.TrimSpace(body)
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return fmt.Errorf("%w: status=%d body=%s", ErrRejected, status, snippet)
	}
	return fmt.Errorf("email provider error: status=%d body=%s", status, snippet)
}

// LogSender records messages instead of sending them. It is used in mock mode.
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogSender returns a sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "email")}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	id := fmt.Sprintf("log-%d", len(s.sent))
	s.mu.Unlock()
	s.logger.Info("email captured", "to", msg.To, "subject", msg.Subject)
	return id, nil
}

// Sent returns the captured messages.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
