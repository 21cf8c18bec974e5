// Package llm adapts hosted model providers to the two calls the bot needs:
// chat completion and text embedding.
package llm

import (
	"context"
	"errors"
	"time"

	"funnel-bot/internal/metrics"
)

// Role of a chat message sent to the model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior exchange passed as context.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single completion call.
type Request struct {
	// Operation labels metrics and logs, e.g. "classify" or "generate".
	Operation   string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer produces a text completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("llm returned empty response")

func observe(m *metrics.Metrics, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	m.LLMRequests.WithLabelValues(operation, status).Inc()
	m.LLMLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func operationOf(req Request) string {
	if req.Operation == "" {
		return "complete"
	}
	return req.Operation
}
