// Package notify delivers operator alerts such as new orders, payment proofs and
// escalations.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"funnel-bot/internal/metrics"
	"funnel-bot/internal/retry"
)

// Notifier sends a plain-text alert to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Kinds label alerts in metrics and logs.
const (
	KindOrder       = "order"
	KindProof       = "proof"
	KindPayment     = "payment"
	KindEscalation  = "escalation"
	KindPaidSession = "paid_session"
)

// LogNotifier writes alerts to the log. It is used in mock mode and when no admin
// chat is configured.
type LogNotifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []string
}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	n.sent = append(n.sent, text)
	n.mu.Unlock()
	n.logger.Info("admin notification", "text", text)
	return nil
}

// Sent returns the alerts delivered so far.
func (n *LogNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	copy(out, n.sent)
	return out
}

// Retrying retries a Notifier with a bounded policy. Each attempt gets its own timeout.
type Retrying struct {
	next    Notifier
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// NewRetrying wraps next. A zero timeout defaults to 10s.
func NewRetrying(next Notifier, policy retry.Policy, timeout time.Duration, logger *slog.Logger) *Retrying {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retrying{next: next, policy: policy, timeout: timeout, logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (r *Retrying) Notify(ctx context.Context, text string) error {
	attempts, err := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if err := r.next.Notify(ctx, text); err != nil {
			r.logger.Warn("notification attempt failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("notify after %d attempts: %w", attempts, err)
	}
	return nil
}

// Send delivers text through n and records the outcome. Delivery failures are logged
// and never returned: alerts must not break the conversation.
func Send(ctx context.Context, n Notifier, m *metrics.Metrics, logger *slog.Logger, kind, text string) bool {
	if n == nil {
		return false
	}
	status := "ok"
	err := n.Notify(ctx, text)
	if err != nil {
		status = "error"
		logger.Warn("admin notification failed", "kind", kind, "error", err)
	}
	if m != nil {
		m.Notifications.WithLabelValues(kind, status).Inc()
	}
	return err == nil
}
