// Package ratelimit implements per-identity admission control over fixed,
// calendar-aligned windows with pluggable counter backends.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"funnel-bot/internal/metrics"
)

// Counter increments the count for key inside the window starting at windowStart.
// Implementations must be safe for concurrent use.
type Counter interface {
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// Decision is the admission result of one attempt.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
	FailOpen  bool
}

// Config bounds a gate.
type Config struct {
	Name   string
	Max    int64
	Window time.Duration
}

// Gate admits at most Max attempts per identity per window.
type Gate struct {
	name    string
	max     int64
	window  time.Duration
	counter Counter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds a gate. Window defaults to 24h (one calendar day) and Max to 50.
func New(cfg Config, counter Counter, logger *slog.Logger, m *metrics.Metrics) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Max <= 0 {
		cfg.Max = 50
	}
	if cfg.Name == "" {
		cfg.Name = "general"
	}
	return &Gate{
		name:    cfg.Name,
		max:     cfg.Max,
		window:  cfg.Window,
		counter: counter,
		logger:  logger.With("component", "ratelimit", "gate", cfg.Name),
		metrics: m,
	}
}

// Admit records one attempt for identity at now and decides whether it may proceed.
// The attempt is counted even when denied. Counter failures admit the attempt.
func (g *Gate) Admit(ctx context.Context, identity string, now time.Time) Decision {
	start := WindowStart(now, g.window)
	key := g.name + ":" + identity + ":" + strconv.FormatInt(start.Unix(), 10)

	count, err := g.counter.Increment(ctx, key, start, g.window)
	if err != nil {
		g.logger.Error("rate counter unavailable, failing open", "error", err, "identity", identity)
		g.metrics.Error("ratelimit")
		g.observe("fail_open")
		return Decision{Allowed: true, Remaining: g.max, FailOpen: true}
	}

	remaining := g.max - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: count <= g.max, Count: count, Remaining: remaining}
	if d.Allowed {
		g.observe("allowed")
	} else {
		g.observe("denied")
		g.logger.Info("rate limit exceeded", "identity", identity, "count", count, "max", g.max)
	}
	return d
}

// Max returns the configured attempt ceiling.
func (g *Gate) Max() int64 {
	return g.max
}

func (g *Gate) observe(outcome string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RateLimitDecision.WithLabelValues(g.name, outcome).Inc()
}

// WindowStart aligns now to the start of its window in UTC. A 24h window is the calendar day.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}
