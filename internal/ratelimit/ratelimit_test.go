package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/cache"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/metrics"
)

func newGate(max int64, counter Counter) *Gate {
	return New(Config{Name: "general", Max: max, Window: 24 * time.Hour}, counter, logging.Discard(), metrics.Discard())
}

func TestGateDeniesAttemptPastMax(t *testing.T) {
	gate := newGate(50, NewMemoryCounter())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 50; i++ {
		d := gate.Admit(context.Background(), "sub-1", now.Add(time.Duration(i)*time.Minute))
		require.True(t, d.Allowed, "attempt %d should be allowed", i)
		assert.Equal(t, int64(i), d.Count)
		assert.Equal(t, int64(50-i), d.Remaining)
	}

	d := gate.Admit(context.Background(), "sub-1", now.Add(2*time.Hour))
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(51), d.Count)
	assert.Equal(t, int64(0), d.Remaining)

	d = gate.Admit(context.Background(), "sub-1", now.Add(3*time.Hour))
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(52), d.Count, "denied attempts are still recorded")
}

func TestGateResetsInNewWindow(t *testing.T) {
	gate := newGate(2, NewMemoryCounter())
	day := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	gate.Admit(context.Background(), "sub-1", day)
	gate.Admit(context.Background(), "sub-1", day)
	assert.False(t, gate.Admit(context.Background(), "sub-1", day).Allowed)

	next := gate.Admit(context.Background(), "sub-1", day.Add(2*time.Hour))
	assert.True(t, next.Allowed)
	assert.Equal(t, int64(1), next.Count)
}

func TestGateKeepsIdentitiesApart(t *testing.T) {
	gate := newGate(1, NewMemoryCounter())
	now := time.Now()
	assert.True(t, gate.Admit(context.Background(), "a", now).Allowed)
	assert.True(t, gate.Admit(context.Background(), "b", now).Allowed)
	assert.False(t, gate.Admit(context.Background(), "a", now).Allowed)
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestGateFailsOpen(t *testing.T) {
	gate := newGate(1, failingCounter{})
	for i := 0; i < 3; i++ {
		d := gate.Admit(context.Background(), "sub-1", time.Now())
		assert.True(t, d.Allowed)
		assert.True(t, d.FailOpen)
	}
}

func TestGateFailsOpenWhenRedisIsDown(t *testing.T) {
	r := cache.New(cache.Config{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond}, logging.Discard())
	defer r.Close()
	gate := newGate(1, NewRedisCounter(r))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d := gate.Admit(ctx, "sub-1", time.Now())
	assert.True(t, d.Allowed)
	assert.True(t, d.FailOpen)
}

func TestMemoryCounterExpiresKeys(t *testing.T) {
	c := NewMemoryCounter()
	start := time.Now()
	_, err := c.Increment(context.Background(), "k", start, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWindowStartIsCalendarDay(t *testing.T) {
	ts := time.Date(2026, 5, 4, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), WindowStart(ts, 24*time.Hour))
}
