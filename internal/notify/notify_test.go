package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/logging"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/retry"
)

type brokenNotifier struct{}

func (brokenNotifier) Notify(context.Context, string) error { return errors.New("offline") }

func TestSendRecordsOutcome(t *testing.T) {
	m := metrics.Discard()
	log := NewLogNotifier(logging.Discard())

	assert.True(t, Send(context.Background(), log, m, logging.Discard(), KindOrder, "nuevo pedido"))
	assert.False(t, Send(context.Background(), brokenNotifier{}, m, logging.Discard(), KindOrder, "nuevo pedido"))
	assert.False(t, Send(context.Background(), nil, m, logging.Discard(), KindOrder, "x"))

	assert.Equal(t, []string{"nuevo pedido"}, log.Sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(KindOrder, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(KindOrder, "error")))
}

type flakyNotifier struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyNotifier) Notify(context.Context, string) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("temporarily unavailable")
	}
	return nil
}

type hangingNotifier struct{}

func (hangingNotifier) Notify(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRetryingRecoversFromTransientFailure(t *testing.T) {
	m := metrics.Discard()
	flaky := &flakyNotifier{failures: 1}
	n := NewRetrying(flaky, retry.Policy{Attempts: 3}, time.Second, logging.Discard())

	assert.True(t, Send(context.Background(), n, m, logging.Discard(), KindProof, "comprobante"))
	assert.Equal(t, int32(2), flaky.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(KindProof, "ok")))
}

func TestRetryingGivesUpAfterPolicy(t *testing.T) {
	flaky := &flakyNotifier{failures: 10}
	n := NewRetrying(flaky, retry.Policy{Attempts: 3}, time.Second, logging.Discard())

	err := n.Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryingBoundsEachAttempt(t *testing.T) {
	n := NewRetrying(hangingNotifier{}, retry.Policy{Attempts: 2}, 20*time.Millisecond, logging.Discard())

	start := time.Now()
	err := n.Notify(context.Background(), "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
