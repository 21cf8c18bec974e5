package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("funnel", reg)

	m.Error("flow")
	m.Error("flow")
	m.RateLimitDecision.WithLabelValues("general", "denied").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Errors.WithLabelValues("flow")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["funnel_errors_total"])
	assert.True(t, names["funnel_rate_limit_decisions_total"])
}

func TestErrorOnNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Error("any") })
}
