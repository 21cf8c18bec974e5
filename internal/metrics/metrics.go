package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingMessages  *prometheus.CounterVec
	LLMRequests       *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec
	RateLimitDecision *prometheus.CounterVec
	FlowTransitions   *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	EmailDeliveries   *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg skips registration,
// which keeps tests free of the global default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_messages_total",
			Help:      "Total inbound chat messages grouped by handling path.",
		}, []string{"path"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total model requests by operation and outcome.",
		}, []string{"operation", "status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency distribution for model requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		RateLimitDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate gate decisions grouped by gate and outcome.",
		}, []string{"gate", "outcome"}),
		FlowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_transitions_total",
			Help:      "Purchase flow transitions grouped by source and target state.",
		}, []string{"from", "to"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_notifications_total",
			Help:      "Administrative notifications grouped by kind and outcome.",
		}, []string{"kind", "status"}),
		EmailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_deliveries_total",
			Help:      "Book delivery emails grouped by outcome.",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.IncomingMessages,
			m.LLMRequests,
			m.LLMLatency,
			m.RateLimitDecision,
			m.FlowTransitions,
			m.Notifications,
			m.EmailDeliveries,
			m.Errors,
		)
	}
	return m
}

// Discard returns unregistered collectors for tests and tools.
func Discard() *Metrics {
	return New("test", nil)
}

// Error increments the error counter for component. Safe on a nil receiver.
func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
