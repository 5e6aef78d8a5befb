package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gurukul"

// Metrics holds the Prometheus collectors exported by the API.
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents         *prometheus.CounterVec
	AuthorizationDecision *prometheus.CounterVec
	MediaOperations       *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_webhook_events_total",
				Help:      "Identity provider webhook deliveries by event type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
		AuthorizationDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_decisions_total",
				Help:      "Role gate decisions by result.",
			},
			[]string{"decision"},
		),
		MediaOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_operations_total",
				Help:      "Media object store operations by kind and result.",
			},
			[]string{"operation", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookEvents,
		m.AuthorizationDecision,
		m.MediaOperations,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWebhook counts a webhook delivery. Safe on a nil receiver.
func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveDecision counts a gate decision. Safe on a nil receiver.
func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthorizationDecision.WithLabelValues(decision).Inc()
}

// ObserveMedia counts an object store call. Safe on a nil receiver.
func (m *Metrics) ObserveMedia(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MediaOperations.WithLabelValues(operation, result).Inc()
}
