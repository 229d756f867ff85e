package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	webhookRequests *prometheus.CounterVec
	webhookLatency  prometheus.Histogram
	authCallbacks   *prometheus.CounterVec
	greetings       *prometheus.CounterVec
	chatMessages    *prometheus.CounterVec
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "webhook_requests_total",
			Help:      "Webhook relay attempts by outcome.",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowbot",
			Name:      "webhook_request_duration_seconds",
			Help:      "Latency of webhook relay calls that reached the network.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		authCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "auth_callbacks_total",
			Help:      "OAuth callbacks by outcome.",
		}, []string{"outcome"}),
		greetings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "greetings_total",
			Help:      "Greeting generations by outcome.",
		}, []string{"outcome"}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "chat_messages_total",
			Help:      "Chat messages appended by sender.",
		}, []string{"sender"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookRequests,
		m.webhookLatency,
		m.authCallbacks,
		m.greetings,
		m.chatMessages,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveWebhook records one webhook call. elapsed is ignored when zero.
func (m *Metrics) ObserveWebhook(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.webhookLatency.Observe(elapsed.Seconds())
	}
}

// AuthCallback records the outcome of an OAuth callback.
func (m *Metrics) AuthCallback(outcome string) {
	if m == nil {
		return
	}
	m.authCallbacks.WithLabelValues(outcome).Inc()
}

// Greeting records the outcome of a greeting generation.
func (m *Metrics) Greeting(outcome string) {
	if m == nil {
		return
	}
	m.greetings.WithLabelValues(outcome).Inc()
}

// ChatMessage records an appended chat message.
func (m *Metrics) ChatMessage(sender string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(sender).Inc()
}

// WebhookRequests exposes the webhook outcome counter.
func (m *Metrics) WebhookRequests() *prometheus.CounterVec {
	return m.webhookRequests
}

// AuthCallbacks exposes the OAuth callback outcome counter.
func (m *Metrics) AuthCallbacks() *prometheus.CounterVec {
	return m.authCallbacks
}
