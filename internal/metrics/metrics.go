package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics counts webhook deliveries and outbound processor calls. All Record
// methods are nil-safe so wiring stays optional in tests.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	processorCalls *prometheus.CounterVec
}

func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

func newWith(registerer prometheus.Registerer) *Metrics {
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhook_events_total",
		Help: "Webhook notifications by event type and reconciliation outcome.",
	}, []string{"event_type", "outcome"})
	processorCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_processor_calls_total",
		Help: "Outbound processor calls by operation and result.",
	}, []string{"operation", "result"})

	registerer.MustRegister(webhookEvents, processorCalls)

	return &Metrics{
		webhookEvents:  webhookEvents,
		processorCalls: processorCalls,
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(strings.TrimSpace(eventType), outcome).Inc()
}

func (m *Metrics) RecordProcessorCall(operation, result string) {
	if m == nil {
		return
	}
	m.processorCalls.WithLabelValues(operation, result).Inc()
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
