package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	WebhookEvents        *prometheus.CounterVec
	ShipmentTransitions  *prometheus.CounterVec
	ProviderCalls        *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	PaymentOrders        *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_webhook_events_total",
				Help: "Total webhook deliveries by processing result",
			},
			[]string{"result"},
		),
		ShipmentTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_shipment_transitions_total",
				Help: "Total stored shipment status transitions by source",
			},
			[]string{"from", "to", "source"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_provider_calls_total",
				Help: "Total carrier API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_provider_call_duration_seconds",
				Help:    "Carrier API call duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PaymentOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_payment_orders_total",
				Help: "Total create-order requests by result (created, replayed)",
			},
			[]string{"result"},
		),
	}
}

// RecordWebhookEvent records the outcome of one webhook delivery.
func (m *Metrics) RecordWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(result).Inc()
}

// RecordShipmentTransition records a stored status change.
func (m *Metrics) RecordShipmentTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.ShipmentTransitions.WithLabelValues(from, to, source).Inc()
}

// RecordProviderCall records a carrier API call.
func (m *Metrics) RecordProviderCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(operation, outcome).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordPaymentOrder records a create-order result.
func (m *Metrics) RecordPaymentOrder(result string) {
	if m == nil {
		return
	}
	m.PaymentOrders.WithLabelValues(result).Inc()
}
