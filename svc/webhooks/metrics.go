package webhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes reported in metrics and logs.
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusInFlight  = "in_flight"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// unknownProvider labels deliveries for provider names that are not registered.
const unknownProvider = "unknown"

// Metrics holds the webhook collectors.
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelcredits",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook deliveries by provider, event kind and status.",
		}, []string{"provider", "kind", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixelcredits",
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Time spent dispatching a webhook event, including the database transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "kind"}),
	}
}

// observe counts one delivery. It is safe on a nil *Metrics.
func (m *Metrics) observe(provider, kind, status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(provider, kind, status).Inc()
}

// observeDuration records dispatch time. It is safe on a nil *Metrics.
func (m *Metrics) observeDuration(provider, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(provider, kind).Observe(d.Seconds())
}
