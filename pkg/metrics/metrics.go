// Package metrics holds the Prometheus instruments shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument. Build it once in main and pass it down.
type Metrics struct {
	// Ingest: records pulled from each source and the ones dropped
	EventsConsumed *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Verification and scoring
	Verdicts        *prometheus.CounterVec
	Predictions     prometheus.Counter
	ScoringFailures prometheus.Counter
	ScoringLatency  prometheus.Histogram

	// Alerts by kind, and alerts that had nowhere to go
	Alerts        *prometheus.CounterVec
	AlertsDropped *prometheus.CounterVec

	// Outbound
	PublishFailures   prometheus.Counter
	Deliveries        *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// New registers the instruments on reg. A nil reg gets a private registry so
// tests can build as many instances as they like.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_events_consumed_total",
			Help: "Upstream records consumed, by source.",
		}, []string{"source"}),

		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_events_dropped_total",
			Help: "Upstream records dropped, by source and reason.",
		}, []string{"source", "reason"}), // reasons: malformed, ignored

		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_verdicts_total",
			Help: "Token verifications, by severity.",
		}, []string{"severity"}),

		Predictions: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_predictions_total",
			Help: "Successful classifier predictions.",
		}),

		ScoringFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_scoring_failures_total",
			Help: "Events skipped because the classifier failed.",
		}),

		ScoringLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardian_scoring_duration_seconds",
			Help:    "Classifier latency.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_total",
			Help: "Alerts generated, by kind.",
		}, []string{"kind"}),

		AlertsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_dropped_total",
			Help: "Alerts dropped before delivery, by reason.",
		}, []string{"reason"}), // reasons: no_tenant

		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "guardian_alert_publish_failures_total",
			Help: "Alerts that could not be written to the outbound topic.",
		}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_broadcast_deliveries_total",
			Help: "Live deliveries, by result.",
		}, []string{"result"}), // results: ok, failed

		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_active_connections",
			Help: "Live connections across all tenants.",
		}),
	}
}
