package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zerotrust_events_ingested_total",
		Help: "Total number of events accepted by the pipeline, labelled by mode.",
	}, []string{"mode"})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerotrust_events_rejected_total",
		Help: "Total number of raw events rejected at validation.",
	})

	AnomaliesFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zerotrust_anomalies_flagged_total",
		Help: "Total number of live events flagged anomalous, labelled by event type.",
	}, []string{"event_type"})

	AnomaliesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerotrust_anomalies_resolved_total",
		Help: "Total number of anomalies resolved by operator feedback.",
	})

	TrustScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zerotrust_trust_score",
		Help: "Current live-session trust score (0-100).",
	})

	ModelRetrains = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerotrust_model_retrains_total",
		Help: "Total number of anomaly model builds, initial training included.",
	})

	PredictionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zerotrust_prediction_duration_ms",
		Help:    "Anomaly prediction latency in milliseconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerotrust_broadcasts_dropped_total",
		Help: "Total number of best-effort notifications dropped.",
	})
)
