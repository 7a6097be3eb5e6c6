package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_events_enqueued_total",
		Help: "Total number of events placed on a partition queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_events_processed_total",
		Help: "Total number of events fully scored by the engine.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_events_dropped_total",
		Help: "Total number of events rejected due to a full partition queue.",
	})

	ThreatLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_threat_levels_total",
		Help: "Scored events, labelled by threat level.",
	}, []string{"level"})

	LogicTiers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_logic_tiers_total",
		Help: "Scored events, labelled by the blending tier that produced the base score.",
	}, []string{"tier"})

	NarrativesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_narratives_completed_total",
		Help: "Completed narratives, labelled by template ID.",
	}, []string{"template_id"})

	NarrativesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_narratives_persisted_total",
		Help: "Narratives written to the store.",
	})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_persist_failures_total",
		Help: "Asynchronous writes that failed or were dropped, labelled by kind and reason.",
	}, []string{"kind", "reason"})

	SignalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_signal_failures_total",
		Help: "Signals that panicked and contributed zero, labelled by signal.",
	}, []string{"signal"})

	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_ml_oracle_failures_total",
		Help: "ML oracle calls that errored, timed out or returned an invalid probability.",
	})

	ReputationScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_reputation_scans_total",
		Help: "Hash-reputation API requests, labelled by status.",
	}, []string{"status"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "argus_event_processing_duration_ms",
		Help:    "End-to-end event scoring latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "argus_queue_utilization_ratio",
		Help: "Current partition queue utilization (0–1).",
	})

	TrackedActors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "argus_tracked_actors",
		Help: "Actors with a live activity window.",
	})
)
