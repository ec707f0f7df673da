package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline and ingest instrumentation. Registered once on the default
// registry; exposed via Handler on /metrics.
var (
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_records_ingested_total",
		Help: "Ledger records accepted at the ingest API, by record kind.",
	}, []string{"kind"})

	DuplicateRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_records_duplicate_total",
		Help: "Ledger appends rejected as replays of an existing version token.",
	})

	RecordsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_records_applied_total",
		Help: "Ledger records applied by the pipeline, by record kind.",
	}, []string{"kind"})

	FactsBound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_facts_bound_total",
		Help: "Facts bound to a dimension version.",
	})

	FactsParked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_facts_parked_total",
		Help: "Facts parked because no dimension version covered their event time.",
	})

	FactsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_facts_escalated_total",
		Help: "Parked facts escalated to the operator error queue after exhausting the retry budget.",
	})

	LateFacts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_late_facts_total",
		Help: "Facts whose event time preceded the checkpoint watermark when applied.",
	})

	FactsRebound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_facts_rebound_total",
		Help: "Facts repointed to a different dimension version by a late correction.",
	})

	ConflictsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_dimension_conflicts_total",
		Help: "Out-of-order dimension changes escalated to the operator error queue.",
	})

	BucketsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_buckets_updated_total",
		Help: "Aggregate buckets touched by flushed deltas.",
	})

	PendingFacts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_pending_facts",
		Help: "Facts currently parked awaiting a dimension version.",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_pipeline_batch_seconds",
		Help:    "Wall time of one pipeline batch cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
