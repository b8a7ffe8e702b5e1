package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes recorded on catalog_sync_events_total.
const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_events_total",
		Help: "Events applied by the sync engine, by action and outcome.",
	}, []string{"action", "outcome"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_resolve_duration_seconds",
		Help:    "Latency of remote resolver calls.",
		Buckets: prometheus.DefBuckets,
	})

	edgesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_sync_edges_written_total",
		Help: "Relation edges inserted by the sync engine.",
	})
)
