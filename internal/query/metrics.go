package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_query_duration_seconds",
		Help:    "Latency of graph queries, by root entity type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"entity"})

	rowsReturned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_query_rows_total",
		Help: "Rows assembled by graph queries at every level.",
	})
)
