// Package obs holds the operational metrics of an index.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics of one index instance.
type Metrics struct {
	VectorInserts prometheus.Counter
	SearchQueries prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram
	SoftDeletes   prometheus.Counter
	Compactions   prometheus.Counter
}

// NewMetrics registers the metric set against reg. Each index gets its
// own registerer so several indexes coexist in one process; pass a
// shared registerer to aggregate.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		VectorInserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgevec_vector_inserts_total",
			Help: "Total vector insertions",
		}),
		SearchQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgevec_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgevec_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "edgevec_search_latency_seconds",
			Help: "Search latency",
		}),
		SoftDeletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgevec_soft_deletes_total",
			Help: "Total soft deletions",
		}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgevec_compactions_total",
			Help: "Total compactions",
		}),
	}
}
