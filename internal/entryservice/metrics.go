package entryservice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the tail reader's observability surface, grounded on
// store-v2/main.go's promauto.NewCounter/NewGauge registration pattern. Each
// Service owns a private registry rather than registering against the
// default global one, so that opening more than one Service in the same
// process (every test in this package does) never collides on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	entriesRead  prometheus.Counter
	holesSkipped prometheus.Counter
	tailLag      prometheus.Gauge
	queueDepth   prometheus.Gauge
}

func newMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		cacheHits: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entryservice_cache_hits_total",
			Help:      "Log positions served from the entry cache without a log read.",
		}),
		cacheMisses: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entryservice_cache_misses_total",
			Help:      "Log positions that required a log read.",
		}),
		entriesRead: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entryservice_entries_consumed_total",
			Help:      "Total log positions the tail reader has consumed.",
		}),
		holesSkipped: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entryservice_log_holes_total",
			Help:      "Log positions observed as not-yet-written (ENOENT) while scanning below the tail.",
		}),
		tailLag: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entryservice_tail_lag",
			Help:      "Difference between the log's tail and the tail reader's current position.",
		}),
		queueDepth: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entryservice_queue_depth",
			Help:      "Total undelivered intentions buffered across every registered intention queue.",
		}),
	}
}
