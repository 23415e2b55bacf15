package tree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the node store's observability surface, following the same
// private-registry-per-instance pattern as entryservice.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	storeHits   prometheus.Counter
	storeMisses prometheus.Counter
}

func newMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		storeHits: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodestore_hits_total",
			Help:      "Remote pointer resolutions served from the node store's after-image cache.",
		}),
		storeMisses: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodestore_misses_total",
			Help:      "Remote pointer resolutions that required fetching an after-image.",
		}),
	}
}
