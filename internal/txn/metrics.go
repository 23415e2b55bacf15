package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the transaction processor's observability surface, following
// the same private-registry-per-instance pattern as entryservice.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	intentionsProcessed prometheus.Counter
	conflictsDetected   prometheus.Counter
	afterImagesMatched  prometheus.Counter
}

func newMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		intentionsProcessed: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_intentions_processed_total",
			Help:      "Intentions the processor has validated, whether committed or aborted.",
		}),
		conflictsDetected: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_conflicts_detected_total",
			Help:      "Intentions aborted because their read set intersected an intervening write set.",
		}),
		afterImagesMatched: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_after_images_matched_total",
			Help:      "Committed intentions whose after-image has been observed by the tail reader.",
		}),
	}
}
