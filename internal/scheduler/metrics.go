package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batchesTotal counts daily batch runs, including empty ones.
	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promotiond_batches_total",
			Help: "Number of deferred-promotion batch runs",
		},
	)

	// finalizedTotal counts finalize outcomes per terminal status.
	finalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotiond_finalized_total",
			Help: "Deferred promotions finalized, by terminal status",
		},
		[]string{"status"},
	)
)
