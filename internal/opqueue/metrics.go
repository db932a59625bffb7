package opqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "ops_submitted_total",
		Help:      "Background ops accepted by the executor.",
	})

	opsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "ops_rejected_total",
		Help:      "Submissions rejected because a shard queue stayed full.",
	})

	opsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "ops_retried_total",
		Help:      "Retry attempts across all background ops.",
	})

	opsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "ops_failed_total",
		Help:      "Ops that exhausted retries or failed terminally.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "unihealth_sync",
		Name:      "op_queue_depth",
		Help:      "Ops currently buffered across all shards.",
	})
)
