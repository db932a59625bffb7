package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	marksWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "receipt_marks_written_total",
		Help:      "Seen-by marks written to the store.",
	})

	marksSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "receipt_marks_skipped_total",
		Help:      "Mark-seen calls skipped because the receipt was already true.",
	})

	fanoutFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "receipt_fanout_failures_total",
		Help:      "Individual writes that failed inside a mark-thread-seen batch.",
	})
)
