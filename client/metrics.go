package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "notification_mutations_total",
		Help:      "Notification feed mutations issued through the session, by operation.",
	}, []string{"op"})

	journalReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "unihealth_sync",
		Name:      "journal_replays_total",
		Help:      "Journaled mutations resubmitted on session open or refresh.",
	})
)
