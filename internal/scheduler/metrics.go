package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remindersEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftwise",
			Subsystem: "scheduler",
			Name:      "reminders_enqueued_total",
			Help:      "Total reminder jobs enqueued by the scheduler.",
		},
		[]string{"channel"},
	)

	remindersSkippedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftwise",
			Subsystem: "scheduler",
			Name:      "reminders_skipped_total",
			Help:      "Total reminders skipped by the scheduler.",
		},
		[]string{"channel", "reason"}, // reason: already_sent, rate_limited, already_queued
	)

	runDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "giftwise",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduler passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
