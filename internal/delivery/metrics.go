package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftwise",
			Subsystem: "delivery",
			Name:      "jobs_processed_total",
			Help:      "Total delivery jobs processed.",
		},
		[]string{"channel", "status"}, // status: sent, failed, released, permanently_failed, skipped_duplicate
	)

	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "giftwise",
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Duration of transport sends.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	batchItemsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftwise",
			Subsystem: "delivery",
			Name:      "batch_items_total",
			Help:      "Total batch descriptors by result.",
		},
		[]string{"result"}, // enqueued, skipped, rate_limited, failed
	)
)
