package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "issuenotifier"

// Processing outcomes.
const (
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notifications in queue by status",
		},
		[]string{"status"},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "processed_total",
			Help:      "Total queued batches processed by outcome",
		},
		[]string{"outcome"},
	)

	notificationSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a message including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	webhookAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "webhook_attempts_total",
			Help:      "Total webhook HTTP attempts by final result of the delivery",
		},
		[]string{"result"},
	)

	enqueueResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "enqueue_total",
			Help:      "Total enqueue calls by result",
		},
		[]string{"result"},
	)

	recoveredItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "recovered_total",
			Help:      "Total batches found stuck in processing at startup",
		},
	)
)

func recordProcessed(outcome string) {
	notificationsProcessed.WithLabelValues(outcome).Inc()
}

func recordSend(attempts int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	webhookAttempts.WithLabelValues(result).Add(float64(attempts))
	notificationSendDuration.Observe(duration.Seconds())
}

func recordEnqueue(result EnqueueResult) {
	enqueueResults.WithLabelValues(string(result)).Inc()
}

func recordRecovered(count int64) {
	recoveredItems.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	notificationQueueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(QueueStatusProcessing)).Set(float64(stats.Processing))
	notificationQueueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	notificationQueueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
}
