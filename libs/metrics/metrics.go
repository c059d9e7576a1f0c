package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reminder holds the counters exposed by the reminder sweep and reply paths.
type Reminder struct {
	RemindersSent    prometheus.Counter
	RemindersFailed  prometheus.Counter
	RemindersSkipped *prometheus.CounterVec
	RepliesHandled   *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
}

func NewReminder(namespace string) *Reminder {
	return &Reminder{
		RemindersSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminder SMS messages handed to the provider and accepted.",
		}),
		RemindersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_failed_total",
			Help:      "Reminder SMS messages the provider refused to deliver.",
		}),
		RemindersSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_skipped_total",
			Help:      "Sweep candidates skipped without a send attempt.",
		}, []string{"reason"}),
		RepliesHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_replies_total",
			Help:      "Inbound SMS replies by interpreted outcome.",
		}, []string{"outcome"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one reminder sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the default prometheus registry, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
