package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveryAttempts counts provider calls by outcome: sent, transient or permanent
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_delivery_attempts_total",
		Help: "Total number of provider send attempts by outcome.",
	}, []string{"outcome"})

	// Deliveries counts recipients by final result after retries
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_deliveries_total",
		Help: "Total number of recipients processed by final result.",
	}, []string{"result"})

	CampaignsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_campaigns_finished_total",
		Help: "Total number of campaign dispatches by terminal status.",
	}, []string{"status"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsletter_dispatch_duration_seconds",
		Help:    "Wall time spent dispatching one campaign.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	SchedulerScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_scheduler_scans_total",
		Help: "Total number of due-campaign scans by trigger.",
	}, []string{"trigger"})

	SchedulerDue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsletter_scheduler_due_campaigns",
		Help: "Number of due campaigns found by the most recent scan.",
	})

	CampaignsRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsletter_campaigns_repaired_total",
		Help: "Total number of campaigns reconciled after being stuck in sending.",
	})

	SubscriberEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_subscriber_events_total",
		Help: "Total number of subscriber lifecycle events.",
	}, []string{"event"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsletter_http_request_duration_seconds",
		Help:    "Latency of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Outcome labels for DeliveryAttempts
const (
	OutcomeSent      = "sent"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// Result labels for Deliveries
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// StartDispatchTimer starts timing one campaign dispatch
func StartDispatchTimer() *prometheus.Timer {
	return prometheus.NewTimer(DispatchDuration)
}
