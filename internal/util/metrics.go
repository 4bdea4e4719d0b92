package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of draft orders created at checkout initiation",
	})

	OrdersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of orders confirmed by checkout completion",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order operations",
	}, []string{"reason"})

	BatchAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_admissions_total",
		Help: "Total number of orders admitted to a batch",
	})

	BatchesReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_ready_total",
		Help: "Total number of batches that reached their target count",
	})

	BatchesShippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_shipped_total",
		Help: "Total number of batches shipped by an operator",
	})

	BatchAdmissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_admission_latency_seconds",
		Help:    "Latency of batch admission operations",
		Buckets: prometheus.DefBuckets,
	})

	SubscriptionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_created_total",
		Help: "Total number of dormant subscriptions created",
	})

	SubscriptionsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_activated_total",
		Help: "Total number of subscriptions activated after delivery",
	})

	SubscriptionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_cancelled_total",
		Help: "Total number of provider-originated subscription cancellations",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook events by type and outcome",
	}, []string{"type", "outcome"})

	WebhookVerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_verification_failures_total",
		Help: "Total number of webhook payloads rejected at signature verification",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
