package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwyc_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pwyc_upstream_seconds",
			Help:    "Duration of outbound calls to the scheduling provider and payment services",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	SlotFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pwyc_slot_fetch_failures_total",
			Help: "Event definitions dropped from availability because their slot fetch failed",
		},
	)

	PaymentGateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwyc_payment_gate_total",
			Help: "Payment gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pwyc_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pwyc_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pwyc_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal, UpstreamDuration, SlotFetchFailures, PaymentGateOutcomes, OutboxLag, RabbitPublishRetries, RateLimitExceeded)
	})
}
