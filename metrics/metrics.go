// Package metrics exposes the federation counters served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anancus_inbound_activities_total",
		Help: "Inbound activities processed, by activity type.",
	}, []string{"type"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anancus_deliveries_total",
		Help: "Outbound delivery attempts, by result (ok, retry, dead).",
	}, []string{"result"})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anancus_queue_retries_total",
		Help: "Queue items rescheduled after a transient failure.",
	})

	DeadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anancus_queue_dead_letters_total",
		Help: "Queue items archived after exhausting their retries.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "anancus_queue_depth",
		Help: "Pending items per queue scope.",
	}, []string{"scope"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anancus_http_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter.",
	})

	OversizeRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anancus_http_oversize_rejected_total",
		Help: "Requests rejected for exceeding the body size limit.",
	})
)
