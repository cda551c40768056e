package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency of the order creation unit of work",
		Buckets: prometheus.DefBuckets,
	})

	DiscountsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discounts_applied_total",
		Help: "Total number of orders paid partly with loyalty points",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"from", "to"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	PointsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Total loyalty points awarded on delivery",
	})

	PointsReversedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_reversed_total",
		Help: "Total loyalty points moved by cancellation reversals",
	})

	IntegrityAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_anomalies_total",
		Help: "Total number of data integrity anomalies handled in degraded mode",
	}, []string{"kind"})

	PaymentConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Total number of gateway outcomes processed",
	}, []string{"outcome"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment confirmation",
		Buckets: prometheus.DefBuckets,
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of unpaid online orders released by the expiry sweep",
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
