package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportRequestsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_requests_submitted_total",
		Help: "Total number of import requests accepted by intake",
	})

	SourcingTriggerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sourcing_trigger_failures_total",
		Help: "Total number of sourcing triggers that could not be published",
	})

	QuotesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_generated_total",
		Help: "Total number of requests quoted, by quote source",
	}, []string{"source"})

	SourcingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sourcing_failures_total",
		Help: "Total number of sourcing agent runs that did not produce quotes",
	}, []string{"reason"})

	ReasoningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reasoning_request_latency_seconds",
		Help:    "Latency of calls to the reasoning service",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45},
	})

	ImportOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_orders_created_total",
		Help: "Total number of import orders created from quotes",
	})

	PaymentsInitializedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initialized_total",
		Help: "Total number of payment initializations, by outcome",
	}, []string{"outcome"})

	PaymentProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Total number of payment webhooks, by outcome",
	}, []string{"outcome"})

	PaymentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments completed, by purpose",
	}, []string{"purpose"})

	ShipmentAdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_advances_total",
		Help: "Total number of tracking stage transitions, by stage",
	}, []string{"stage"})

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
