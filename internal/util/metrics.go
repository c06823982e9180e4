package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedemptionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemptions_created_total",
		Help: "Total number of redemption requests created",
	})

	RedemptionsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemptions_processed_total",
		Help: "Total number of redemption requests marked processed",
	})

	RedemptionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemptions_cancelled_total",
		Help: "Total number of redemption requests cancelled and refunded",
	})

	RedemptionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redemptions_failed_total",
		Help: "Total number of rejected redemption submissions",
	}, []string{"kind"})

	LedgerDeltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_deltas_total",
		Help: "Total number of balance deltas by outcome",
	}, []string{"result"})

	LedgerConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Total number of compare-and-set retries on account balances",
	})

	BulkChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulk_chunk_latency_seconds",
		Help:    "Latency of one bulk adjustment chunk",
		Buckets: prometheus.DefBuckets,
	})

	BulkAccountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_accounts_total",
		Help: "Accounts touched by bulk adjustments by outcome",
	}, []string{"result"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submissions_total",
		Help: "Asynchronous redemption submissions by final state",
	}, []string{"state"})

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
