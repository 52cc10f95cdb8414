// Package metrics defines the Prometheus collectors for the core. All
// collectors are registered at init via promauto and shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Proof generation

	ProofGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veilcore_proof_generation_duration_seconds",
		Help:    "Wall time of withdrawal proof generation",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ProofCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilcore_proof_cache_hits_total",
		Help: "Proof cache hits (same inputs, same root)",
	})

	ProofCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilcore_proof_cache_misses_total",
		Help: "Proof cache misses",
	})

	ProofVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_proof_verifications_total",
			Help: "Local proof verifications by outcome",
		},
		[]string{"result"},
	)

	// Deposit / withdraw flows

	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_deposits_total",
			Help: "Deposit attempts by terminal state",
		},
		[]string{"state"},
	)

	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_withdrawals_total",
			Help: "Withdrawal attempts by terminal state",
		},
		[]string{"state"},
	)

	StaleRootRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilcore_stale_root_retries_total",
		Help: "Proof regenerations caused by a root moving mid-withdrawal",
	})

	// Ledger I/O

	LedgerSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veilcore_ledger_submission_duration_seconds",
			Help:    "Submit-and-confirm latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	LedgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_ledger_errors_total",
			Help: "Ledger submission failures by mapped kind",
		},
		[]string{"kind"},
	)

	// Relayer registry

	RelayerRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_relayer_refreshes_total",
			Help: "Relayer registry refreshes by outcome",
		},
		[]string{"result"},
	)

	RelayersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veilcore_relayers_active",
		Help: "Active relayers in the last registry snapshot",
	})

	// Events

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_events_published_total",
			Help: "Lifecycle events published to NATS",
		},
		[]string{"subject"},
	)

	EventsPublishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilcore_events_publish_failed_total",
			Help: "Lifecycle event publish failures",
		},
		[]string{"subject"},
	)

	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veilcore_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
