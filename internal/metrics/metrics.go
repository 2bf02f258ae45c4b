package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quote lifecycle
	QuotesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_quotes_created_total",
			Help: "Total number of quotes created",
		},
		[]string{"funding_chain", "execution_chain"},
	)

	QuotesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_quotes_committed_total",
			Help: "Total number of quotes committed",
		},
		[]string{"execution_chain", "path"},
	)

	QuoteTransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosspay_quote_transition_conflicts_total",
		Help: "Lost conditional quote status updates (expected under concurrency)",
	})

	QuotesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosspay_quotes_expired_total",
		Help: "Total number of quotes expired by the sweep",
	})

	// Approvals
	ApprovalSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_approval_submissions_total",
			Help: "Approval submissions by outcome",
		},
		[]string{"chain", "outcome"},
	)

	// Settlement
	FundingPaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_funding_payments_recorded_total",
			Help: "Funding payments ingested, including idempotent replays",
		},
		[]string{"chain", "outcome"},
	)

	ExecutionResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_execution_results_total",
			Help: "Execution results recorded by status",
		},
		[]string{"chain", "status"},
	)

	// Risk
	RiskDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_risk_denials_total",
			Help: "Spend requests denied by the risk controller",
		},
		[]string{"chain", "reason"},
	)

	CircuitBreakerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crosspay_circuit_breaker_active",
			Help: "Whether the chain circuit breaker is tripped (1) or clear (0)",
		},
		[]string{"chain"},
	)

	DailySpent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crosspay_daily_spent",
			Help: "Amount spent today per chain",
		},
		[]string{"chain"},
	)

	// Transport
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crosspay_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosspay_nats_messages_failed_total",
			Help: "NATS messages that failed processing",
		},
		[]string{"subject"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crosspay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
