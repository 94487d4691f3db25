package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// PayoutExecutions counts protocol runs by outcome (success or error code).
	PayoutExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_payout_executions_total",
		Help: "Payout protocol executions by outcome",
	}, []string{"outcome"})

	// PayoutChallenges counts executions that hit the second-factor challenge.
	PayoutChallenges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsys_payout_challenges_total",
		Help: "Payout executions that required a second-factor challenge",
	})

	// PayoutStepLatency records latency of each outbound protocol call.
	PayoutStepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finsys_payout_step_latency_seconds",
		Help:    "Latency of payout protocol steps in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	// PayoutStepRetries counts transport-level retries per step.
	PayoutStepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_payout_step_retries_total",
		Help: "Transport retries per payout protocol step",
	}, []string{"step"})

	// RequestTransitions counts committed lifecycle transitions.
	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_request_transitions_total",
		Help: "Committed payout request transitions by resulting status",
	}, []string{"status"})

	// RequestsCreated counts new payout requests.
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsys_requests_created_total",
		Help: "Payout requests created",
	})

	// UnreconciledPayouts counts transfers that succeeded but were not recorded.
	UnreconciledPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsys_unreconciled_payouts_total",
		Help: "Payouts sent whose approval could not be committed",
	})

	// NotificationFailures counts failed best-effort notifications per channel.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_notification_failures_total",
		Help: "Failed status-change notifications by notifier",
	}, []string{"notifier"})

	// DirectoryLookups counts group directory lookups by cache result.
	DirectoryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsys_directory_lookups_total",
		Help: "Group directory lookups by cache result",
	}, []string{"result"})

	// StalePendingRequests is the number of pending requests older than the stale threshold.
	StalePendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finsys_stale_pending_requests",
		Help: "Pending payout requests older than the stale threshold",
	})
)

// TrackStep returns a function that records step latency when called (e.g. defer).
func TrackStep(step string) func() {
	start := time.Now()
	return func() {
		PayoutStepLatency.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}
