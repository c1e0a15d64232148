package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_approval_decisions_total",
			Help: "Milestone approval decisions by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: changed, noop, conflict, denied, error
	)

	CascadeRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_cascade_recompute_total",
			Help: "Cascade recomputes by scope and result",
		},
		[]string{"scope", "result"}, // scope: milestone, booking; result: updated, unchanged, error
	)

	AutoCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_auto_completions_total",
			Help: "Milestones or bookings promoted to completed by the cascade",
		},
		[]string{"scope"},
	)

	RealtimeStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_state_transitions_total",
			Help: "Sync client state transitions by target state",
		},
		[]string{"state"},
	)

	RealtimeReconnectDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_reconnect_delay_ms",
			Help:    "Scheduled reconnect delay in milliseconds",
			Buckets: prometheus.ExponentialBuckets(500, 2, 8),
		},
	)

	DispatcherDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_deliveries_total",
			Help: "Local event bus deliveries by topic",
		},
		[]string{"topic"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events published by result",
		},
		[]string{"result"}, // sent, failed
	)

	DedupClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_claims_total",
			Help: "Redis dedup claims by handler and result",
		},
		[]string{"handler", "result"}, // result: claimed, duplicate, fail_open
	)

	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "best_effort_failures_total",
			Help: "Non-fatal side effects that failed",
		},
		[]string{"step"},
	)
)

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementApprovalDecision(action, outcome string) {
	ApprovalDecisions.WithLabelValues(action, outcome).Inc()
}

func IncrementCascadeRecompute(scope, result string) {
	CascadeRecomputes.WithLabelValues(scope, result).Inc()
}

func IncrementAutoCompletion(scope string) {
	AutoCompletions.WithLabelValues(scope).Inc()
}

func IncrementRealtimeState(state string) {
	RealtimeStateTransitions.WithLabelValues(state).Inc()
}

func RecordReconnectDelay(delay time.Duration) {
	RealtimeReconnectDelay.Observe(float64(delay.Milliseconds()))
}

func IncrementDispatcherDelivery(topic string) {
	DispatcherDeliveries.WithLabelValues(topic).Inc()
}

func IncrementOutboxPublished(result string) {
	OutboxPublished.WithLabelValues(result).Inc()
}

func IncrementBestEffortFailure(step string) {
	BestEffortFailures.WithLabelValues(step).Inc()
}

func IncrementDedupClaim(handler, result string) {
	DedupClaims.WithLabelValues(handler, result).Inc()
}
