package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EnqueuedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_enqueued_messages_total",
			Help: "Total number of messages accepted into a tenant queue (count)",
		},
		[]string{"priority", "source"},
	)

	RejectedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_rejected_messages_total",
			Help: "Total number of submissions rejected by policy (count)",
		},
		[]string{"reason"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_dispatch_total",
			Help: "Total number of dispatch outcomes by status (count)",
		},
		[]string{"status"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_dispatch_duration_ms",
			Help:    "Duration of channel dispatch calls in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	HumanDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_human_delay_seconds",
			Help:    "Computed human-like delay before each dispatch in seconds",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"pattern"},
	)

	PostponedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_postponed_total",
			Help: "Total number of envelopes postponed by a pre-dispatch gate (count)",
		},
		[]string{"reason"},
	)

	BurstRiskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_burst_risk_total",
			Help: "Burst analyses by resulting risk level (count)",
		},
		[]string{"risk"},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_active_workers",
			Help: "Number of tenant workers currently draining a queue (count)",
		},
	)

	MessageQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "message_queue_size",
			Help: "Current size of a tenant queue tier (count)",
		},
		[]string{"tier"},
	)

	MessageQueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_queue_wait_duration_ms",
			Help:    "Duration messages wait in queue before dispatch in milliseconds",
			Buckets: []float64{100, 1000, 10000, 60000, 300000, 900000, 3600000},
		},
		[]string{"priority"},
	)

	StoreBackendActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_store_backend_active",
			Help: "Which queue store backend is active (1 = active)",
		},
		[]string{"backend"},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_store_operations_total",
			Help: "Total number of queue store operations (count)",
		},
		[]string{"backend", "operation", "status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	RuleSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_sweeps_total",
			Help: "Total number of rule sweeps (count)",
		},
		[]string{"status"},
	)

	RuleFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_fired_total",
			Help: "Total number of rule firings and their submissions (count)",
		},
		[]string{"rule_id", "result"},
	)

	RuleSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rule_sweep_duration_ms",
			Help:    "Duration of a full rule sweep in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of API requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

func RegisterDeliveryMetrics() {
	prometheus.MustRegister(EnqueuedMessagesTotal)
	prometheus.MustRegister(RejectedMessagesTotal)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(HumanDelaySeconds)
	prometheus.MustRegister(PostponedTotal)
	prometheus.MustRegister(BurstRiskTotal)
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(MessageQueueSize)
	prometheus.MustRegister(MessageQueueWaitDuration)
	prometheus.MustRegister(StoreBackendActive)
	prometheus.MustRegister(StoreOperationsTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterRuleMetrics() {
	prometheus.MustRegister(RuleSweepsTotal)
	prometheus.MustRegister(RuleFiredTotal)
	prometheus.MustRegister(RuleSweepDuration)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func IncEnqueued(priority, source string) {
	EnqueuedMessagesTotal.WithLabelValues(priority, source).Inc()
}

func IncRejected(reason string) {
	RejectedMessagesTotal.WithLabelValues(reason).Inc()
}

func ObserveDispatch(status string, duration time.Duration) {
	DispatchTotal.WithLabelValues(status).Inc()
	DispatchDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveHumanDelay(pattern string, delay time.Duration) {
	HumanDelaySeconds.WithLabelValues(pattern).Observe(delay.Seconds())
}

func IncPostponed(reason string) {
	PostponedTotal.WithLabelValues(reason).Inc()
}

func IncBurstRisk(risk string) {
	BurstRiskTotal.WithLabelValues(risk).Inc()
}

func SetActiveWorkers(count int) {
	ActiveWorkers.Set(float64(count))
}

func SetMessageQueueSize(tier string, size int) {
	MessageQueueSize.WithLabelValues(tier).Set(float64(size))
}

func ObserveMessageQueueWaitDuration(priority string, duration time.Duration) {
	MessageQueueWaitDuration.WithLabelValues(priority).Observe(float64(duration.Milliseconds()))
}

// SetStoreBackend marks active as the only active backend among all.
func SetStoreBackend(active string, all ...string) {
	for _, name := range all {
		v := 0.0
		if name == active {
			v = 1
		}
		StoreBackendActive.WithLabelValues(name).Set(v)
	}
}

func IncStoreOperation(backend, operation, status string) {
	StoreOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

func IncFallbackUsage(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

func IncRuleSweep(status string) {
	RuleSweepsTotal.WithLabelValues(status).Inc()
}

func IncRuleFired(ruleID, result string) {
	RuleFiredTotal.WithLabelValues(ruleID, result).Inc()
}

func ObserveRuleSweepDuration(duration time.Duration) {
	RuleSweepDuration.Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
