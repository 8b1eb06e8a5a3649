package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbox dispatcher metrics

	// OutboxItemsProcessed tracks total outbox items processed.
	OutboxItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "items_processed_total",
			Help:      "Total outbox items processed",
		},
		[]string{"type", "status"}, // type: EVENT, DISPATCH_JOB; status: completed, failed
	)

	// OutboxBufferSize tracks current global buffer occupancy.
	OutboxBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "buffer_size",
			Help:      "Current size of the global outbox buffer",
		},
	)

	// OutboxBufferRejections tracks items rejected because the global buffer was full.
	OutboxBufferRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "buffer_rejections_total",
			Help:      "Total items rejected by the global buffer due to backpressure",
		},
	)

	// OutboxActiveProcessors tracks active message group processors.
	OutboxActiveProcessors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "active_processors",
			Help:      "Number of currently dispatching message group processors",
		},
	)

	// OutboxGroupCount tracks the number of live (possibly idle) message group processors.
	OutboxGroupCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "group_count",
			Help:      "Number of message group processors currently held by the distributor",
		},
	)

	// OutboxPollDuration tracks outbox polling duration.
	OutboxPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "poll_duration_seconds",
			Help:      "Time to poll and buffer a batch of outbox items",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// OutboxAPIDuration tracks batch API call duration.
	OutboxAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "api_duration_seconds",
			Help:      "Time to deliver an outbox batch via the downstream API",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"}, // EVENT, DISPATCH_JOB
	)

	// OutboxRecoveredItems tracks items recovered from stuck or soft-terminal states.
	OutboxRecoveredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "recovered_items_total",
			Help:      "Total items rewound to PENDING by the recovery loop",
		},
		[]string{"type"}, // EVENT, DISPATCH_JOB
	)

	// OutboxLeaderElectionState tracks this instance's leader election role.
	// 0 = standby, 1 = primary.
	OutboxLeaderElectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "leader_election_state",
			Help:      "Leader election state of this instance (0=standby, 1=primary)",
		},
	)

	// OutboxInFlightItems tracks total items in-flight (buffer + processing queues).
	OutboxInFlightItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "in_flight_items",
			Help:      "Total items accepted into the pipeline but not yet terminally written back",
		},
	)

	// OutboxCircuitBreakerState tracks the batch API client's circuit breaker state.
	// 0 = closed, 1 = half-open, 2 = open.
	OutboxCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "outbox",
			Name:      "circuit_breaker_state",
			Help:      "Batch API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Notifier metrics

	// NotifyMessagesPublished tracks operational warnings published to an alerting backend.
	NotifyMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "notify",
			Name:      "messages_published_total",
			Help:      "Total operational notifications published to an alerting backend",
		},
		[]string{"backend"}, // nats, sqs
	)

	// NotifyPublishErrors tracks failures publishing operational warnings.
	NotifyPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "notify",
			Name:      "publish_errors_total",
			Help:      "Total failures publishing operational notifications",
		},
		[]string{"backend"},
	)

	// HTTP admin surface metrics

	// HTTPRequestsTotal tracks HTTP API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outboxrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outboxrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveConnections tracks active HTTP connections.
	HTTPActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outboxrelay",
			Subsystem: "http",
			Name:      "active_connections",
			Help:      "Number of active HTTP connections",
		},
	)
)

// CircuitBreakerState constants mirror gobreaker.State for callers that
// report state without importing gobreaker directly.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerHalfOpen = 1
	CircuitBreakerOpen     = 2
)
