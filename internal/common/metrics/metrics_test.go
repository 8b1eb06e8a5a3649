package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Outbox Metrics Tests ===

func TestOutboxItemsProcessed_Labels(t *testing.T) {
	OutboxItemsProcessed.WithLabelValues("event", "completed").Inc()
	OutboxItemsProcessed.WithLabelValues("event", "failed").Inc()
	OutboxItemsProcessed.WithLabelValues("dispatch_job", "retried").Inc()

	counter := OutboxItemsProcessed.WithLabelValues("event", "completed")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestOutboxBufferSize_Gauge(t *testing.T) {
	OutboxBufferSize.Set(42)
	OutboxBufferSize.Inc()
	OutboxBufferSize.Dec()

	if testutil.ToFloat64(OutboxBufferSize) != 42 {
		t.Errorf("Expected buffer size 42, got %f", testutil.ToFloat64(OutboxBufferSize))
	}
}

func TestOutboxBufferRejections_Counter(t *testing.T) {
	before := testutil.ToFloat64(OutboxBufferRejections)
	OutboxBufferRejections.Inc()
	after := testutil.ToFloat64(OutboxBufferRejections)

	if after != before+1 {
		t.Errorf("Expected buffer rejections to increment by 1, got %f -> %f", before, after)
	}
}

func TestOutboxActiveProcessors_Gauge(t *testing.T) {
	OutboxActiveProcessors.Set(3)
	if testutil.ToFloat64(OutboxActiveProcessors) != 3 {
		t.Error("Expected active processors gauge to be settable")
	}
}

func TestOutboxGroupCount_Gauge(t *testing.T) {
	OutboxGroupCount.Set(7)
	if testutil.ToFloat64(OutboxGroupCount) != 7 {
		t.Error("Expected group count gauge to be settable")
	}
}

func TestOutboxPollDuration_Observe(t *testing.T) {
	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0}
	for _, d := range durations {
		OutboxPollDuration.Observe(d)
	}
}

func TestOutboxAPIDuration_Labels(t *testing.T) {
	OutboxAPIDuration.WithLabelValues("event").Observe(0.123)
	OutboxAPIDuration.WithLabelValues("dispatch_job").Observe(0.456)

	histogram := OutboxAPIDuration.WithLabelValues("event")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestOutboxRecoveredItems_Labels(t *testing.T) {
	OutboxRecoveredItems.WithLabelValues("event").Inc()
	OutboxRecoveredItems.WithLabelValues("dispatch_job").Add(5)

	counter := OutboxRecoveredItems.WithLabelValues("event")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestOutboxLeaderElectionState_Gauge(t *testing.T) {
	OutboxLeaderElectionState.Set(1)
	if testutil.ToFloat64(OutboxLeaderElectionState) != 1 {
		t.Error("Expected leader election state to report primary as 1")
	}
	OutboxLeaderElectionState.Set(0)
	if testutil.ToFloat64(OutboxLeaderElectionState) != 0 {
		t.Error("Expected leader election state to report standby as 0")
	}
}

func TestOutboxInFlightItems_Gauge(t *testing.T) {
	OutboxInFlightItems.Set(10)
	OutboxInFlightItems.Add(5)
	OutboxInFlightItems.Sub(3)

	if testutil.ToFloat64(OutboxInFlightItems) != 12 {
		t.Errorf("Expected in-flight items 12, got %f", testutil.ToFloat64(OutboxInFlightItems))
	}
}

func TestOutboxCircuitBreakerState_Gauge(t *testing.T) {
	OutboxCircuitBreakerState.Set(CircuitBreakerClosed)
	OutboxCircuitBreakerState.Set(CircuitBreakerHalfOpen)
	OutboxCircuitBreakerState.Set(CircuitBreakerOpen)

	if testutil.ToFloat64(OutboxCircuitBreakerState) != CircuitBreakerOpen {
		t.Error("Expected circuit breaker gauge to report last set state")
	}
}

// === Notifier Metrics Tests ===

func TestNotifyMessagesPublished_Labels(t *testing.T) {
	for _, backend := range []string{"nats", "sqs"} {
		NotifyMessagesPublished.WithLabelValues(backend).Inc()
		NotifyMessagesPublished.WithLabelValues(backend).Add(100)
	}

	counter := NotifyMessagesPublished.WithLabelValues("nats")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestNotifyPublishErrors_Labels(t *testing.T) {
	NotifyPublishErrors.WithLabelValues("nats").Inc()
	NotifyPublishErrors.WithLabelValues("sqs").Inc()

	counter := NotifyPublishErrors.WithLabelValues("sqs")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

// === HTTP Admin Surface Metrics Tests ===

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	methods := []string{"GET", "POST"}
	paths := []string{"/outbox/status", "/metrics"}
	statuses := []string{"200", "500"}

	for _, method := range methods {
		for _, path := range paths {
			for _, status := range statuses {
				HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			}
		}
	}

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/outbox/status", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestHTTPRequestDuration_Observe(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/outbox/status").Observe(0.015)
	HTTPRequestDuration.WithLabelValues("POST", "/outbox/status").Observe(0.150)

	histogram := HTTPRequestDuration.WithLabelValues("GET", "/outbox/status")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestHTTPActiveConnections_Gauge(t *testing.T) {
	HTTPActiveConnections.Set(10)
	HTTPActiveConnections.Inc()
	HTTPActiveConnections.Dec()
	HTTPActiveConnections.Add(5)
	HTTPActiveConnections.Sub(3)

	desc := HTTPActiveConnections.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

// === Circuit Breaker Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("Expected CircuitBreakerClosed=0, got %d", CircuitBreakerClosed)
	}
	if CircuitBreakerHalfOpen != 1 {
		t.Errorf("Expected CircuitBreakerHalfOpen=1, got %d", CircuitBreakerHalfOpen)
	}
	if CircuitBreakerOpen != 2 {
		t.Errorf("Expected CircuitBreakerOpen=2, got %d", CircuitBreakerOpen)
	}
}

// === Metric Name Tests ===

func TestMetricNamingConvention(t *testing.T) {
	// Lists the expected outboxrelay_subsystem_name form of each metric; only
	// checks that no short name in the list is empty.
	expectedPrefixes := map[string]string{
		"outbox_items_processed":    "outboxrelay_outbox_items_processed_total",
		"outbox_buffer_size":        "outboxrelay_outbox_buffer_size",
		"outbox_recovered_items":    "outboxrelay_outbox_recovered_items_total",
		"notify_messages_published": "outboxrelay_notify_messages_published_total",
		"notify_publish_errors":     "outboxrelay_notify_publish_errors_total",
		"http_requests":             "outboxrelay_http_requests_total",
	}

	for name := range expectedPrefixes {
		if name == "" {
			t.Error("Metric name should not be empty")
		}
	}
}

// === Counter Value Tests ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})

	reg.MustRegister(counter)

	counter.Add(5)

	val := testutil.ToFloat64(counter)
	if val != 5 {
		t.Errorf("Expected counter value 5, got %f", val)
	}

	counter.Inc()

	val = testutil.ToFloat64(counter)
	if val != 6 {
		t.Errorf("Expected counter value 6, got %f", val)
	}
}

// === Gauge Value Tests ===

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})

	reg.MustRegister(gauge)

	gauge.Set(100)
	val := testutil.ToFloat64(gauge)
	if val != 100 {
		t.Errorf("Expected gauge value 100, got %f", val)
	}

	gauge.Add(50)
	val = testutil.ToFloat64(gauge)
	if val != 150 {
		t.Errorf("Expected gauge value 150, got %f", val)
	}

	gauge.Sub(30)
	val = testutil.ToFloat64(gauge)
	if val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}

	gauge.Dec()
	val = testutil.ToFloat64(gauge)
	if val != 119 {
		t.Errorf("Expected gauge value 119, got %f", val)
	}

	gauge.Inc()
	val = testutil.ToFloat64(gauge)
	if val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}
}

// === Histogram Tests ===

func TestHistogramBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "Test histogram",
		Buckets: []float64{0.1, 0.5, 1.0, 5.0},
	})

	reg.MustRegister(histogram)

	histogram.Observe(0.05)
	histogram.Observe(0.25)
	histogram.Observe(0.75)
	histogram.Observe(2.5)
	histogram.Observe(10.0)

	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

// === Outbox Metrics Integration Tests ===

func TestOutboxMetricsIntegration(t *testing.T) {
	for i := 0; i < 100; i++ {
		switch {
		case i%10 == 0:
			OutboxItemsProcessed.WithLabelValues("event", "failed").Inc()
		case i%20 == 0:
			OutboxItemsProcessed.WithLabelValues("event", "retried").Inc()
		default:
			OutboxItemsProcessed.WithLabelValues("event", "completed").Inc()
		}

		OutboxAPIDuration.WithLabelValues("event").Observe(float64(i) * 0.001)
	}

	OutboxActiveProcessors.Set(10)
	OutboxGroupCount.Set(25)
}

// === Circuit Breaker State Integration Tests ===

func TestCircuitBreakerStateIntegration(t *testing.T) {
	OutboxCircuitBreakerState.Set(CircuitBreakerClosed)
	OutboxCircuitBreakerState.Set(CircuitBreakerOpen)
	OutboxCircuitBreakerState.Set(CircuitBreakerHalfOpen)
	OutboxCircuitBreakerState.Set(CircuitBreakerClosed)
}

// Benchmark for counter operations
func BenchmarkCounterInc(b *testing.B) {
	counter := OutboxItemsProcessed.WithLabelValues("event", "completed")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

// Benchmark for histogram observations
func BenchmarkHistogramObserve(b *testing.B) {
	histogram := OutboxAPIDuration.WithLabelValues("event")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		histogram.Observe(0.123)
	}
}

// Benchmark for gauge set operations
func BenchmarkGaugeSet(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		OutboxBufferSize.Set(float64(i))
	}
}
