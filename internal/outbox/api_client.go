package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.outboxrelay.dev/internal/common/metrics"
)

// BatchApiClient wraps HTTP POSTs to the two downstream batch endpoints and
// maps their responses back to per-item outbox status codes. A circuit
// breaker trips the client to fail fast during sustained downstream outages,
// and a token bucket caps the outbound request rate independently of how
// many message groups are dispatching concurrently.
type BatchApiClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

// APIClientConfig holds configuration for the batch API client.
type APIClientConfig struct {
	// BaseURL is the downstream API base URL (required).
	BaseURL string

	// AuthToken is the optional Bearer token for authentication.
	AuthToken string

	// ConnectionTimeout bounds establishing the TCP/TLS connection.
	ConnectionTimeout time.Duration

	// RequestTimeout bounds the entire request/response round trip.
	RequestTimeout time.Duration

	// RateLimitPerSecond caps outbound batch requests per second. Zero disables limiting.
	RateLimitPerSecond float64

	// RateLimitBurst is the token bucket burst size.
	RateLimitBurst int

	// CircuitBreakerEnabled wraps every request in a gobreaker circuit breaker.
	CircuitBreakerEnabled bool

	// CircuitBreakerMinRequests is the minimum requests counted before the
	// breaker evaluates the failure ratio. Counts are not cleared on a timer
	// while the breaker is closed, only on a state change. The same value is
	// the number of probe requests allowed while half-open.
	CircuitBreakerMinRequests uint32

	// CircuitBreakerFailureRatio trips the breaker open once this fraction of
	// the requests counted since the last state change fail.
	CircuitBreakerFailureRatio float64

	// CircuitBreakerOpenTimeout is how long the breaker stays open before probing again.
	CircuitBreakerOpenTimeout time.Duration
}

// DefaultAPIClientConfig returns sensible defaults.
func DefaultAPIClientConfig() *APIClientConfig {
	return &APIClientConfig{
		ConnectionTimeout:          10 * time.Second,
		RequestTimeout:             30 * time.Second,
		RateLimitPerSecond:         50,
		RateLimitBurst:             50,
		CircuitBreakerEnabled:      true,
		CircuitBreakerMinRequests:  10,
		CircuitBreakerFailureRatio: 0.5,
		CircuitBreakerOpenTimeout:  30 * time.Second,
	}
}

// NewBatchApiClient creates a new batch API client.
func NewBatchApiClient(config *APIClientConfig) *BatchApiClient {
	if config == nil {
		config = DefaultAPIClientConfig()
	}

	c := &BatchApiClient{
		baseURL:   config.BaseURL,
		authToken: config.AuthToken,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: config.ConnectionTimeout,
				}).DialContext,
			},
		},
	}

	if config.RateLimitPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), config.RateLimitBurst)
	}

	if config.CircuitBreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "outbox-batch-api",
			MaxRequests: config.CircuitBreakerMinRequests,
			Interval:    0,
			Timeout:     config.CircuitBreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < config.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= config.CircuitBreakerFailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("batch API circuit breaker state change", "breaker", name, "from", from, "to", to)
				metrics.OutboxCircuitBreakerState.Set(circuitBreakerStateValue(to))
			},
		})
	}

	return c
}

func circuitBreakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// batchRequestBody is the wire shape posted to both batch endpoints: the
// ordered ids alongside their parsed payloads, so the consumer can return a
// per-id result in the same order.
type batchRequestBody struct {
	IDs   []string          `json:"ids"`
	Items []json.RawMessage `json:"items"`
}

// SendEventBatch sends a batch of events to POST /api/events/batch.
func (c *BatchApiClient) SendEventBatch(ctx context.Context, items []*OutboxItem) (*BatchResult, error) {
	return c.sendBatch(ctx, "/api/events/batch", items)
}

// SendDispatchJobBatch sends a batch of dispatch jobs to POST /api/dispatch/jobs/batch.
func (c *BatchApiClient) SendDispatchJobBatch(ctx context.Context, items []*OutboxItem) (*BatchResult, error) {
	return c.sendBatch(ctx, "/api/dispatch/jobs/batch", items)
}

func (c *BatchApiClient) sendBatch(ctx context.Context, endpoint string, items []*OutboxItem) (*BatchResult, error) {
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	if c.breaker != nil {
		v, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doSendBatch(ctx, endpoint, items)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return gatewayErrorResult(items, err), err
			}
			if result, ok := v.(*BatchResult); ok {
				return result, err
			}
			return gatewayErrorResult(items, err), err
		}
		return v.(*BatchResult), nil
	}

	return c.doSendBatch(ctx, endpoint, items)
}

func gatewayErrorResult(items []*OutboxItem, err error) *BatchResult {
	result := NewBatchResult()
	result.Error = err
	for _, item := range items {
		result.FailedItems[item.ID] = StatusGatewayError
	}
	return result
}

func (c *BatchApiClient) doSendBatch(ctx context.Context, endpoint string, items []*OutboxItem) (*BatchResult, error) {
	body := batchRequestBody{
		IDs:   extractIDs(items),
		Items: make([]json.RawMessage, len(items)),
	}
	for i, item := range items {
		body.Items[i] = json.RawMessage(item.Payload)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		result := NewBatchResult()
		result.Error = err
		for _, item := range items {
			result.FailedItems[item.ID] = StatusInternalError
		}
		return result, fmt.Errorf("marshal batch: %w", err)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	slog.Debug("sending batch to downstream API", "endpoint", endpoint, "batchSize", len(items))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Socket, DNS, or timeout failures before any response was received
		// are gateway errors, eligible for recovery, not a hard validation failure.
		return gatewayErrorResult(items, err), err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		apiErr := fmt.Errorf("batch API returned status %d: %s", resp.StatusCode, string(respBody))
		slog.Error("batch API request failed",
			"statusCode", resp.StatusCode,
			"endpoint", endpoint,
			"response", string(respBody))

		status := StatusFromHTTPCode(resp.StatusCode)
		result := NewBatchResult()
		result.Error = apiErr
		for _, item := range items {
			result.FailedItems[item.ID] = status
		}
		return result, apiErr
	}

	slog.Debug("batch sent successfully", "endpoint", endpoint, "batchSize", len(items), "statusCode", resp.StatusCode)

	result := NewBatchResult()
	result.SuccessIDs = extractIDs(items)
	return result, nil
}

func extractIDs(items []*OutboxItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
