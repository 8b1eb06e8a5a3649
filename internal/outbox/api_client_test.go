package outbox

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newFakeBatchServer starts an httptest.Server that decodes the batch request
// body and lets the caller decide the response per call.
func newFakeBatchServer(t *testing.T, handle func(*batchRequestBody) (int, []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body batchRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, resp := handle(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(resp)
	}))
}

func TestBatchApiClient_SendEventBatch_Success(t *testing.T) {
	server := newFakeBatchServer(t, func(body *batchRequestBody) (int, []byte) {
		if len(body.IDs) != 2 || len(body.Items) != 2 {
			t.Errorf("expected 2 ids and 2 items, got %d ids and %d items", len(body.IDs), len(body.Items))
		}
		return 200, []byte("{}")
	})
	defer server.Close()

	client := NewBatchApiClient(&APIClientConfig{BaseURL: server.URL, RequestTimeout: time.Second, CircuitBreakerEnabled: false})

	items := []*OutboxItem{
		{ID: "a", Payload: `{"x":1}`},
		{ID: "b", Payload: `{"x":2}`},
	}
	result, err := client.SendEventBatch(t.Context(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SuccessIDs) != 2 {
		t.Fatalf("expected 2 success ids, got %d", len(result.SuccessIDs))
	}
}

func TestBatchApiClient_HTTPErrorMapsToStatus(t *testing.T) {
	cases := []struct {
		code     int
		expected OutboxStatus
	}{
		{400, StatusBadRequest},
		{401, StatusUnauthorized},
		{403, StatusForbidden},
		{404, StatusBadRequest},
		{422, StatusBadRequest},
		{500, StatusInternalError},
		{502, StatusGatewayError},
		{503, StatusGatewayError},
		{504, StatusGatewayError},
	}

	for _, tc := range cases {
		server := newFakeBatchServer(t, func(body *batchRequestBody) (int, []byte) {
			return tc.code, []byte("error")
		})

		client := NewBatchApiClient(&APIClientConfig{BaseURL: server.URL, RequestTimeout: time.Second, CircuitBreakerEnabled: false})
		items := []*OutboxItem{{ID: "a", Payload: `{}`}}

		result, err := client.SendDispatchJobBatch(t.Context(), items)
		server.Close()

		if err == nil {
			t.Errorf("code %d: expected error", tc.code)
			continue
		}
		if got := result.FailedItems["a"]; got != tc.expected {
			t.Errorf("code %d: expected status %v, got %v", tc.code, tc.expected, got)
		}
	}
}

func TestBatchApiClient_ConnectionFailureIsGatewayError(t *testing.T) {
	client := NewBatchApiClient(&APIClientConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: 200 * time.Millisecond, CircuitBreakerEnabled: false})
	items := []*OutboxItem{{ID: "a", Payload: `{}`}}

	result, err := client.SendEventBatch(t.Context(), items)
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
	if result.FailedItems["a"] != StatusGatewayError {
		t.Errorf("expected GATEWAY_ERROR for a connection failure, got %v", result.FailedItems["a"])
	}
}
