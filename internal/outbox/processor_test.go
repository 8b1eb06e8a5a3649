package outbox

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockRepository implements Repository entirely in memory for testing the processor's
// poll/distribute/dispatch/recover state machine without a real database.
type mockRepository struct {
	mu    sync.Mutex
	items map[string]*OutboxItem
}

func newMockRepository() *mockRepository {
	return &mockRepository{items: make(map[string]*OutboxItem)}
}

func (r *mockRepository) put(item *OutboxItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
}

func (r *mockRepository) get(id string) *OutboxItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *mockRepository) FetchPending(ctx context.Context, itemType OutboxItemType, limit int) ([]*OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*OutboxItem
	for _, item := range r.items {
		if item.Type == itemType && item.Status == StatusPending {
			items = append(items, item)
			if len(items) >= limit {
				break
			}
		}
	}
	return items, nil
}

func (r *mockRepository) MarkAsInProgress(ctx context.Context, itemType OutboxItemType, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			item.Status = StatusInProgress
			item.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *mockRepository) MarkWithStatus(ctx context.Context, itemType OutboxItemType, ids []string, status OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			item.Status = status
			item.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *mockRepository) MarkWithStatusAndError(ctx context.Context, itemType OutboxItemType, ids []string, status OutboxStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			item.Status = status
			item.ErrorMessage = errMsg
			item.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *mockRepository) FetchStuckItems(ctx context.Context, itemType OutboxItemType) ([]*OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*OutboxItem
	for _, item := range r.items {
		if item.Type == itemType && item.Status == StatusInProgress {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *mockRepository) ResetStuckItems(ctx context.Context, itemType OutboxItemType, ids []string) error {
	return r.MarkWithStatus(ctx, itemType, ids, StatusPending)
}

func (r *mockRepository) IncrementRetryCount(ctx context.Context, itemType OutboxItemType, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			item.RetryCount++
			item.Status = StatusPending
			item.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *mockRepository) FetchRecoverableItems(ctx context.Context, itemType OutboxItemType, timeoutSeconds int, limit int) ([]*OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(timeoutSeconds) * time.Second)
	var items []*OutboxItem
	for _, item := range r.items {
		if item.Type != itemType {
			continue
		}
		recoverable := item.Status == StatusInProgress || item.Status == StatusBadRequest ||
			item.Status == StatusInternalError || item.Status == StatusUnauthorized ||
			item.Status == StatusForbidden || item.Status == StatusGatewayError
		if recoverable && item.UpdatedAt.Before(cutoff) {
			items = append(items, item)
			if len(items) >= limit {
				break
			}
		}
	}
	return items, nil
}

func (r *mockRepository) ResetRecoverableItems(ctx context.Context, itemType OutboxItemType, ids []string) error {
	return r.MarkWithStatus(ctx, itemType, ids, StatusPending)
}

func (r *mockRepository) CountPending(ctx context.Context, itemType OutboxItemType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, item := range r.items {
		if item.Type == itemType && item.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

func (r *mockRepository) GetTableName(itemType OutboxItemType) string {
	return string(itemType)
}

func (r *mockRepository) CreateSchema(ctx context.Context) error {
	return nil
}

// stubLeadership lets tests flip primary/standby without a real lock provider.
type stubLeadership struct {
	mu      sync.Mutex
	primary bool
}

func (s *stubLeadership) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *stubLeadership) set(primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = primary
}

func newTestItem(id string, itemType OutboxItemType, group string) *OutboxItem {
	return &OutboxItem{
		ID:           id,
		Type:         itemType,
		MessageGroup: group,
		Payload:      `{"hello":"world"}`,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !condition() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestProcessor_HappyPath(t *testing.T) {
	repo := newMockRepository()
	repo.put(newTestItem("e1", OutboxItemTypeEvent, "A"))
	repo.put(newTestItem("e2", OutboxItemTypeEvent, "A"))
	repo.put(newTestItem("e3", OutboxItemTypeEvent, "B"))

	server := newFakeBatchServer(t, func(r *batchRequestBody) (int, []byte) {
		return 200, []byte("{}")
	})
	defer server.Close()

	client := NewBatchApiClient(&APIClientConfig{BaseURL: server.URL, RequestTimeout: time.Second, CircuitBreakerEnabled: false})

	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.BatchLinger = 20 * time.Millisecond
	cfg.RecoveryInterval = time.Hour
	cfg.GroupIdleEvictionInterval = 0

	p := NewProcessor(repo, client, cfg)
	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return repo.get("e1").Status == StatusSuccess &&
			repo.get("e2").Status == StatusSuccess &&
			repo.get("e3").Status == StatusSuccess
	})

	if !repo.get("e1").UpdatedAt.Before(repo.get("e2").UpdatedAt.Add(time.Millisecond)) {
		t.Error("expected e1 to complete no later than e2 within the same group")
	}
}

func TestProcessor_GatewayErrorThenRecovery(t *testing.T) {
	repo := newMockRepository()
	repo.put(newTestItem("d1", OutboxItemTypeDispatchJob, ""))

	var calls int32
	server := newFakeBatchServer(t, func(r *batchRequestBody) (int, []byte) {
		calls++
		if calls == 1 {
			return 503, []byte("upstream unavailable")
		}
		return 200, []byte("{}")
	})
	defer server.Close()

	client := NewBatchApiClient(&APIClientConfig{BaseURL: server.URL, RequestTimeout: time.Second, CircuitBreakerEnabled: false})

	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.BatchLinger = 10 * time.Millisecond
	cfg.RecoveryInterval = 50 * time.Millisecond
	cfg.ProcessingTimeoutSeconds = 0
	cfg.GroupIdleEvictionInterval = 0

	p := NewProcessor(repo, client, cfg)
	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return repo.get("d1").Status == StatusGatewayError
	})

	waitFor(t, 2*time.Second, func() bool {
		return repo.get("d1").Status == StatusSuccess
	})
}

func TestProcessor_StandbyDoesNotPoll(t *testing.T) {
	repo := newMockRepository()
	repo.put(newTestItem("e1", OutboxItemTypeEvent, ""))

	server := newFakeBatchServer(t, func(r *batchRequestBody) (int, []byte) {
		return 200, []byte("{}")
	})
	defer server.Close()

	client := NewBatchApiClient(&APIClientConfig{BaseURL: server.URL, RequestTimeout: time.Second, CircuitBreakerEnabled: false})

	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.RecoveryInterval = time.Hour
	cfg.GroupIdleEvictionInterval = 0

	p := NewProcessor(repo, client, cfg)
	leadership := &stubLeadership{primary: false}
	p.leadership = leadership
	p.Start()
	defer p.Stop()

	time.Sleep(150 * time.Millisecond)
	if repo.get("e1").Status != StatusPending {
		t.Fatalf("expected standby instance to leave items untouched, got status %v", repo.get("e1").Status)
	}

	leadership.set(true)
	waitFor(t, 2*time.Second, func() bool {
		return repo.get("e1").Status == StatusSuccess
	})
}

func TestProcessor_CrashRecoveryResetsStuckItems(t *testing.T) {
	repo := newMockRepository()
	stuck := newTestItem("e1", OutboxItemTypeEvent, "")
	stuck.Status = StatusInProgress
	repo.put(stuck)

	client := NewBatchApiClient(&APIClientConfig{BaseURL: "http://unused.invalid", CircuitBreakerEnabled: false})
	cfg := DefaultProcessorConfig()
	cfg.Enabled = false // don't start goroutines, just exercise crash recovery

	p := NewProcessor(repo, client, cfg)
	p.doCrashRecovery()

	if repo.get("e1").Status != StatusPending {
		t.Fatalf("expected stuck item to be reset to PENDING, got %v", repo.get("e1").Status)
	}
}

func TestProcessor_EmptyPollIsNoOp(t *testing.T) {
	repo := newMockRepository()
	client := NewBatchApiClient(&APIClientConfig{BaseURL: "http://unused.invalid", CircuitBreakerEnabled: false})
	cfg := DefaultProcessorConfig()

	p := NewProcessor(repo, client, cfg)
	p.pollItemType(context.Background(), OutboxItemTypeEvent)

	if len(repo.items) != 0 {
		t.Fatalf("expected no items to appear from an empty poll, got %d", len(repo.items))
	}
}
