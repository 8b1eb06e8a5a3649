package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.outboxrelay.dev/internal/common/metrics"
	"go.outboxrelay.dev/internal/notify"
	"go.outboxrelay.dev/internal/standby"
)

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	// Enabled controls whether the processor is active.
	Enabled bool

	// PollInterval is how often to poll for pending items.
	PollInterval time.Duration

	// PollBatchSize is the maximum items to fetch per poll, per type.
	PollBatchSize int

	// APIBatchSize is the maximum items collected into one API call per group.
	APIBatchSize int

	// BatchLinger bounds how long a group processor waits to fill a batch
	// before dispatching a partial one.
	BatchLinger time.Duration

	// GlobalBufferSize is the capacity of the bounded queue between the
	// poller and the group distributor.
	GlobalBufferSize int

	// MaxConcurrentGroups limits the number of batches dispatching to the
	// API at once, across every message group.
	MaxConcurrentGroups int

	// MaxInFlight is the maximum items accepted into the pipeline but not
	// yet terminally written back. The poller checks this before polling.
	MaxInFlight int

	// MaxRetries caps how many times the periodic recovery loop rewinds an
	// item; items whose RetryCount has reached it stay in their error status.
	MaxRetries int

	// RecoveryInterval is how often to run periodic recovery.
	RecoveryInterval time.Duration

	// ProcessingTimeoutSeconds is how long items can sit in error status before recovery.
	ProcessingTimeoutSeconds int

	// GroupIdleEvictionInterval is how often to scan for and reap message
	// group processors that have been idle (no queued work, not dispatching)
	// since the previous scan. Zero disables reaping and keeps every
	// processor that has ever been created for the life of the process.
	GroupIdleEvictionInterval time.Duration

	// LeaderElection enables distributed leader election via the standby package.
	LeaderElection LeaderElectionConfig
}

// LeaderElectionConfig holds leader election settings.
type LeaderElectionConfig struct {
	Enabled         bool
	LockKey         string
	LeaseDuration   time.Duration
	RefreshInterval time.Duration
	// LockProviderURL is the connection URL for the backing lock store.
	LockProviderURL string
}

// DefaultLeaderElectionConfig returns sensible defaults for leader election.
func DefaultLeaderElectionConfig() LeaderElectionConfig {
	return LeaderElectionConfig{
		Enabled:         false, // Disabled by default (single-instance mode)
		LockKey:         "outboxrelay:dispatcher:leader",
		LeaseDuration:   30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Enabled:                   true,
		PollInterval:              time.Second,
		PollBatchSize:             100,
		APIBatchSize:              100,
		BatchLinger:               200 * time.Millisecond,
		GlobalBufferSize:          2000,
		MaxConcurrentGroups:       50,
		MaxInFlight:               1000,
		MaxRetries:                3,
		RecoveryInterval:          60 * time.Second,
		ProcessingTimeoutSeconds:  300,
		GroupIdleEvictionInterval: 5 * time.Minute,
	}
}

// LeadershipChecker reports whether this instance currently holds exclusive
// leadership of the outbox dispatcher. Satisfied by *standby.Service; a
// standalone deployment with no lock provider configured uses
// alwaysPrimary instead.
type LeadershipChecker interface {
	IsPrimary() bool
}

type alwaysPrimary struct{}

func (alwaysPrimary) IsPrimary() bool { return true }

// Processor implements the outbox dispatcher core: a single-leader,
// status-driven pipeline that drains pending rows and delivers them to a
// downstream batch API exactly once per success.
//
// Architecture:
//  1. Single poller fetches items WHERE status = 0 (PENDING)
//  2. Items are marked status = 9 (IN_PROGRESS) immediately after fetch
//  3. Distributor routes items to message group processors (maintains FIFO per group)
//  4. On completion, status is updated to reflect outcome (1=success, 2-6=error types)
//  5. Crash recovery: on startup, reset status = 9 back to 0
//
// This approach avoids row locking (FOR UPDATE SKIP LOCKED) and works
// identically across PostgreSQL, MySQL, and MongoDB, so long as only one
// leader polls at a time.
type Processor struct {
	config    *ProcessorConfig
	repo      Repository
	apiClient *BatchApiClient

	// Global buffer for items waiting to be distributed.
	buffer     chan *OutboxItem
	bufferSize int32 // Atomic counter for current buffer occupancy

	// In-flight tracking: buffer + items in message group queues.
	inFlightCount int32 // Atomic counter

	// Group distributor.
	groupProcessors sync.Map // map[groupKey]*MessageGroupProcessor
	groupSemaphore  chan struct{}

	// Leadership, delegated to a standby.Service in multi-instance
	// deployments or to alwaysPrimary in standalone mode.
	leadership LeadershipChecker

	// notifier surfaces operational warnings (buffer overflow) to an
	// external channel. Defaults to a no-op.
	notifier notify.Service

	// Lifecycle.
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
	pollMu    sync.Mutex // Prevent overlapping polls
}

// NewProcessor creates a new outbox processor.
func NewProcessor(repo Repository, apiClient *BatchApiClient, config *ProcessorConfig) *Processor {
	if config == nil {
		config = DefaultProcessorConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Processor{
		config:         config,
		repo:           repo,
		apiClient:      apiClient,
		buffer:         make(chan *OutboxItem, config.GlobalBufferSize),
		groupSemaphore: make(chan struct{}, config.MaxConcurrentGroups),
		leadership:     alwaysPrimary{},
		notifier:       notify.NewNoOpService(),
		ctx:            ctx,
		cancel:         cancel,
	}

	return p
}

// WithStandby wires a standby.Service as the source of leadership truth for
// multi-instance deployments. Callers should register OnBecomePrimary and
// OnBecomeStandby callbacks directly on svc (e.g. to drive
// metrics.OutboxLeaderElectionState) before calling Start.
func (p *Processor) WithStandby(svc *standby.Service) *Processor {
	if svc == nil {
		return p
	}
	p.leadership = svc
	return p
}

// WithNotifier wires an operational notification backend used to surface
// buffer overflow warnings. Defaults to a no-op.
func (p *Processor) WithNotifier(n notify.Service) *Processor {
	if n == nil {
		return p
	}
	p.notifier = n
	return p
}

// Start starts the outbox processor.
func (p *Processor) Start() {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return
	}
	p.running = true

	if !p.config.Enabled {
		slog.Info("outbox processor is disabled")
		return
	}

	// Perform crash recovery FIRST (reset stuck items from a previous run)
	// before any new poll occurs on this leader.
	p.doCrashRecovery()

	p.wg.Add(1)
	go p.runDistributor()

	p.wg.Add(1)
	go p.runPoller()

	p.wg.Add(1)
	go p.runPeriodicRecovery()

	if p.config.GroupIdleEvictionInterval > 0 {
		p.wg.Add(1)
		go p.runGroupReaper()
	}

	slog.Info("outbox processor started",
		"pollInterval", p.config.PollInterval,
		"pollBatchSize", p.config.PollBatchSize,
		"maxConcurrentGroups", p.config.MaxConcurrentGroups,
		"maxInFlight", p.config.MaxInFlight,
		"isPrimary", p.leadership.IsPrimary())
}

// Stop stops the outbox processor.
func (p *Processor) Stop() {
	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()

	p.cancel()
	p.wg.Wait()

	slog.Info("outbox processor stopped")
}

// IsPrimary returns whether this processor is the current leader.
func (p *Processor) IsPrimary() bool {
	return p.leadership.IsPrimary()
}

// GetStats returns current processor statistics.
func (p *Processor) GetStats() ProcessorStats {
	inFlight := atomic.LoadInt32(&p.inFlightCount)
	healthy := p.running && p.leadership.IsPrimary()
	status := "UP"
	if !healthy {
		status = "DOWN"
	}
	return ProcessorStats{
		Status:                status,
		Healthy:               healthy,
		LastPollTime:          time.Now(),
		ActiveMessageGroups:   p.countActiveGroups(),
		InFlightPermits:       p.config.MaxInFlight - int(inFlight),
		TotalInFlightCapacity: p.config.MaxInFlight,
		BufferedItems:         int(atomic.LoadInt32(&p.bufferSize)),
	}
}

// countActiveGroups counts live message group processors.
func (p *Processor) countActiveGroups() int {
	count := 0
	p.groupProcessors.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// doCrashRecovery resets stuck items (status=9) back to pending (status=0).
// Called once on startup, before the first poll, to recover from crashes.
// There is no timeout check here: on startup the current process owns
// nothing, so any IN_PROGRESS row found is orphaned by definition.
func (p *Processor) doCrashRecovery() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, itemType := range []OutboxItemType{OutboxItemTypeEvent, OutboxItemTypeDispatchJob} {
		stuckItems, err := p.repo.FetchStuckItems(ctx, itemType)
		if err != nil {
			slog.Error("failed to fetch stuck items during crash recovery", "error", err, "type", string(itemType))
			continue
		}

		if len(stuckItems) == 0 {
			continue
		}

		ids := make([]string, len(stuckItems))
		for i, item := range stuckItems {
			ids[i] = item.ID
		}

		if err := p.repo.ResetStuckItems(ctx, itemType, ids); err != nil {
			slog.Error("failed to reset stuck items during crash recovery", "error", err, "type", string(itemType), "count", len(ids))
			continue
		}

		metrics.OutboxRecoveredItems.WithLabelValues(string(itemType)).Add(float64(len(ids)))
		slog.Info("reset stuck outbox items during crash recovery", "type", string(itemType), "count", len(ids))
	}
}

// runPeriodicRecovery runs the periodic retry-recovery loop.
func (p *Processor) runPeriodicRecovery() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if !p.leadership.IsPrimary() {
				continue
			}
			p.doPeriodicRecovery()
		}
	}
}

// doPeriodicRecovery rewinds items that have sat in a recoverable status
// (IN_PROGRESS or any soft-terminal error) longer than ProcessingTimeoutSeconds.
func (p *Processor) doPeriodicRecovery() {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	for _, itemType := range []OutboxItemType{OutboxItemTypeEvent, OutboxItemTypeDispatchJob} {
		recoverableItems, err := p.repo.FetchRecoverableItems(ctx, itemType, p.config.ProcessingTimeoutSeconds, p.config.PollBatchSize)
		if err != nil {
			slog.Error("failed to fetch recoverable items during periodic recovery", "error", err, "type", string(itemType))
			continue
		}

		if len(recoverableItems) == 0 {
			continue
		}

		var ids []string
		var exhausted int
		for _, item := range recoverableItems {
			if item.RetryCount >= p.config.MaxRetries {
				exhausted++
				continue
			}
			ids = append(ids, item.ID)
		}

		if exhausted > 0 {
			slog.Warn("periodic recovery: items exhausted max retries, left in terminal status", "type", string(itemType), "count", exhausted)
		}

		if len(ids) == 0 {
			continue
		}

		// IncrementRetryCount also resets the rows to PENDING, so each rewind
		// counts toward MaxRetries.
		if err := p.repo.IncrementRetryCount(ctx, itemType, ids); err != nil {
			slog.Error("failed to reset recoverable items during periodic recovery", "error", err, "type", string(itemType), "count", len(ids))
			continue
		}

		metrics.OutboxRecoveredItems.WithLabelValues(string(itemType)).Add(float64(len(ids)))
		slog.Info("periodic recovery: reset items back to PENDING", "type", string(itemType), "count", len(ids))
	}
}

// runGroupReaper periodically evicts message group processors that have had
// no activity since the previous scan, so a burst of one-off groups does not
// grow the processor map without bound over the life of the process.
func (p *Processor) runGroupReaper() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.GroupIdleEvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapIdleGroups()
		}
	}
}

func (p *Processor) reapIdleGroups() {
	cutoff := time.Now().Add(-p.config.GroupIdleEvictionInterval)
	reaped := 0

	p.groupProcessors.Range(func(key, value interface{}) bool {
		mgp := value.(*MessageGroupProcessor)
		mgp.mu.Lock()
		idle := !mgp.processing && mgp.lastActivity.Before(cutoff) && len(mgp.queue) == 0
		mgp.mu.Unlock()

		if idle {
			p.groupProcessors.Delete(key)
			reaped++
		}
		return true
	})

	if reaped > 0 {
		slog.Debug("reaped idle message group processors", "count", reaped)
	}
	metrics.OutboxGroupCount.Set(float64(p.countActiveGroups()))
}

// runPoller runs the main polling loop.
func (p *Processor) runPoller() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if !p.leadership.IsPrimary() {
				continue
			}
			p.doPoll()
		}
	}
}

// doPoll performs a single poll iteration across both item types.
func (p *Processor) doPoll() {
	if !p.pollMu.TryLock() {
		return // previous tick still running
	}
	defer p.pollMu.Unlock()

	currentInFlight := atomic.LoadInt32(&p.inFlightCount)
	availableSlots := p.config.MaxInFlight - int(currentInFlight)

	if availableSlots < p.config.PollBatchSize {
		slog.Debug("skipping poll - insufficient in-flight capacity", "availableSlots", availableSlots, "pollBatchSize", p.config.PollBatchSize)
		return
	}

	startTime := time.Now()
	defer func() {
		metrics.OutboxPollDuration.Observe(time.Since(startTime).Seconds())
	}()

	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	p.pollItemType(ctx, OutboxItemTypeEvent)
	p.pollItemType(ctx, OutboxItemTypeDispatchJob)
}

// pollItemType polls, marks in-progress, and buffers a batch of one item type.
func (p *Processor) pollItemType(ctx context.Context, itemType OutboxItemType) {
	availableSlots := p.config.MaxInFlight - int(atomic.LoadInt32(&p.inFlightCount))
	if availableSlots < p.config.PollBatchSize {
		slog.Debug("skipping poll for type - insufficient in-flight capacity", "type", string(itemType), "availableSlots", availableSlots, "pollBatchSize", p.config.PollBatchSize)
		return
	}

	items, err := p.repo.FetchPending(ctx, itemType, p.config.PollBatchSize)
	if err != nil {
		slog.Error("failed to fetch pending outbox items", "error", err, "type", string(itemType))
		return
	}

	if len(items) == 0 {
		return
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	if err := p.repo.MarkAsInProgress(ctx, itemType, ids); err != nil {
		slog.Error("failed to mark items as in-progress", "error", err, "type", string(itemType), "count", len(ids))
		return
	}

	atomic.AddInt32(&p.inFlightCount, int32(len(items)))
	metrics.OutboxInFlightItems.Set(float64(atomic.LoadInt32(&p.inFlightCount)))

	slog.Debug("fetched and marked outbox items as in-progress", "type", string(itemType), "count", len(items))

	rejected := 0
	for _, item := range items {
		select {
		case p.buffer <- item:
			atomic.AddInt32(&p.bufferSize, 1)
			metrics.OutboxBufferSize.Set(float64(atomic.LoadInt32(&p.bufferSize)))
		default:
			// Buffer full: non-blocking rejection. The row stays IN_PROGRESS
			// in the store and the recovery loop rewinds it later.
			rejected++
		}
	}

	if rejected > 0 {
		metrics.OutboxBufferRejections.Add(float64(rejected))
		slog.Warn("global buffer full, rejected items remain in-progress for recovery", "type", string(itemType), "rejected", rejected)
		p.notifier.NotifyWarning(&notify.Warning{
			Category:  "outbox_buffer_overflow",
			Severity:  "WARNING",
			Message:   fmt.Sprintf("global buffer full, rejected %d %s items", rejected, itemType),
			Timestamp: time.Now(),
			Source:    "outbox.Processor",
		})
	}
}

// runDistributor runs the distributor loop that routes items to group processors.
func (p *Processor) runDistributor() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drainBuffer()
			return
		case item := <-p.buffer:
			atomic.AddInt32(&p.bufferSize, -1)
			metrics.OutboxBufferSize.Set(float64(atomic.LoadInt32(&p.bufferSize)))
			p.distributeItem(item)
		}
	}
}

// distributeItem routes an item to the processor for its (type, messageGroup) key.
func (p *Processor) distributeItem(item *OutboxItem) {
	groupKey := fmt.Sprintf("%s:%s", item.Type, item.GetEffectiveMessageGroup())

	processorI, _ := p.groupProcessors.LoadOrStore(groupKey, &MessageGroupProcessor{
		groupKey:     groupKey,
		itemType:     item.Type,
		queue:        make(chan *OutboxItem, 1000),
		processor:    p,
		lastActivity: time.Now(),
	})
	mgp := processorI.(*MessageGroupProcessor)

	// The distributor intentionally blocks here if the per-group queue is
	// full: that throttles the buffer drainer, which throttles the poller,
	// which is the backpressure chain by design.
	mgp.queue <- item
	mgp.tryStart()
}

// drainBuffer drains remaining items from the buffer during shutdown.
func (p *Processor) drainBuffer() {
	for {
		select {
		case item := <-p.buffer:
			slog.Debug("draining item during shutdown - will be recovered on restart", "itemId", item.ID)
		default:
			return
		}
	}
}

// MessageGroupProcessor is the per-(type, messageGroup) FIFO worker. It
// collects a batch from its queue, acquires one permit from the processor's
// global semaphore for the duration of the batch, dispatches it, and applies
// the resulting per-item status writes before releasing the permit.
type MessageGroupProcessor struct {
	groupKey     string
	itemType     OutboxItemType
	queue        chan *OutboxItem
	processor    *Processor
	processing   bool
	lastActivity time.Time
	mu           sync.Mutex
}

// tryStart starts the worker loop if it is not already running.
func (m *MessageGroupProcessor) tryStart() {
	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return
	}
	m.processing = true
	m.mu.Unlock()

	go m.processLoop()
}

// processLoop is the single worker that processes this group's queue
// serially, so no two batches of the same group ever overlap.
func (m *MessageGroupProcessor) processLoop() {
	defer func() {
		m.mu.Lock()
		m.processing = false
		m.lastActivity = time.Now()
		m.mu.Unlock()
	}()

	for {
		batch := m.collectBatch()
		if len(batch) == 0 {
			return
		}

		select {
		case m.processor.groupSemaphore <- struct{}{}:
		case <-m.processor.ctx.Done():
			return
		}

		m.processBatch(batch)

		<-m.processor.groupSemaphore
	}
}

// collectBatch drains up to APIBatchSize items, waiting briefly for more to
// arrive via BatchLinger so a batch isn't always limited to whatever has
// queued since the last drain. A single-item batch is valid.
func (m *MessageGroupProcessor) collectBatch() []*OutboxItem {
	batch := make([]*OutboxItem, 0, m.processor.config.APIBatchSize)

	select {
	case item := <-m.queue:
		batch = append(batch, item)
	default:
		return batch
	}

	linger := time.NewTimer(m.processor.config.BatchLinger)
	defer linger.Stop()

	for len(batch) < m.processor.config.APIBatchSize {
		select {
		case item := <-m.queue:
			batch = append(batch, item)
		case <-linger.C:
			return batch
		}
	}

	return batch
}

// processBatch dispatches a batch to the API and applies per-item status updates.
func (m *MessageGroupProcessor) processBatch(batch []*OutboxItem) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(m.processor.ctx, 30*time.Second)
	defer cancel()

	metrics.OutboxActiveProcessors.Inc()
	defer metrics.OutboxActiveProcessors.Dec()

	apiStartTime := time.Now()

	var result *BatchResult
	var err error

	switch m.itemType {
	case OutboxItemTypeEvent:
		result, err = m.processor.apiClient.SendEventBatch(ctx, batch)
	case OutboxItemTypeDispatchJob:
		result, err = m.processor.apiClient.SendDispatchJobBatch(ctx, batch)
	}

	metrics.OutboxAPIDuration.WithLabelValues(string(m.itemType)).Observe(time.Since(apiStartTime).Seconds())

	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()

	// Slot release and in-flight accounting happen on every exit path,
	// regardless of how the batch concluded.
	defer func() {
		atomic.AddInt32(&m.processor.inFlightCount, -int32(len(batch)))
		metrics.OutboxInFlightItems.Set(float64(atomic.LoadInt32(&m.processor.inFlightCount)))
	}()

	if err != nil {
		// An error from the client already carries a per-item status in
		// result.FailedItems (the whole batch shares a fate); apply it the
		// same way a partial-success result would be applied.
		if result != nil && len(result.FailedItems) > 0 {
			m.handlePerItemFailures(ctx, batch, result.FailedItems, err.Error())
		} else {
			m.handleAPIError(ctx, batch, err.Error())
		}
		slog.Error("failed to send batch", "error", err, "group", m.groupKey, "batchSize", len(batch))
		return
	}

	if len(result.SuccessIDs) > 0 {
		if err := m.processor.repo.MarkWithStatus(ctx, m.itemType, result.SuccessIDs, StatusSuccess); err != nil {
			slog.Error("failed to mark items as succeeded", "error", err)
		}
		metrics.OutboxItemsProcessed.WithLabelValues(string(m.itemType), "completed").Add(float64(len(result.SuccessIDs)))
	}

	if len(result.FailedItems) > 0 {
		m.handlePerItemFailures(ctx, batch, result.FailedItems, "")
	}

	slog.Debug("batch processed", "group", m.groupKey, "success", len(result.SuccessIDs), "failed", len(result.FailedItems))
}

// handleAPIError marks an entire batch as GATEWAY_ERROR when the client
// returned no structured per-item result at all (e.g. request construction
// failed before any HTTP round trip was attempted).
func (m *MessageGroupProcessor) handleAPIError(ctx context.Context, batch []*OutboxItem, errMsg string) {
	failed := make(map[string]OutboxStatus, len(batch))
	for _, item := range batch {
		failed[item.ID] = StatusGatewayError
	}
	m.handlePerItemFailures(ctx, batch, failed, errMsg)
}

// handlePerItemFailures applies per-item status codes. Every item is written
// with its terminal status and error detail and left there; resetting a
// retryable item back to PENDING is the periodic recovery loop's job, so the
// item stays observable in its terminal status for processingTimeoutSeconds
// before it is rewound.
func (m *MessageGroupProcessor) handlePerItemFailures(ctx context.Context, batch []*OutboxItem, failedItems map[string]OutboxStatus, errMsg string) {
	itemByID := make(map[string]*OutboxItem, len(batch))
	for _, item := range batch {
		itemByID[item.ID] = item
	}

	byStatus := make(map[OutboxStatus][]string)

	for id, status := range failedItems {
		if itemByID[id] == nil {
			continue
		}
		byStatus[status] = append(byStatus[status], id)
	}

	for status, ids := range byStatus {
		var writeErr error
		if errMsg != "" {
			writeErr = m.processor.repo.MarkWithStatusAndError(ctx, m.itemType, ids, status, errMsg)
		} else {
			writeErr = m.processor.repo.MarkWithStatus(ctx, m.itemType, ids, status)
		}
		if writeErr != nil {
			slog.Error("failed to mark items with status", "error", writeErr, "status", status.String())
		}
		metrics.OutboxItemsProcessed.WithLabelValues(string(m.itemType), "failed").Add(float64(len(ids)))
		slog.Warn("items marked with terminal status, recovery loop will rewind after timeout", "group", m.groupKey, "count", len(ids), "status", status.String())
	}
}
