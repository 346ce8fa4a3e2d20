package offline

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"sync"
	"time"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/progress"
)

var (
	// ErrSyncInProgress is returned when a flush is requested while another
	// pass is already in flight; the request is a no-op, not queued twice.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrOffline is returned when a flush is requested without connectivity.
	ErrOffline = errors.New("offline")
)

type (
	// BulkClient posts a batch of updates to the server's bulk endpoint.
	// Any non-nil error means the whole batch failed (all-or-nothing).
	BulkClient interface {
		SendUpdates(ctx context.Context, updates []QueuedUpdate) error
	}

	// Connectivity reports and signals network reachability.
	Connectivity interface {
		Online() bool
		// Subscribe registers fn to be called on every online/offline
		// transition; the returned func unsubscribes.
		Subscribe(fn func(online bool)) (unsubscribe func())
	}

	CoordinatorDeps struct {
		Conf   *core.Config
		Queue  *Queue
		Client BulkClient
		Conn   Connectivity
		Logger core.Logger
		Clock  core.Clock
		Mail   core.EmailService // optional; notified when items exhaust retries
	}

	// Coordinator decides when and in what groups queued updates are sent,
	// and interprets the outcome. Batches are processed strictly
	// sequentially; it never issues two concurrent bulk requests.
	Coordinator struct {
		conf   *core.Config
		queue  *Queue
		client BulkClient
		conn   Connectivity
		logger core.Logger
		clock  core.Clock
		mail   core.EmailService

		mu      sync.Mutex
		syncing bool

		kickCh   chan struct{}
		stopCh   chan struct{}
		stopOnce sync.Once
		wg       sync.WaitGroup
		unsub    func()
	}
)

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = core.NewClock()
	}
	return &Coordinator{
		conf:   deps.Conf,
		queue:  deps.Queue,
		client: deps.Client,
		conn:   deps.Conn,
		logger: logger,
		clock:  clock,
		mail:   deps.Mail,
		kickCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to connectivity transitions and launches the periodic
// flush loop. Call Stop to tear both down.
func (c *Coordinator) Start() {
	c.unsub = c.conn.Subscribe(func(online bool) {
		if online {
			c.kick()
		}
	})
	c.wg.Add(1)
	go c.run()
}

// Stop unsubscribes from connectivity events and stops the flush loop,
// waiting for any in-flight pass to finish. Safe to call more than once.
func (c *Coordinator) Stop() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.conf.Sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.kickCh:
		case <-ticker.C:
			if c.queue.Len() == 0 {
				continue
			}
		}
		if _, err := c.ProcessQueue(context.Background()); err != nil {
			if err == ErrSyncInProgress || err == ErrOffline {
				continue
			}
			c.logger.Error(fmt.Sprintf("processing offline queue: %v", err), err)
		}
	}
}

// kick requests a flush pass without blocking; redundant kicks coalesce.
func (c *Coordinator) kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// Enqueue records a pending mutation and, when online, triggers a flush.
func (c *Coordinator) Enqueue(ev progress.Event) (QueuedUpdate, error) {
	item, err := c.queue.Enqueue(ev)
	if err != nil {
		return QueuedUpdate{}, err
	}
	if c.conn.Online() {
		c.kick()
	}
	return item, nil
}

// RetryFailed re-admits terminally failed items and triggers a flush.
func (c *Coordinator) RetryFailed() int {
	n := c.queue.RetryFailed()
	if n > 0 && c.conn.Online() {
		c.kick()
	}
	return n
}

// ClearQueue drops all queued updates. Operator action only.
func (c *Coordinator) ClearQueue() {
	c.queue.Clear()
}

// Status reports the engine's externally observable health; never errors.
func (c *Coordinator) Status() QueueStatus {
	status := c.queue.Counts()
	status.IsOnline = c.conn.Online()
	c.mu.Lock()
	status.IsSyncing = c.syncing
	c.mu.Unlock()
	return status
}

func (c *Coordinator) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing {
		return false
	}
	c.syncing = true
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()
}

// ProcessQueue drains eligible queued updates in bounded batches. It is
// guarded against reentry: a second trigger while a pass is in flight gets
// ErrSyncInProgress. Returns the number of updates acknowledged.
func (c *Coordinator) ProcessQueue(ctx context.Context) (int, error) {
	if !c.conn.Online() {
		return 0, ErrOffline
	}
	if !c.tryAcquire() {
		return 0, ErrSyncInProgress
	}
	defer c.release() // always released, whatever path exits the pass

	retryDelay := c.conf.Sync.RetryDelay.Milliseconds()
	var flushed int
	for {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}
		now := core.TimeMillis(c.clock.Now())
		batches := c.createBatches(now, retryDelay)
		if len(batches) == 0 {
			return flushed, nil
		}

		var progressed bool
		for _, batch := range batches {
			ids := updateIDs(batch)
			c.queue.MarkProcessing(ids)

			rctx, cancel := context.WithTimeout(ctx, c.conf.Sync.RequestTimeout)
			err := c.client.SendUpdates(rctx, batch)
			cancel()

			attemptedAt := core.TimeMillis(c.clock.Now())
			if err != nil {
				// all-or-nothing: every item in the batch is marked for retry
				failed := c.queue.FailBatch(ids, attemptedAt, c.conf.Sync.MaxRetryAttempts)
				c.logger.Warn(fmt.Sprintf("bulk sync of %d update(s) failed: %v", len(batch), err), err)
				c.notifyFailed(failed)
				continue
			}
			c.queue.CompleteBatch(ids, attemptedAt)
			flushed += len(batch)
			progressed = true
		}
		if !progressed {
			// every remaining item is cooling down; wait for the next trigger
			return flushed, nil
		}
	}
}

// Flush runs a synchronous pass for the force-flush control path.
func (c *Coordinator) Flush(ctx context.Context) (int, error) {
	return c.ProcessQueue(ctx)
}

// createBatches prioritizes fresh, never-retried items: sort by attempts
// then by the original event timestamp, and chunk to the batch size.
func (c *Coordinator) createBatches(now, retryDelayMillis int64) [][]QueuedUpdate {
	eligible := c.queue.Eligible(now, retryDelayMillis)
	if len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Attempts != eligible[j].Attempts {
			return eligible[i].Attempts < eligible[j].Attempts
		}
		return eligible[i].Update.Timestamp < eligible[j].Update.Timestamp
	})

	size := c.conf.Sync.BatchSize
	var batches [][]QueuedUpdate
	for start := 0; start < len(eligible); start += size {
		end := start + size
		if end > len(eligible) {
			end = len(eligible)
		}
		batches = append(batches, eligible[start:end])
	}
	return batches
}

func (c *Coordinator) notifyFailed(failed []QueuedUpdate) {
	if c.mail == nil || len(failed) == 0 {
		return
	}
	body := fmt.Sprintf(
		"%d progress update(s) for learner %s exhausted their %d retry attempts and require a manual retry.",
		len(failed), c.conf.Learner.ID, c.conf.Sync.MaxRetryAttempts,
	)
	for _, item := range failed {
		body += fmt.Sprintf("\n- %s %s %s (update %s)", item.Update.Type, item.Update.EntityType, item.Update.EntityID, item.ID)
	}
	c.mail.SendMessages(&core.EmailMessage{
		To:      []mail.Address{c.conf.AdminEmail},
		Subject: "progress sync updates exhausted retries",
		Body:    body,
	})
}

func updateIDs(batch []QueuedUpdate) []string {
	ids := make([]string, 0, len(batch))
	for _, item := range batch {
		ids = append(ids, item.ID)
	}
	return ids
}
