package offline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/progress"
)

const queueStoreKey = "progress:queue"

// Queue guarantees that a progress mutation created while offline (or while
// a sync is failing) is not lost, and is retried with bounded, delayed
// attempts. The envelope is persisted on every mutation so a restart
// reconstructs identical pending work; if persistence fails the in-memory
// queue remains the source of truth for the session.
type Queue struct {
	mu        sync.Mutex
	items     []QueuedUpdate
	lastSync  int64
	evictions int64

	conf   *core.Config
	store  core.KVStore
	logger core.Logger
}

func NewQueue(conf *core.Config, store core.KVStore, logger core.Logger) *Queue {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Queue{conf: conf, store: store, logger: logger}
}

// Load restores the persisted envelope. On schema version mismatch the
// queue is discarded (starts empty) rather than attempting migration.
// Items left in "processing" by an interrupted flush are reset to pending.
func (q *Queue) Load() error {
	if q.store == nil {
		return nil
	}
	raw, ok, err := q.store.Get(queueStoreKey)
	if err != nil {
		return errors.Wrap(err, "loading offline queue")
	}
	if !ok {
		return nil
	}
	var env envelope
	if err = json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "decoding offline queue")
	}
	if env.Version != envelopeVersion {
		q.logger.Warn(fmt.Sprintf("offline queue schema version mismatch (got %d, want %d); discarding persisted queue", env.Version, envelopeVersion))
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = env.Queue
	q.lastSync = env.LastSync
	for i := range q.items {
		if q.items[i].Status == StatusProcessing {
			q.items[i].Status = StatusPending
		}
	}
	return nil
}

// save persists the envelope; it must be called with q.mu held.
// Storage failures (e.g. quota) are logged, never propagated.
func (q *Queue) save() {
	if q.store == nil {
		return
	}
	raw, err := json.Marshal(envelope{Queue: q.items, LastSync: q.lastSync, Version: envelopeVersion})
	if err != nil {
		q.logger.Error(fmt.Sprintf("encoding offline queue: %v", err), err)
		return
	}
	if err = q.store.Set(queueStoreKey, raw); err != nil {
		q.logger.Error(fmt.Sprintf("persisting offline queue: %v", err), err)
	}
}

// Enqueue wraps the event in a fresh pending QueuedUpdate. When the queue
// exceeds its capacity the oldest entry is evicted (FIFO); the loss is
// surfaced through the Evictions counter.
func (q *Queue) Enqueue(ev progress.Event) (QueuedUpdate, error) {
	if err := ev.Validate(); err != nil {
		return QueuedUpdate{}, err
	}
	item := QueuedUpdate{
		ID:     uuid.New().String(),
		Update: ev,
		Status: StatusPending,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	for len(q.items) > q.conf.Sync.MaxQueueSize {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.evictions++
		q.logger.Warn(fmt.Sprintf("offline queue full (max %d); evicted oldest update %s", q.conf.Sync.MaxQueueSize, evicted.ID))
	}
	q.save()
	q.mu.Unlock()

	return item, nil
}

// Eligible returns a snapshot of items ready for a batch pass at time
// `now` (unix ms): failed items are excluded until explicitly retried, and
// items still cooling down after a failed attempt are skipped.
func (q *Queue) Eligible(now int64, retryDelayMillis int64) []QueuedUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueuedUpdate
	for _, item := range q.items {
		switch item.Status {
		case StatusFailed, StatusProcessing:
			continue
		}
		if item.LastAttempt > 0 && now-item.LastAttempt < retryDelayMillis {
			continue
		}
		out = append(out, item)
	}
	return out
}

// MarkProcessing flags the batch items as in-flight.
func (q *Queue) MarkProcessing(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := idSet(ids)
	for i := range q.items {
		if _, ok := set[q.items[i].ID]; ok {
			q.items[i].Status = StatusProcessing
		}
	}
	q.save()
}

// CompleteBatch removes acknowledged items and advances lastSync.
func (q *Queue) CompleteBatch(ids []string, now int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := idSet(ids)
	kept := q.items[:0]
	for _, item := range q.items {
		if _, ok := set[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	q.items = kept
	q.lastSync = now
	q.save()
}

// FailBatch records a failed attempt for every item in the batch; items
// reaching the retry cap transition to failed and are returned.
func (q *Queue) FailBatch(ids []string, now int64, maxAttempts int) []QueuedUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := idSet(ids)
	var failed []QueuedUpdate
	for i := range q.items {
		if _, ok := set[q.items[i].ID]; !ok {
			continue
		}
		q.items[i].Attempts++
		q.items[i].LastAttempt = now
		if q.items[i].Attempts >= maxAttempts {
			q.items[i].Status = StatusFailed
			failed = append(failed, q.items[i])
		} else {
			q.items[i].Status = StatusRetrying
		}
	}
	q.save()
	return failed
}

// RetryFailed resets failed items to pending with a clean attempt count,
// re-admitting them into automatic batching. Returns the number reset.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for i := range q.items {
		if q.items[i].Status == StatusFailed {
			q.items[i].Status = StatusPending
			q.items[i].Attempts = 0
			q.items[i].LastAttempt = 0
			n++
		}
	}
	if n > 0 {
		q.save()
	}
	return n
}

// Clear drops every queued item. Operator action only.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.save()
}

// Counts tallies items per status plus bookkeeping counters.
func (q *Queue) Counts() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	status := QueueStatus{Evictions: q.evictions, LastSync: q.lastSync}
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			status.Pending++
		case StatusProcessing:
			status.Processing++
		case StatusRetrying:
			status.Retrying++
		case StatusFailed:
			status.Failed++
		}
	}
	return status
}

// Len returns the number of queued items, in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queue in insertion order.
func (q *Queue) Items() []QueuedUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedUpdate, len(q.items))
	copy(out, q.items)
	return out
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
