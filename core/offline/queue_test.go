package offline

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/progress"
	inmemkv "github.com/trezcool/maendeleo/storage/kv/inmem"
)

func testConfig() *core.Config {
	return &core.Config{
		Sync: core.SyncConfig{
			MaxQueueSize:     100,
			MaxRetryAttempts: 3,
		},
	}
}

func testEvent(t *testing.T, entityID string, ts int64) progress.Event {
	t.Helper()
	ev, err := progress.NewEventAt(progress.CourseStarted, entityID, nil, ts)
	require.NoError(t, err)
	return ev
}

func Test_Queue_EnqueueEvictsOldestWhenFull(t *testing.T) {
	conf := testConfig()
	conf.Sync.MaxQueueSize = 3
	q := NewQueue(conf, nil, nil)

	for i := 1; i <= 5; i++ {
		_, err := q.Enqueue(testEvent(t, fmt.Sprintf("course-%d", i), int64(i*1000)))
		require.NoError(t, err)
	}

	items := q.Items()
	require.Len(t, items, 3)
	// the 3 most recent survive, oldest first
	assert.Equal(t, "course-3", items[0].Update.EntityID)
	assert.Equal(t, "course-5", items[2].Update.EntityID)
	assert.EqualValues(t, 2, q.Counts().Evictions)
}

func Test_Queue_EnqueueRejectsInvalidEvents(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)
	_, err := q.Enqueue(progress.Event{Type: progress.CourseStarted}) // no entity id
	assert.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func Test_Queue_PersistsAndReloads(t *testing.T) {
	store := inmemkv.Open()
	q := NewQueue(testConfig(), store, nil)

	item, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err)
	q.MarkProcessing([]string{item.ID}) // simulate an interrupted flush
	q.CompleteBatch(nil, 9000)          // records lastSync

	reloaded := NewQueue(testConfig(), store, nil)
	require.NoError(t, reloaded.Load())

	items := reloaded.Items()
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	// in-flight work from a previous session is re-admitted
	assert.Equal(t, StatusPending, items[0].Status)
	assert.EqualValues(t, 9000, reloaded.Counts().LastSync)
}

func Test_Queue_LoadDiscardsUnknownSchemaVersion(t *testing.T) {
	store := inmemkv.Open()
	raw, err := json.Marshal(envelope{
		Queue:   []QueuedUpdate{{ID: "u-1", Status: StatusPending}},
		Version: envelopeVersion + 1,
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(queueStoreKey, raw))

	q := NewQueue(testConfig(), store, nil)
	require.NoError(t, q.Load())
	assert.Equal(t, 0, q.Len())
}

func Test_Queue_DegradesWhenStorageFails(t *testing.T) {
	store := inmemkv.Open()
	store.WriteErr = assert.AnError
	q := NewQueue(testConfig(), store, nil)

	_, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err) // quota exhaustion must not lose the session's queue
	assert.Equal(t, 1, q.Len())
}

func Test_Queue_Eligible(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)

	fresh, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err)
	cooling, err := q.Enqueue(testEvent(t, "course-2", 2000))
	require.NoError(t, err)
	failed, err := q.Enqueue(testEvent(t, "course-3", 3000))
	require.NoError(t, err)
	inflight, err := q.Enqueue(testEvent(t, "course-4", 4000))
	require.NoError(t, err)

	q.FailBatch([]string{cooling.ID}, 10_000, 3) // retrying, cooling down
	q.FailBatch([]string{failed.ID}, 10_000, 1)  // exhausted
	q.MarkProcessing([]string{inflight.ID})

	const retryDelay = 5_000

	ids := func(items []QueuedUpdate) (out []string) {
		for _, item := range items {
			out = append(out, item.ID)
		}
		return
	}

	// within the cool-down window only the fresh item is eligible
	assert.Equal(t, []string{fresh.ID}, ids(q.Eligible(12_000, retryDelay)))
	// once the window passes the retrying item rejoins; failed stays out
	assert.Equal(t, []string{fresh.ID, cooling.ID}, ids(q.Eligible(15_000, retryDelay)))
}

func Test_Queue_FailBatchCapsRetries(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)
	item, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err)

	assert.Empty(t, q.FailBatch([]string{item.ID}, 10_000, 3))
	assert.Empty(t, q.FailBatch([]string{item.ID}, 20_000, 3))
	assert.Equal(t, StatusRetrying, q.Items()[0].Status)

	newlyFailed := q.FailBatch([]string{item.ID}, 30_000, 3)
	require.Len(t, newlyFailed, 1)
	assert.Equal(t, item.ID, newlyFailed[0].ID)
	assert.Equal(t, StatusFailed, q.Items()[0].Status)
	assert.Equal(t, 3, q.Items()[0].Attempts)
}

func Test_Queue_RetryFailed(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)
	item, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err)
	q.FailBatch([]string{item.ID}, 10_000, 1)
	require.Equal(t, StatusFailed, q.Items()[0].Status)

	assert.Equal(t, 1, q.RetryFailed())

	got := q.Items()[0]
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.EqualValues(t, 0, got.LastAttempt)

	assert.Equal(t, 0, q.RetryFailed()) // idempotent
}

func Test_Queue_CompleteBatch(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)
	done, err := q.Enqueue(testEvent(t, "course-1", 1000))
	require.NoError(t, err)
	kept, err := q.Enqueue(testEvent(t, "course-2", 2000))
	require.NoError(t, err)

	q.CompleteBatch([]string{done.ID}, 5000)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, kept.ID, items[0].ID)
	assert.EqualValues(t, 5000, q.Counts().LastSync)
}

func Test_Queue_Counts(t *testing.T) {
	q := NewQueue(testConfig(), nil, nil)
	a, _ := q.Enqueue(testEvent(t, "course-1", 1000))
	b, _ := q.Enqueue(testEvent(t, "course-2", 2000))
	_, _ = q.Enqueue(testEvent(t, "course-3", 3000))
	q.FailBatch([]string{a.ID}, 10_000, 3)
	q.FailBatch([]string{b.ID}, 10_000, 1)

	counts := q.Counts()
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 1, counts.Retrying)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 3, counts.Total())
}
