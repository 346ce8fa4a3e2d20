package offline

import (
	"context"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/maendeleo/core"
	emailsvc "github.com/trezcool/maendeleo/services/email"
	testutil "github.com/trezcool/maendeleo/tests"
)

func coordConfig() *core.Config {
	return &core.Config{
		AdminEmail: mail.Address{Address: "ops@localhost"},
		Learner:    core.LearnerConfig{ID: "learner-1"},
		Sync: core.SyncConfig{
			MaxQueueSize:     100,
			MaxRetryAttempts: 3,
			RetryDelay:       5 * time.Second,
			Interval:         time.Minute,
			BatchSize:        10,
			RequestTimeout:   time.Second,
		},
	}
}

// fakeConn is a settable Connectivity that records subscriptions.
type fakeConn struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Set(online bool) {
	c.mu.Lock()
	c.online = online
	subs := append([]func(bool){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func (c *fakeConn) Subscribe(fn func(bool)) func() {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
	return func() {}
}

// captureClient records every batch it is asked to send; err, when set,
// fails the whole batch.
type captureClient struct {
	mu      sync.Mutex
	batches [][]QueuedUpdate
	err     error
}

func (c *captureClient) SendUpdates(_ context.Context, updates []QueuedUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]QueuedUpdate, len(updates))
	copy(batch, updates)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureClient) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *captureClient) sent() [][]QueuedUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]QueuedUpdate, len(c.batches))
	copy(out, c.batches)
	return out
}

type coordFixture struct {
	conf   *core.Config
	queue  *Queue
	client *captureClient
	conn   *fakeConn
	clock  *testutil.FakeClock
	coord  *Coordinator
}

func newCoordFixture(t *testing.T, conf *core.Config) *coordFixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2021, 3, 14, 15, 0, 0, 0, time.UTC))
	f := &coordFixture{
		conf:   conf,
		queue:  NewQueue(conf, nil, nil),
		client: &captureClient{},
		conn:   &fakeConn{online: true},
		clock:  clock,
	}
	f.coord = NewCoordinator(CoordinatorDeps{
		Conf:   conf,
		Queue:  f.queue,
		Client: f.client,
		Conn:   f.conn,
		Clock:  clock,
		Mail:   emailsvc.NewConsoleServiceMock(conf),
	})
	return f
}

func (f *coordFixture) enqueue(t *testing.T, entityID string, ts int64) QueuedUpdate {
	t.Helper()
	item, err := f.coord.Enqueue(testEvent(t, entityID, ts))
	require.NoError(t, err)
	return item
}

func Test_Coordinator_FlushDrainsQueueOnceOnline(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.conn.Set(false)

	// a quiz taken on the train: three answers recorded offline
	f.enqueue(t, "course-1", 1000)
	f.enqueue(t, "course-2", 2000)
	f.enqueue(t, "course-3", 3000)

	_, err := f.coord.ProcessQueue(context.Background())
	assert.Equal(t, ErrOffline, err)
	assert.Equal(t, 3, f.queue.Len())

	f.conn.Set(true)
	flushed, err := f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)
	assert.Equal(t, 0, f.queue.Len())

	sent := f.client.sent()
	require.Len(t, sent, 1) // all three fit one batch
	assert.Len(t, sent[0], 3)
	assert.EqualValues(t, core.TimeMillis(f.clock.Now()), f.queue.Counts().LastSync)
}

func Test_Coordinator_BatchOrderingAndChunking(t *testing.T) {
	conf := coordConfig()
	conf.Sync.BatchSize = 2
	f := newCoordFixture(t, conf)

	// bump attempts on one item so it sorts behind fresh ones
	retried := f.enqueue(t, "course-1", 1000)
	f.queue.FailBatch([]string{retried.ID}, core.TimeMillis(f.clock.Now()), 3)
	f.clock.Advance(10 * time.Second) // past the cool-down

	f.enqueue(t, "course-3", 3000)
	f.enqueue(t, "course-2", 2000)

	flushed, err := f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)

	sent := f.client.sent()
	require.Len(t, sent, 2)
	// fresh items first (fewest attempts), ordered by event timestamp
	assert.Equal(t, "course-2", sent[0][0].Update.EntityID)
	assert.Equal(t, "course-3", sent[0][1].Update.EntityID)
	assert.Equal(t, "course-1", sent[1][0].Update.EntityID)
}

func Test_Coordinator_FailedBatchCoolsDownThenRetries(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.enqueue(t, "course-1", 1000)

	f.client.fail(assert.AnError)
	flushed, err := f.coord.ProcessQueue(context.Background())
	require.NoError(t, err) // a failed batch is retried later, not surfaced
	assert.Equal(t, 0, flushed)
	assert.Equal(t, 1, f.queue.Counts().Retrying)

	// still cooling down: nothing is eligible
	flushed, err = f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flushed)

	f.client.fail(nil)
	f.clock.Advance(f.conf.Sync.RetryDelay + time.Second)
	flushed, err = f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, 0, f.queue.Len())
}

func Test_Coordinator_ExhaustedRetriesNeedManualRetry(t *testing.T) {
	conf := coordConfig()
	conf.Sync.MaxRetryAttempts = 1
	f := newCoordFixture(t, conf)
	f.enqueue(t, "course-1", 1000)
	emailsvc.SentMessages = nil

	f.client.fail(assert.AnError)
	_, err := f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.Counts().Failed)

	// failed items stay out of automatic passes, even after the cool-down
	f.client.fail(nil)
	f.clock.Advance(time.Minute)
	flushed, err := f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, flushed)

	// the admin was told
	require.Len(t, emailsvc.SentMessages, 1)
	assert.Equal(t, []mail.Address{conf.AdminEmail}, emailsvc.SentMessages[0].To)

	// an explicit retry re-admits them
	assert.Equal(t, 1, f.coord.RetryFailed())
	flushed, err = f.coord.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
}

func Test_Coordinator_ProcessQueueIsNotReentrant(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.enqueue(t, "course-1", 1000)

	started := make(chan struct{})
	release := make(chan struct{})
	f.coord.client = blockingClient{started: started, release: release}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.coord.ProcessQueue(context.Background())
		assert.NoError(t, err)
	}()

	<-started
	assert.True(t, f.coord.Status().IsSyncing)
	_, err := f.coord.Flush(context.Background())
	assert.Equal(t, ErrSyncInProgress, err)

	close(release)
	<-done
	assert.False(t, f.coord.Status().IsSyncing)
}

type blockingClient struct {
	started chan struct{}
	release chan struct{}
}

func (c blockingClient) SendUpdates(context.Context, []QueuedUpdate) error {
	close(c.started)
	<-c.release
	return nil
}

func Test_Coordinator_StopIsIdempotent(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.coord.Start()
	f.coord.Stop()
	f.coord.Stop() // must not panic
}

func Test_Coordinator_Status(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.enqueue(t, "course-1", 1000)
	f.conn.Set(false)

	status := f.coord.Status()
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.IsOnline)
	assert.False(t, status.IsSyncing)
}

func Test_Coordinator_OnlineTransitionTriggersFlush(t *testing.T) {
	f := newCoordFixture(t, coordConfig())
	f.conn.Set(false)
	f.coord.Start()
	defer f.coord.Stop()

	f.enqueue(t, "course-1", 1000)
	require.Equal(t, 1, f.queue.Len())

	f.conn.Set(true)

	deadline := time.After(3 * time.Second)
	for f.queue.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("queue was not flushed after going online")
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.Len(t, f.client.sent(), 1)
}
