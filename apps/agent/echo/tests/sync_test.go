package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/trezcool/maendeleo/tests"
)

func enqueueEvent(t *testing.T, f *fixture, entityID string) {
	t.Helper()
	body := testutil.Marshall(t, map[string]interface{}{"type": "COURSE_STARTED", "entityId": entityID})
	req, rec := newRequest(http.MethodPost, "/v1/progress/events", body)
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func Test_SyncStatus(t *testing.T) {
	f := setup(t)
	f.conn.Set(false)
	enqueueEvent(t, f, "course-1")

	req, rec := newRequest(http.MethodGet, "/v1/sync/status")
	f.server.ServeHTTP(rec, req)

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: []byte(`{
			"pending": 1, "processing": 0, "retrying": 0, "failed": 0,
			"evictions": 0, "lastSync": 0, "isOnline": false, "isSyncing": false
		}`),
	}, rec)
}

func Test_SyncFlush(t *testing.T) {
	t.Run("flushes pending updates", func(t *testing.T) {
		f := setup(t)
		f.conn.Set(false) // keep Enqueue from kicking; flush manually below
		enqueueEvent(t, f, "course-1")
		enqueueEvent(t, f, "course-2")
		f.conn.Set(true)

		req, rec := newRequest(http.MethodPost, "/v1/sync/flush", []byte(`{"forceFlush": true}`))
		f.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res struct {
			Success   bool   `json:"success"`
			Message   string `json:"message"`
			Timestamp int64  `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "flushed 2 update(s)", res.Message)
		assert.NotZero(t, res.Timestamp)
		assert.Equal(t, 0, f.queue.Len())
	})

	t.Run("requires explicit confirmation", func(t *testing.T) {
		f := setup(t)
		req, rec := newRequest(http.MethodPost, "/v1/sync/flush", []byte(`{"forceFlush": false}`))
		f.server.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"forceFlush": "forceFlush must be true"}`),
		}, rec)
	})

	t.Run("reports offline without failing", func(t *testing.T) {
		f := setup(t)
		f.conn.Set(false)
		enqueueEvent(t, f, "course-1")

		req, rec := newRequest(http.MethodPost, "/v1/sync/flush", []byte(`{"forceFlush": true}`))
		f.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var res struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "offline")
		assert.Equal(t, 1, f.queue.Len())
	})
}

func Test_SyncRetry(t *testing.T) {
	f := setup(t)
	f.conn.Set(false)
	enqueueEvent(t, f, "course-1")
	f.conn.Set(true)

	// exhaust the item's retries
	f.client.fail(assert.AnError)
	for i := 0; i < 3; i++ {
		req, rec := newRequest(http.MethodPost, "/v1/sync/flush", []byte(`{"forceFlush": true}`))
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		f.clock.Advance(6 * time.Second) // past the retry cool-down
	}
	require.Equal(t, 1, f.queue.Counts().Failed)

	req, rec := newRequest(http.MethodPost, "/v1/sync/retry")
	f.server.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: []byte(`{"reset": 1}`),
	}, rec)
	assert.Equal(t, 1, f.queue.Counts().Pending)
}

func Test_SyncClearQueue(t *testing.T) {
	f := setup(t)
	f.conn.Set(false)
	enqueueEvent(t, f, "course-1")
	require.Equal(t, 1, f.queue.Len())

	req, rec := newRequest(http.MethodDelete, "/v1/sync/queue")
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.queue.Len())
}
