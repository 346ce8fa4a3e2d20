package tests

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/maendeleo/apps/agent/echo"
	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/offline"
	"github.com/trezcool/maendeleo/core/progress"
	connsvc "github.com/trezcool/maendeleo/services/connectivity"
	testutil "github.com/trezcool/maendeleo/tests"
)

type fixture struct {
	server      Server
	log         *progress.Log
	queue       *offline.Queue
	coordinator *offline.Coordinator
	conn        *connsvc.Manual
	client      *fakeBulkClient
	clock       *testutil.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conf := &core.Config{
		AppName:    "Maendeleo",
		Env:        "TEST",
		TestMode:   true,
		SecretKey:  "test-secret",
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

	clock := testutil.NewFakeClock(time.Date(2021, 3, 14, 15, 0, 0, 0, time.UTC))
	log := progress.NewLog(nil, nil)
	queue := offline.NewQueue(conf, nil, nil)
	conn := connsvc.NewManual(true)
	client := &fakeBulkClient{}
	coordinator := offline.NewCoordinator(offline.CoordinatorDeps{
		Conf:   conf,
		Queue:  queue,
		Client: client,
		Conn:   conn,
		Clock:  clock,
	})

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	progress.InitValidators(validate, translator)

	server := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         core.NopLogger{},
		Log:            log,
		Projector:      progress.NewProjector(log),
		Coordinator:    coordinator,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return &fixture{
		server:      server,
		log:         log,
		queue:       queue,
		coordinator: coordinator,
		conn:        conn,
		client:      client,
		clock:       clock,
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// fakeBulkClient acknowledges every batch unless err is set.
type fakeBulkClient struct {
	mu      sync.Mutex
	batches [][]offline.QueuedUpdate
	err     error
}

func (c *fakeBulkClient) SendUpdates(_ context.Context, updates []offline.QueuedUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]offline.QueuedUpdate, len(updates))
	copy(batch, updates)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *fakeBulkClient) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	testutil.JSONEqual(t, rec.Body.Bytes(), tt.wantData)
}
