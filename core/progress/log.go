package progress

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/maendeleo/core"
)

const logStoreKey = "progress:events"

// logEnvelope is the persisted form of the log.
type logEnvelope struct {
	Events  []Event `json:"events"`
	Version int     `json:"version"`
}

const logSchemaVersion = 1

// Log holds the append-only sequence of progress events for the current
// learner session. It is the local source of truth; projections read it,
// the offline queue never does.
//
// The log is persisted best-effort through the KVStore: a failed write is
// logged and the session continues in memory only.
type Log struct {
	mu      sync.RWMutex
	events  []Event
	version uint64 // bumped on every append; memoization key for projections

	store  core.KVStore // optional
	logger core.Logger
}

func NewLog(store core.KVStore, logger core.Logger) *Log {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Log{store: store, logger: logger}
}

// Load restores previously persisted events. A missing record or a schema
// version mismatch yields an empty log.
func (l *Log) Load() error {
	if l.store == nil {
		return nil
	}
	raw, ok, err := l.store.Get(logStoreKey)
	if err != nil {
		return errors.Wrap(err, "loading event log")
	}
	if !ok {
		return nil
	}
	var env logEnvelope
	if err = json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "decoding event log")
	}
	if env.Version != logSchemaVersion {
		l.logger.Warn(fmt.Sprintf("event log schema version mismatch (got %d, want %d); starting empty", env.Version, logSchemaVersion))
		return nil
	}

	l.mu.Lock()
	l.events = env.Events
	l.version++
	l.mu.Unlock()
	return nil
}

// Append validates then appends the event; the log is never mutated
// otherwise. O(1) amortized.
func (l *Log) Append(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	l.version++
	l.save()
	return nil
}

// save persists the log; it must be called with l.mu held so a newer
// snapshot is never overwritten by an older one.
// Storage failures (e.g. quota) are logged, never propagated.
func (l *Log) save() {
	if l.store == nil {
		return
	}
	raw, err := json.Marshal(logEnvelope{Events: l.events, Version: logSchemaVersion})
	if err != nil {
		l.logger.Error(fmt.Sprintf("encoding event log: %v", err), err)
		return
	}
	if err = l.store.Set(logStoreKey, raw); err != nil {
		// degrade to session-only durability
		l.logger.Error(fmt.Sprintf("persisting event log: %v", err), err)
	}
}

// Query returns matching events in append order. Append order approximates
// timestamp order but must not be assumed sorted; callers needing "latest"
// sort by Timestamp explicitly.
func (l *Log) Query(entityType EntityType, entityID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.events {
		if ev.EntityType == entityType && ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out
}

// All returns a copy of the full log in append order.
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of appended events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Version increases on every change to the log contents.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
