package offline

import (
	"github.com/trezcool/maendeleo/core/progress"
)

// Status is the retry state of a queued update.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
)

// QueuedUpdate is a pending network mutation derived from a progress event.
// It is mutated only by the sync coordinator during batch processing and
// removed on confirmed server acknowledgement.
type QueuedUpdate struct {
	ID          string         `json:"id"`
	Update      progress.Event `json:"update"`
	Attempts    int            `json:"attempts"`
	LastAttempt int64          `json:"lastAttempt"` // unix ms; 0 = never attempted
	Status      Status         `json:"status"`
}

// envelope is the single durable record holding the whole queue.
// Version must match envelopeVersion before the persisted queue is trusted;
// on mismatch the queue starts empty (reset over migration).
type envelope struct {
	Queue    []QueuedUpdate `json:"queue"`
	LastSync int64          `json:"lastSync"`
	Version  int            `json:"version"`
}

const envelopeVersion = 1

// QueueStatus is the only externally observable health signal of the engine.
type QueueStatus struct {
	Pending    int   `json:"pending"`
	Processing int   `json:"processing"`
	Retrying   int   `json:"retrying"`
	Failed     int   `json:"failed"`
	Evictions  int64 `json:"evictions"`
	LastSync   int64 `json:"lastSync"`
	IsOnline   bool  `json:"isOnline"`
	IsSyncing  bool  `json:"isSyncing"`
}

// Total returns the number of items currently queued, in any state.
func (s QueueStatus) Total() int {
	return s.Pending + s.Processing + s.Retrying + s.Failed
}
