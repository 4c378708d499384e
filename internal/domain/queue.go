package domain

import "time"

// QueueFileVersion is the current schema version of the queue file.
const QueueFileVersion = 1

// QueueFile is the on-disk layout of the shared processing queue.
type QueueFile struct {
	Version     int                       `json:"version"`
	Created     time.Time                 `json:"created"`
	LastUpdated time.Time                 `json:"last_updated"`
	Instances   map[string]*InstanceInfo  `json:"instances"`
	Queue       QueueState                `json:"queue"`
	Records     map[string]*QueueRecord   `json:"records"`
}

// QueueState partitions video ids across processing stages. A video id
// appears in at most one of the four sets at any time.
type QueueState struct {
	Pending    []string            `json:"pending"`
	Processing map[string][]string `json:"processing"`
	Completed  []string            `json:"completed"`
	Failed     []string            `json:"failed"`
}

// InstanceInfo tracks one worker instance's liveness and claims.
type InstanceInfo struct {
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	ClaimedRecords []string  `json:"claimed_records"`
}

// QueueRecord holds per-video claim bookkeeping.
type QueueRecord struct {
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// NewQueueFile creates an empty queue file document.
func NewQueueFile(now time.Time) *QueueFile {
	return &QueueFile{
		Version:     QueueFileVersion,
		Created:     now,
		LastUpdated: now,
		Instances:   make(map[string]*InstanceInfo),
		Queue: QueueState{
			Pending:    []string{},
			Processing: make(map[string][]string),
			Completed:  []string{},
			Failed:     []string{},
		},
		Records: make(map[string]*QueueRecord),
	}
}

// Contains reports whether the id is present anywhere in the queue state.
func (q *QueueState) Contains(videoID string) bool {
	for _, id := range q.Pending {
		if id == videoID {
			return true
		}
	}
	for _, ids := range q.Processing {
		for _, id := range ids {
			if id == videoID {
				return true
			}
		}
	}
	for _, id := range q.Completed {
		if id == videoID {
			return true
		}
	}
	for _, id := range q.Failed {
		if id == videoID {
			return true
		}
	}
	return false
}

// RemoveFromSlice removes the first occurrence of id from ids, reporting
// whether it was present.
func RemoveFromSlice(ids []string, id string) ([]string, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}
