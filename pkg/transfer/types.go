// Package transfer implements the chunked, resumable transfer pipeline of
// spec.md §4.J: a task lifecycle (create/start/pause/resume/cancel), a
// checkpointed chunk loop with aggregate hash verification, and a
// priority-ordered queue bounding concurrent transfers to max_concurrency.
package transfer

import (
	"sync"
	"time"
)

// State is a TransferTask's lifecycle stage.
type State string

const (
	StatePreparing    State = "preparing"
	StateTransferring State = "transferring"
	StatePaused       State = "paused"
	StateCancelled    State = "cancelled"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Chunk is one contiguous byte range of the task's source file.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64
}

// CompletedChunk records a chunk that has been read, hashed, and written.
type CompletedChunk struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
}

// Task is a single resumable transfer, per spec.md §4.J.
type Task struct {
	ID         string
	SourcePath string
	TargetPath string
	FileHash   string // expected aggregate hash, checked on completion if set
	FileSize   int64
	Priority   byte
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	PeerID     string

	mu              sync.Mutex
	state           State
	chunks          []Chunk
	transferred     []CompletedChunk
	transferredSize int64
	lastErr         error
	retryCount      int
	pauseRequested  bool
	cancelRequested bool
}

func (t *Task) snapshotState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// State returns t's current lifecycle stage.
func (t *Task) State() State { return t.snapshotState() }

// Progress returns a point-in-time snapshot of t's transfer state.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{
		TaskID:          t.ID,
		State:           t.state,
		TransferredSize: t.transferredSize,
		FileSize:        t.FileSize,
		ChunksDone:      len(t.transferred),
		ChunksTotal:     len(t.chunks),
	}
}

// Progress is a point-in-time snapshot of a task's transfer state.
type Progress struct {
	TaskID          string
	State           State
	TransferredSize int64
	FileSize        int64
	ChunksDone      int
	ChunksTotal     int
}

// Checkpoint is the serialisable record persisted for a paused (or
// in-flight) task, per spec.md §6 "on-disk layout".
type Checkpoint struct {
	TaskID      string           `json:"task_id"`
	SourcePath  string           `json:"source_path"`
	TargetPath  string           `json:"target_path"`
	FileSize    int64            `json:"file_size"`
	FileHash    string           `json:"file_hash,omitempty"`
	Transferred []CompletedChunk `json:"transferred"`
}
