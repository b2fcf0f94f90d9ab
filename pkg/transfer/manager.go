package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/storage"
)

// Manager owns the task table, the priority queue, and a fixed pool of
// worker goroutines bounding concurrent transfers to
// config.TransferConfig.MaxConcurrency, per spec.md §4.J.
type Manager struct {
	cfg *config.TransferConfig
	bus *events.Bus
	log logger.Logger

	tasksMu sync.RWMutex
	tasks   map[string]*Task

	queue  *taskQueue
	stopCh chan struct{}
	group  *errgroup.Group
}

// New constructs a Manager. Start must be called to begin processing.
func New(cfg *config.TransferConfig, bus *events.Bus, log logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		bus:    bus,
		log:    log,
		tasks:  make(map[string]*Task),
		queue:  newTaskQueue(),
		stopCh: make(chan struct{}),
	}
}

// Start launches config.MaxConcurrency worker goroutines under a shared
// errgroup.Group so Stop can wait on all of them with a single call.
func (m *Manager) Start() {
	concurrency := m.cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m.group = new(errgroup.Group)
	for i := 0; i < concurrency; i++ {
		m.group.Go(m.worker)
	}
}

// Stop signals all workers to exit after their current task and waits.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.group != nil {
		_ = m.group.Wait()
	}
}

func (m *Manager) worker() error {
	for {
		task := m.queue.pop(m.stopCh)
		if task == nil {
			return nil
		}
		m.publish(events.KindTaskDequeued, task, nil)
		m.runTask(task)
	}
}

// Create produces a Task in Preparing after validating the source exists
// and capturing its size, per spec.md §4.J.
func (m *Manager) Create(sourcePath, targetPath, fileHash string, metadata map[string]interface{}) (*Task, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeTransferBase+10, "stat source", err)
	}

	t := &Task{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		TargetPath: targetPath,
		FileHash:   fileHash,
		FileSize:   info.Size(),
		Priority:   derivePriority(sourcePath, metadata),
		Metadata:   metadata,
		CreatedAt:  time.Now(),
		state:      StatePreparing,
	}

	m.tasksMu.Lock()
	m.tasks[t.ID] = t
	m.tasksMu.Unlock()
	return t, nil
}

// Enqueue submits t to the priority queue, per spec.md §4.J "priority
// queue": priority-descending then FIFO by creation time.
func (m *Manager) Enqueue(t *Task) {
	m.queue.push(t)
	m.publish(events.KindTaskEnqueued, t, nil)
	if m.bus != nil {
		m.bus.Publish(events.New(events.KindQueueStatusUpdate, "transfer", map[string]interface{}{
			"queue_length": m.queue.len(),
		}))
	}
}

// Task looks up a task by id.
func (m *Manager) Task(id string) (*Task, bool) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Pause requests the running (or queued) task transition to Paused at the
// next chunk boundary; the loop itself persists the checkpoint.
func (m *Manager) Pause(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return beyerr.Validation(beyerr.CodeTransferBase+11, "unknown task "+id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateTransferring && t.state != StatePreparing {
		return beyerr.Validation(beyerr.CodeTransferBase+12, "task not pausable in state "+string(t.state))
	}
	t.pauseRequested = true
	return nil
}

// Resume validates the persisted checkpoint and re-enqueues t from its
// first unwritten chunk, per spec.md §4.J.
func (m *Manager) Resume(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return beyerr.Validation(beyerr.CodeTransferBase+11, "unknown task "+id)
	}

	t.mu.Lock()
	if t.state != StatePaused {
		t.mu.Unlock()
		return beyerr.Validation(beyerr.CodeTransferBase+13, "task not paused")
	}
	t.mu.Unlock()

	cp, err := loadCheckpoint(m.cfg.CheckpointDir, id)
	if err != nil {
		return err
	}
	if cp.SourcePath != t.SourcePath || cp.TargetPath != t.TargetPath || cp.FileSize != t.FileSize {
		return beyerr.Validation(beyerr.CodeTransferBase+14, "checkpoint does not match task")
	}

	t.mu.Lock()
	t.transferred = cp.Transferred
	t.pauseRequested = false
	t.cancelRequested = false
	t.state = StatePreparing
	t.mu.Unlock()

	m.Enqueue(t)
	return nil
}

// Cancel stops t, deletes its checkpoint, and best-effort removes the
// partially-written target, per spec.md §4.J.
func (m *Manager) Cancel(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return beyerr.Validation(beyerr.CodeTransferBase+11, "unknown task "+id)
	}
	t.mu.Lock()
	running := t.state == StateTransferring
	t.cancelRequested = true
	if !running {
		t.state = StateCancelled
	}
	t.mu.Unlock()

	if !running {
		deleteCheckpoint(m.cfg.CheckpointDir, id)
		_ = os.Remove(t.TargetPath)
	}
	return nil
}

// runTask executes the chunked transfer loop with retry, per spec.md §4.J.
func (m *Manager) runTask(t *Task) {
	m.publish(events.KindTaskStarted, t, nil)

	t.mu.Lock()
	t.state = StateTransferring
	t.chunks = planChunks(t.FileSize, m.cfg.ChunkSize)
	startIndex := firstUnwrittenIndex(t.transferred)
	var resumedSize int64
	for _, c := range t.chunks[:startIndex] {
		resumedSize += c.Size
	}
	t.transferredSize = resumedSize
	t.mu.Unlock()

	for {
		err := m.executeChunkLoop(t, startIndex)
		if err == nil {
			return
		}
		if t.snapshotState() == StatePaused || t.snapshotState() == StateCancelled {
			return
		}

		t.mu.Lock()
		t.retryCount++
		retryCount := t.retryCount
		t.lastErr = err
		t.mu.Unlock()

		if retryCount > m.cfg.Retry.MaxRetries {
			t.mu.Lock()
			t.state = StateFailed
			t.mu.Unlock()
			m.publish(events.KindTaskFailed, t, err)
			return
		}

		time.Sleep(retryDelay(m.cfg.Retry, retryCount))
		t.mu.Lock()
		startIndex = firstUnwrittenIndex(t.transferred)
		t.mu.Unlock()
	}
}

func (m *Manager) executeChunkLoop(t *Task, startIndex int) error {
	src, err := os.Open(t.SourcePath)
	if err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+20, "open source", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(t.TargetPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+21, "open target", err)
	}
	defer dst.Close()

	t.mu.Lock()
	chunks := t.chunks
	t.mu.Unlock()

	for i := startIndex; i < len(chunks); i++ {
		if m.handleControl(t) {
			return nil
		}

		c := chunks[i]
		buf := make([]byte, c.Size)
		if _, err := src.ReadAt(buf, c.Offset); err != nil && err != io.EOF {
			return beyerr.FileSystem(beyerr.CodeTransferBase+22, fmt.Sprintf("read chunk %d", c.Index), err)
		}

		hash := hashBytes(m.cfg.ChunkHashAlgorithm, buf)

		if _, err := dst.WriteAt(buf, c.Offset); err != nil {
			return beyerr.FileSystem(beyerr.CodeTransferBase+23, fmt.Sprintf("write chunk %d", c.Index), err)
		}

		t.mu.Lock()
		t.transferred = append(t.transferred, CompletedChunk{Index: c.Index, Hash: hash})
		t.transferredSize += c.Size
		transferredSize := t.transferredSize
		doneCount := len(t.transferred)
		t.mu.Unlock()

		if m.bus != nil {
			m.bus.Publish(events.New(events.KindTransferProgress, "transfer", map[string]interface{}{
				"task_id": t.ID, "transferred_size": transferredSize, "file_size": t.FileSize,
				"chunks_done": doneCount, "chunks_total": len(chunks),
			}))
		}

		if (i+1)%m.cfg.CheckpointEvery == 0 || i == len(chunks)-1 {
			if err := persistCheckpoint(m.cfg.CheckpointDir, t); err != nil {
				return err
			}
		}
	}

	if t.FileHash != "" {
		if err := verifyAggregateHash(dst, t.FileHash); err != nil {
			t.mu.Lock()
			t.state = StateFailed
			t.mu.Unlock()
			m.publish(events.KindTaskFailed, t, err)
			return nil
		}
	}

	t.mu.Lock()
	t.state = StateCompleted
	t.mu.Unlock()
	deleteCheckpoint(m.cfg.CheckpointDir, t.ID)
	m.publish(events.KindTaskCompleted, t, nil)
	return nil
}

// handleControl checks for a pending pause/cancel request, applying it and
// reporting true if the caller should stop processing this task.
func (m *Manager) handleControl(t *Task) bool {
	t.mu.Lock()
	paused := t.pauseRequested
	cancelled := t.cancelRequested
	t.mu.Unlock()

	if cancelled {
		t.mu.Lock()
		t.state = StateCancelled
		t.mu.Unlock()
		deleteCheckpoint(m.cfg.CheckpointDir, t.ID)
		_ = os.Remove(t.TargetPath)
		return true
	}
	if paused {
		t.mu.Lock()
		t.state = StatePaused
		t.pauseRequested = false
		t.mu.Unlock()
		_ = persistCheckpoint(m.cfg.CheckpointDir, t)
		return true
	}
	return false
}

func verifyAggregateHash(f *os.File, want string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+24, "seek target for verification", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+25, "read target for verification", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return beyerr.Validation(beyerr.CodeTransferBase+26, "target hash mismatch: want "+want+" got "+got)
	}
	return nil
}

func (m *Manager) publish(kind events.Kind, t *Task, err error) {
	if m.bus == nil {
		return
	}
	fields := map[string]interface{}{"task_id": t.ID, "state": string(t.snapshotState())}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.bus.Publish(events.New(kind, "transfer", fields))
}

// Stats reports the number of queued (not yet dequeued) tasks and the
// total number of tasks the manager has ever seen.
func (m *Manager) Stats() (queued, total int) {
	m.tasksMu.RLock()
	total = len(m.tasks)
	m.tasksMu.RUnlock()
	return m.queue.len(), total
}

// Replicate implements storage.Replicator by running a transfer to a
// peer-scoped path synchronously, since the storage engine's replication
// step expects an immediate success/failure result.
func (m *Manager) Replicate(ctx storage.ReplicationContext) error {
	targetPath := ctx.SourcePath + ".replica." + ctx.PeerID
	task, err := m.Create(ctx.SourcePath, targetPath, "", map[string]interface{}{
		"file_id": ctx.FileID, "peer_id": ctx.PeerID,
	})
	if err != nil {
		return err
	}
	task.PeerID = ctx.PeerID
	m.runTask(task)

	if task.snapshotState() != StateCompleted {
		task.mu.Lock()
		lastErr := task.lastErr
		task.mu.Unlock()
		if lastErr != nil {
			return lastErr
		}
		return beyerr.Storage(beyerr.CodeTransferBase+30, "replication did not complete", nil)
	}
	return nil
}
