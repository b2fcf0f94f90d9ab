package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
)

func testTransferConfig(t *testing.T) *config.TransferConfig {
	return &config.TransferConfig{
		ChunkSize:          16 * 1024,
		ChunkHashAlgorithm: config.ChunkHashSHA256,
		MaxConcurrency:     2,
		CheckpointEvery:    2,
		CheckpointDir:      filepath.Join(t.TempDir(), "checkpoints"),
		Retry: config.RetryPolicy{
			MaxRetries: 2,
			DelayKind:  config.RetryDelayFixed,
			Base:       time.Millisecond,
			Max:        10 * time.Millisecond,
		},
	}
}

func writeRandomFile(t *testing.T, dir string, size int) (path string, hash string) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path = filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0600))
	sum := sha256.Sum256(data)
	return path, hex.EncodeToString(sum[:])
}

func TestManager_CompletesTransferAndVerifiesHash(t *testing.T) {
	dir := t.TempDir()
	source, hash := writeRandomFile(t, dir, 100*1024)
	target := filepath.Join(dir, "target.bin")

	bus := events.NewBus()
	sub := bus.Subscribe()
	m := New(testTransferConfig(t), bus, logger.NewLogger(io.Discard, logger.FatalLevel))
	m.Start()
	defer m.Stop()

	task, err := m.Create(source, target, hash, nil)
	require.NoError(t, err)
	m.Enqueue(task)

	require.Eventually(t, func() bool {
		return task.State() == StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	want, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var sawCompleted bool
	drain:
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.KindTaskCompleted {
				sawCompleted = true
			}
		default:
			break drain
		}
	}
	assert.True(t, sawCompleted)
}

// TestManager_PauseThenResumeProducesIdenticalFile drives the task loop
// synchronously (no worker goroutines) so pause lands deterministically at
// the very first chunk boundary instead of racing the transfer loop.
func TestManager_PauseThenResumeProducesIdenticalFile(t *testing.T) {
	dir := t.TempDir()
	source, hash := writeRandomFile(t, dir, 200*1024)
	target := filepath.Join(dir, "target.bin")

	cfg := testTransferConfig(t)
	cfg.ChunkSize = 8 * 1024
	m := New(cfg, nil, logger.NewLogger(io.Discard, logger.FatalLevel))

	task, err := m.Create(source, target, hash, nil)
	require.NoError(t, err)
	require.NoError(t, m.Pause(task.ID))

	m.runTask(task)
	require.Equal(t, StatePaused, task.State())
	require.Equal(t, 0, task.Progress().ChunksDone)

	require.NoError(t, m.Resume(task.ID))
	resumed := m.queue.pop(m.stopCh)
	require.NotNil(t, resumed)
	m.runTask(resumed)
	require.Equal(t, StateCompleted, resumed.State())

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	want, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestManager_CancelRemovesCheckpointAndTarget(t *testing.T) {
	dir := t.TempDir()
	source, _ := writeRandomFile(t, dir, 4096)
	target := filepath.Join(dir, "target.bin")

	cfg := testTransferConfig(t)
	m := New(cfg, nil, logger.NewLogger(io.Discard, logger.FatalLevel))

	task, err := m.Create(source, target, "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(target, []byte("partial"), 0600))
	require.NoError(t, persistCheckpoint(cfg.CheckpointDir, task))

	require.NoError(t, m.Cancel(task.ID))
	assert.Equal(t, StateCancelled, task.State())
	assert.NoFileExists(t, target)
	assert.NoFileExists(t, checkpointPath(cfg.CheckpointDir, task.ID))
}

func TestManager_HashMismatchFailsTask(t *testing.T) {
	dir := t.TempDir()
	source, _ := writeRandomFile(t, dir, 4096)
	target := filepath.Join(dir, "target.bin")

	m := New(testTransferConfig(t), nil, logger.NewLogger(io.Discard, logger.FatalLevel))
	task, err := m.Create(source, target, "0000000000000000000000000000000000000000000000000000000000000000", nil)
	require.NoError(t, err)
	m.runTask(task)
	assert.Equal(t, StateFailed, task.State())
}

func TestDerivePriority_ExplicitDominatesHeuristic(t *testing.T) {
	p := derivePriority("script.sh", map[string]interface{}{"priority": 250})
	assert.Equal(t, byte(250), p)
}

func TestDerivePriority_ExecutableAboveDefaultAboveText(t *testing.T) {
	exe := derivePriority("installer.exe", nil)
	def := derivePriority("blob.dat", nil)
	text := derivePriority("notes.txt", nil)
	assert.Greater(t, exe, def)
	assert.Greater(t, def, text)
}

func TestPlanChunks_CoversWholeFileExactly(t *testing.T) {
	chunks := planChunks(100, 30)
	require.Len(t, chunks, 4)
	var total int64
	for _, c := range chunks {
		total += c.Size
	}
	assert.Equal(t, int64(100), total)
	assert.Equal(t, int64(10), chunks[3].Size)
}

func TestFirstUnwrittenIndex_SkipsCompletedPrefix(t *testing.T) {
	idx := firstUnwrittenIndex([]CompletedChunk{{Index: 0}, {Index: 1}, {Index: 2}})
	assert.Equal(t, 3, idx)
	assert.Equal(t, 0, firstUnwrittenIndex(nil))
}

func TestRetryDelay_ExponentialDoublesAndCapsAtMax(t *testing.T) {
	policy := config.RetryPolicy{DelayKind: config.RetryDelayExponential, Base: 10 * time.Millisecond, Max: 30 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, retryDelay(policy, 1))
	assert.Equal(t, 20*time.Millisecond, retryDelay(policy, 2))
	assert.Equal(t, 30*time.Millisecond, retryDelay(policy, 3))
}
