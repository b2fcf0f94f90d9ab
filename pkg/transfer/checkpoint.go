package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

func checkpointPath(dir, taskID string) string {
	return filepath.Join(dir, taskID+".checkpoint.json")
}

// persistCheckpoint writes task's completed-chunks list to disk, per
// spec.md §4.J step 6 ("every 10 chunks persist the checkpoint").
func persistCheckpoint(dir string, t *Task) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+1, "create checkpoint dir", err)
	}
	t.mu.Lock()
	cp := Checkpoint{
		TaskID:      t.ID,
		SourcePath:  t.SourcePath,
		TargetPath:  t.TargetPath,
		FileSize:    t.FileSize,
		FileHash:    t.FileHash,
		Transferred: append([]CompletedChunk(nil), t.transferred...),
	}
	t.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		return beyerr.Parse(beyerr.CodeTransferBase+2, "marshal checkpoint", err)
	}
	if err := os.WriteFile(checkpointPath(dir, t.ID), data, 0600); err != nil {
		return beyerr.FileSystem(beyerr.CodeTransferBase+3, "write checkpoint", err)
	}
	return nil
}

// loadCheckpoint reads back a previously persisted checkpoint. It does not
// validate it; Resume checks that source/target/size still match the task.
func loadCheckpoint(dir, taskID string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(dir, taskID))
	if err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeTransferBase+4, "read checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, beyerr.Parse(beyerr.CodeTransferBase+5, "parse checkpoint", err)
	}
	return &cp, nil
}

func deleteCheckpoint(dir, taskID string) {
	_ = os.Remove(checkpointPath(dir, taskID))
}
