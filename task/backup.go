package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// snapshotVersion tags the backup format.
const snapshotVersion = "1"

// snapshot is the on-disk backup format: every task plus a little metadata.
type snapshot struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Tasks     []*Task   `json:"tasks"`
}

// writeSnapshot serializes tasks to path. The write is atomic: the file is
// either the old snapshot or the complete new one, never a partial write.
func writeSnapshot(path string, tasks []*Task) error {
	snap := snapshot{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
		Tasks:     tasks,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// readSnapshot loads a snapshot written by writeSnapshot.
func readSnapshot(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap.Tasks, nil
}
