package task

import "time"

// Store persists and retrieves tasks. All writes are atomic with respect to a
// single task record, and every backend is safe for concurrent use by the
// dispatcher and the background sweeps.
type Store interface {
	// Create validates and persists a new task, assigns its ID and
	// timestamps, and links it into its parent's subtask set.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID. Returns ErrNotFound for unknown IDs.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task, refreshing UpdatedAt.
	Update(t *Task) error

	// Delete removes a task, recursively deletes its subtasks, and scrubs
	// the deleted IDs from every other task's dependency and subtask sets.
	Delete(id string) error

	// List returns tasks matching the given filter, most urgent first.
	List(filter Filter) ([]*Task, error)

	// AddDependency records "id depends on dependsOn" after cycle and
	// existence checks. A rejected edge leaves the store unchanged.
	AddDependency(id, dependsOn string) error

	// AppendNotification atomically appends a notification to a task.
	AppendNotification(id string, n Notification) error

	// RescoreAll recomputes the priority score of every non-terminal task
	// as of now. Scores move as due dates approach, so this runs on a
	// timer. It does not touch UpdatedAt.
	RescoreAll(now time.Time) error

	// Backup writes a JSON snapshot of every task to path.
	Backup(path string) error

	// Restore replaces the store contents with a snapshot written by Backup.
	Restore(path string) error

	// Close releases the underlying storage.
	Close() error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status   *Status   `json:"status,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Handler  string    `json:"handler,omitempty"`
	ParentID string    `json:"parent_id,omitempty"`
	Tag      string    `json:"tag,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}
