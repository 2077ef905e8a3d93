package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	priority         TEXT NOT NULL,
	score            REAL NOT NULL DEFAULT 0,
	due_date         DATETIME,
	depends_on       TEXT NOT NULL DEFAULT '[]',
	subtasks         TEXT NOT NULL DEFAULT '[]',
	parent_id        TEXT NOT NULL DEFAULT '',
	assigned_handler TEXT NOT NULL DEFAULT '',
	progress         INTEGER NOT NULL DEFAULT 0,
	estimated_hours  REAL NOT NULL DEFAULT 0,
	tags             TEXT NOT NULL DEFAULT '[]',
	milestones       TEXT NOT NULL DEFAULT '[]',
	recur_type       TEXT NOT NULL DEFAULT 'none',
	recur_interval   INTEGER NOT NULL DEFAULT 0,
	next_occurrence  DATETIME,
	notifications    TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);
`

// SQLiteStore persists tasks in a SQLite database. It is the canonical
// backend; compound operations (cascading delete, dependency edges, parent
// linking) are serialized by an internal mutex on top of the single
// connection.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create validates and persists a new task, linking it into its parent.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Normalize()
	if err := t.Validate(); err != nil {
		return "", err
	}
	t.ID = uuid.New().String()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Recurrence.Type != RecurNone && t.NextOccurrence == nil && t.DueDate != nil {
		t.NextOccurrence = NextOccurrenceAfter(t, *t.DueDate)
	}
	t.Rescore(now)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if t.ParentID != "" {
		parent, err := getTx(tx, t.ParentID)
		if err != nil {
			return "", fmt.Errorf("parent %s: %w", t.ParentID, err)
		}
		parent.Subtasks = append(parent.Subtasks, t.ID)
		parent.UpdatedAt = now
		parent.Rescore(now)
		if err := updateTx(tx, parent); err != nil {
			return "", fmt.Errorf("link parent %s: %w", t.ParentID, err)
		}
	}
	if err := insertTx(tx, t); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Update saves changes to an existing task, refreshing UpdatedAt and the
// dynamic priority score.
func (s *SQLiteStore) Update(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.Rescore(now)
	return updateTx(s.db, t)
}

// Delete removes a task and, recursively, its subtasks. Dangling references
// to the deleted IDs are scrubbed from every remaining task.
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := getTx(tx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return err
	}

	// Walk parent links to collect the whole subtree.
	doomed := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := []string{}
		for _, pid := range frontier {
			children, err := childIDs(tx, pid)
			if err != nil {
				return err
			}
			for _, c := range children {
				if !doomed[c] {
					doomed[c] = true
					next = append(next, c)
				}
			}
		}
		frontier = next
	}

	for victim := range doomed {
		if _, err := tx.Exec(`DELETE FROM tasks WHERE id=?`, victim); err != nil {
			return fmt.Errorf("delete task %s: %w", victim, err)
		}
	}

	// Scrub references from survivors.
	survivors, err := listTx(tx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range survivors {
		deps, depsChanged := without(t.DependsOn, doomed)
		subs, subsChanged := without(t.Subtasks, doomed)
		if !depsChanged && !subsChanged {
			continue
		}
		t.DependsOn = deps
		t.Subtasks = subs
		t.UpdatedAt = now
		t.Rescore(now)
		if err := updateTx(tx, t); err != nil {
			return fmt.Errorf("scrub references in %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// List returns tasks matching the filter, most urgent first.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT * FROM tasks WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.Priority != nil {
		q.WriteString(" AND priority=?")
		args = append(args, string(*filter.Priority))
	}
	if filter.Handler != "" {
		q.WriteString(" AND assigned_handler=?")
		args = append(args, filter.Handler)
	}
	if filter.ParentID != "" {
		q.WriteString(" AND parent_id=?")
		args = append(args, filter.ParentID)
	}
	if filter.Tag != "" {
		q.WriteString(" AND tags LIKE ?")
		args = append(args, `%"`+filter.Tag+`"%`)
	}
	q.WriteString(" ORDER BY score DESC, created_at ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AddDependency records a dependency edge after cycle and existence checks.
// A rejected edge leaves the store unchanged.
func (s *SQLiteStore) AddDependency(id, dependsOn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id)
	if err != nil {
		return err
	}
	if t.HasDependency(dependsOn) {
		return nil
	}
	g := NewGraph(s.Get)
	if err := g.CheckEdge(id, dependsOn); err != nil {
		return err
	}
	t.DependsOn = append(t.DependsOn, dependsOn)
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.Rescore(now)
	if _, err := s.db.Exec(`UPDATE tasks SET depends_on=?, score=?, updated_at=? WHERE id=?`,
		mustJSON(t.DependsOn), t.Score, t.UpdatedAt, t.ID); err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

// AppendNotification atomically appends a notification to a task record.
func (s *SQLiteStore) AppendNotification(id string, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id)
	if err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	t.Notifications = append(t.Notifications, n)
	t.UpdatedAt = time.Now().UTC()
	if _, err := s.db.Exec(`UPDATE tasks SET notifications=?, updated_at=? WHERE id=?`,
		mustJSON(t.Notifications), t.UpdatedAt, t.ID); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// RescoreAll recomputes the priority score of every non-terminal task as of
// now. Only score changes; UpdatedAt is left alone so the score refresh does
// not mask real staleness.
func (s *SQLiteStore) RescoreAll(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tasks, err := listTx(tx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		old := t.Score
		t.Rescore(now)
		if t.Score == old {
			continue
		}
		if _, err := tx.Exec(`UPDATE tasks SET score=? WHERE id=?`, t.Score, t.ID); err != nil {
			return fmt.Errorf("rescore task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rescore: %w", err)
	}
	return nil
}

// Backup writes a JSON snapshot of every task to path.
func (s *SQLiteStore) Backup(path string) error {
	tasks, err := s.List(Filter{})
	if err != nil {
		return err
	}
	return writeSnapshot(path, tasks)
}

// Restore replaces the store contents with a snapshot written by Backup.
func (s *SQLiteStore) Restore(path string) error {
	tasks, err := readSnapshot(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for _, t := range tasks {
		if err := insertTx(tx, t); err != nil {
			return fmt.Errorf("restore task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	return nil
}

// execer abstracts *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func insertTx(e execer, t *Task) error {
	_, err := e.Exec(`
		INSERT INTO tasks
			(id, title, description, status, priority, score, due_date,
			 depends_on, subtasks, parent_id, assigned_handler, progress,
			 estimated_hours, tags, milestones, recur_type, recur_interval,
			 next_occurrence, notifications, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Score,
		nullTime(t.DueDate),
		mustJSON(t.DependsOn), mustJSON(t.Subtasks), t.ParentID, t.AssignedHandler, t.Progress,
		t.EstimatedHours, mustJSON(t.Tags), mustJSON(t.Milestones),
		string(t.Recurrence.Type), t.Recurrence.Interval,
		nullTime(t.NextOccurrence), mustJSON(t.Notifications),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func updateTx(e execer, t *Task) error {
	res, err := e.Exec(`
		UPDATE tasks SET
			title=?, description=?, status=?, priority=?, score=?, due_date=?,
			depends_on=?, subtasks=?, parent_id=?, assigned_handler=?, progress=?,
			estimated_hours=?, tags=?, milestones=?, recur_type=?, recur_interval=?,
			next_occurrence=?, notifications=?, updated_at=?
		WHERE id=?`, updateArgs(t)...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func updateArgs(t *Task) []any {
	return []any{
		t.Title, t.Description, string(t.Status), string(t.Priority), t.Score,
		nullTime(t.DueDate),
		mustJSON(t.DependsOn), mustJSON(t.Subtasks), t.ParentID, t.AssignedHandler, t.Progress,
		t.EstimatedHours, mustJSON(t.Tags), mustJSON(t.Milestones),
		string(t.Recurrence.Type), t.Recurrence.Interval,
		nullTime(t.NextOccurrence), mustJSON(t.Notifications),
		t.UpdatedAt,
		t.ID,
	}
}

func getTx(e execer, id string) (*Task, error) {
	row := e.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func childIDs(e execer, parentID string) ([]string, error) {
	rows, err := e.Query(`SELECT id FROM tasks WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func listTx(e execer) ([]*Task, error) {
	rows, err := e.Query(`SELECT * FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// without filters ids through the doomed set, reporting whether anything was
// removed.
func without(ids []string, doomed map[string]bool) ([]string, bool) {
	kept := ids[:0:0]
	changed := false
	for _, id := range ids {
		if doomed[id] {
			changed = true
			continue
		}
		kept = append(kept, id)
	}
	return kept, changed
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, priority, recurType string
	var dependsOn, subtasks, tags, milestones, notifications string
	var dueDate, nextOccurrence sql.NullTime

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority, &t.Score,
		&dueDate,
		&dependsOn, &subtasks, &t.ParentID, &t.AssignedHandler, &t.Progress,
		&t.EstimatedHours, &tags, &milestones,
		&recurType, &t.Recurrence.Interval,
		&nextOccurrence, &notifications,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.Recurrence.Type = RecurrenceType(recurType)

	_ = json.Unmarshal([]byte(dependsOn), &t.DependsOn)
	_ = json.Unmarshal([]byte(subtasks), &t.Subtasks)
	_ = json.Unmarshal([]byte(tags), &t.Tags)
	_ = json.Unmarshal([]byte(milestones), &t.Milestones)
	_ = json.Unmarshal([]byte(notifications), &t.Notifications)

	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if nextOccurrence.Valid {
		n := nextOccurrence.Time
		t.NextOccurrence = &n
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	if string(b) == "null" {
		return "[]"
	}
	return string(b)
}
