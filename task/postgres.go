package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	priority         TEXT NOT NULL,
	score            DOUBLE PRECISION NOT NULL DEFAULT 0,
	due_date         TIMESTAMPTZ,
	depends_on       JSONB NOT NULL DEFAULT '[]',
	subtasks         JSONB NOT NULL DEFAULT '[]',
	parent_id        TEXT NOT NULL DEFAULT '',
	assigned_handler TEXT NOT NULL DEFAULT '',
	progress         INTEGER NOT NULL DEFAULT 0,
	estimated_hours  DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags             JSONB NOT NULL DEFAULT '[]',
	milestones       JSONB NOT NULL DEFAULT '[]',
	recur_type       TEXT NOT NULL DEFAULT 'none',
	recur_interval   INTEGER NOT NULL DEFAULT 0,
	next_occurrence  TIMESTAMPTZ,
	notifications    JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_parent_idx ON tasks (parent_id);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
`

const pgColumns = `id, title, description, status, priority, score, due_date,
	depends_on, subtasks, parent_id, assigned_handler, progress,
	estimated_hours, tags, milestones, recur_type, recur_interval,
	next_occurrence, notifications, created_at, updated_at`

// PostgresStore persists tasks in PostgreSQL via pgx. It mirrors the SQLite
// backend's behavior; compound operations are serialized by an internal mutex
// on top of per-statement atomicity.
type PostgresStore struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database named by connStr, verifies the
// connection, and ensures the tasks table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Create validates and persists a new task, linking it into its parent.
func (s *PostgresStore) Create(t *Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if t.ParentID != "" {
		parent, err := s.getIn(ctx, tx, t.ParentID)
		if err != nil {
			return "", fmt.Errorf("parent %s: %w", t.ParentID, err)
		}
		parent.Subtasks = append(parent.Subtasks, t.ID)
		parent.UpdatedAt = now
		parent.Rescore(now)
		if err := s.updateIn(ctx, tx, parent); err != nil {
			return "", fmt.Errorf("link parent %s: %w", t.ParentID, err)
		}
	}
	if err := s.insertIn(ctx, tx, t); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit create: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *PostgresStore) Get(id string) (*Task, error) {
	return s.getIn(context.Background(), s.pool, id)
}

// Update saves changes to an existing task.
func (s *PostgresStore) Update(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.Rescore(now)
	return s.updateIn(context.Background(), s.pool, t)
}

// Delete removes a task and its subtasks, scrubbing dangling references.
func (s *PostgresStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := s.getIn(ctx, tx, id); err != nil {
		return err
	}

	doomed := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := []string{}
		for _, pid := range frontier {
			rows, err := tx.Query(ctx, `SELECT id FROM tasks WHERE parent_id = $1`, pid)
			if err != nil {
				return fmt.Errorf("list children of %s: %w", pid, err)
			}
			ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return err
			}
			for _, c := range ids {
				if !doomed[c] {
					doomed[c] = true
					next = append(next, c)
				}
			}
		}
		frontier = next
	}

	for victim := range doomed {
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, victim); err != nil {
			return fmt.Errorf("delete task %s: %w", victim, err)
		}
	}

	survivors, err := s.listIn(ctx, tx, `SELECT `+pgColumns+` FROM tasks`, nil)
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
		if err := s.updateIn(ctx, tx, t); err != nil {
			return fmt.Errorf("scrub references in %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// List returns tasks matching the filter, most urgent first.
func (s *PostgresStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT ` + pgColumns + ` FROM tasks WHERE true`)
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.Status != nil {
		q.WriteString(" AND status=" + arg(string(*filter.Status)))
	}
	if filter.Priority != nil {
		q.WriteString(" AND priority=" + arg(string(*filter.Priority)))
	}
	if filter.Handler != "" {
		q.WriteString(" AND assigned_handler=" + arg(filter.Handler))
	}
	if filter.ParentID != "" {
		q.WriteString(" AND parent_id=" + arg(filter.ParentID))
	}
	if filter.Tag != "" {
		q.WriteString(" AND tags ? " + arg(filter.Tag))
	}
	q.WriteString(" ORDER BY score DESC, created_at ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}
	return s.listIn(context.Background(), s.pool, q.String(), args)
}

// AddDependency records a dependency edge after cycle and existence checks.
func (s *PostgresStore) AddDependency(id, dependsOn string) error {
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
	_, err = s.pool.Exec(context.Background(),
		`UPDATE tasks SET depends_on=$1, score=$2, updated_at=$3 WHERE id=$4`,
		mustJSON(t.DependsOn), t.Score, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

// AppendNotification atomically appends a notification to a task record.
func (s *PostgresStore) AppendNotification(id string, n Notification) error {
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
	_, err = s.pool.Exec(context.Background(),
		`UPDATE tasks SET notifications=$1, updated_at=$2 WHERE id=$3`,
		mustJSON(t.Notifications), t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// RescoreAll recomputes the priority score of every non-terminal task as of
// now. Only score changes; updated_at is left alone.
func (s *PostgresStore) RescoreAll(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tasks, err := s.listIn(ctx, tx, `SELECT `+pgColumns+` FROM tasks`, nil)
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
		if _, err := tx.Exec(ctx, `UPDATE tasks SET score=$1 WHERE id=$2`, t.Score, t.ID); err != nil {
			return fmt.Errorf("rescore task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rescore: %w", err)
	}
	return nil
}

// Backup writes a JSON snapshot of every task to path.
func (s *PostgresStore) Backup(path string) error {
	tasks, err := s.List(Filter{})
	if err != nil {
		return err
	}
	return writeSnapshot(path, tasks)
}

// Restore replaces the store contents with a snapshot written by Backup.
func (s *PostgresStore) Restore(path string) error {
	tasks, err := readSnapshot(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for _, t := range tasks {
		if err := s.insertIn(ctx, tx, t); err != nil {
			return fmt.Errorf("restore task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	return nil
}

// pgQuerier abstracts *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) insertIn(ctx context.Context, e pgQuerier, t *Task) error {
	_, err := e.Exec(ctx, `
		INSERT INTO tasks (`+pgColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Score,
		t.DueDate,
		mustJSON(t.DependsOn), mustJSON(t.Subtasks), t.ParentID, t.AssignedHandler, t.Progress,
		t.EstimatedHours, mustJSON(t.Tags), mustJSON(t.Milestones),
		string(t.Recurrence.Type), t.Recurrence.Interval,
		t.NextOccurrence, mustJSON(t.Notifications),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) updateIn(ctx context.Context, e pgQuerier, t *Task) error {
	tag, err := e.Exec(ctx, `
		UPDATE tasks SET
			title=$1, description=$2, status=$3, priority=$4, score=$5, due_date=$6,
			depends_on=$7, subtasks=$8, parent_id=$9, assigned_handler=$10, progress=$11,
			estimated_hours=$12, tags=$13, milestones=$14, recur_type=$15, recur_interval=$16,
			next_occurrence=$17, notifications=$18, updated_at=$19
		WHERE id=$20`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.Score,
		t.DueDate,
		mustJSON(t.DependsOn), mustJSON(t.Subtasks), t.ParentID, t.AssignedHandler, t.Progress,
		t.EstimatedHours, mustJSON(t.Tags), mustJSON(t.Milestones),
		string(t.Recurrence.Type), t.Recurrence.Interval,
		t.NextOccurrence, mustJSON(t.Notifications),
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) getIn(ctx context.Context, e pgQuerier, id string) (*Task, error) {
	rows, err := e.Query(ctx, `SELECT `+pgColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return scanPgTask(rows)
}

func (s *PostgresStore) listIn(ctx context.Context, e pgQuerier, query string, args []any) ([]*Task, error) {
	rows, err := e.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanPgTask(rows pgx.Rows) (*Task, error) {
	var t Task
	var status, priority, recurType string
	var dependsOn, subtasks, tags, milestones, notifications []byte

	err := rows.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority, &t.Score,
		&t.DueDate,
		&dependsOn, &subtasks, &t.ParentID, &t.AssignedHandler, &t.Progress,
		&t.EstimatedHours, &tags, &milestones,
		&recurType, &t.Recurrence.Interval,
		&t.NextOccurrence, &notifications,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.Recurrence.Type = RecurrenceType(recurType)

	_ = json.Unmarshal(dependsOn, &t.DependsOn)
	_ = json.Unmarshal(subtasks, &t.Subtasks)
	_ = json.Unmarshal(tags, &t.Tags)
	_ = json.Unmarshal(milestones, &t.Milestones)
	_ = json.Unmarshal(notifications, &t.Notifications)
	return &t, nil
}
