// Package task defines the task model, its priority scoring, the dependency
// graph rules, recurrence, and persistence.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusOnHold     Status = "on_hold"
	StatusCancelled  Status = "cancelled"
	StatusReview     Status = "review"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// validStatuses is the closed set accepted on input boundaries.
var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusBlocked:    true,
	StatusOnHold:     true,
	StatusCancelled:  true,
	StatusReview:     true,
}

// transitions encodes the allowed status state machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled, StatusBlocked},
	StatusInProgress: {StatusCompleted, StatusBlocked, StatusOnHold, StatusCancelled, StatusReview},
	StatusBlocked:    {StatusPending, StatusCancelled},
	StatusOnHold:     {StatusInProgress, StatusCancelled},
	StatusReview:     {StatusInProgress, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a task may move from one status to another.
// Self-transitions are allowed (they only refresh UpdatedAt).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority is the static, user-set urgency class.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// rank orders priorities with critical first (0) and low last (3).
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RecurrenceType identifies how often a task repeats.
type RecurrenceType string

const (
	RecurNone    RecurrenceType = "none"
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
)

// Recurrence describes a task's repetition schedule.
type Recurrence struct {
	Type     RecurrenceType `json:"type"`
	Interval int            `json:"interval,omitempty"`
}

// Milestone is a named checkpoint within a task.
type Milestone struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Notification is an append-only message attached to a task.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Level     string    `json:"level"` // "info", "warning", "error"
	Timestamp time.Time `json:"timestamp"`
}

// Task is a unit of trackable work.
type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Status          Status         `json:"status"`
	Priority        Priority       `json:"priority"`
	Score           float64        `json:"score"` // dynamic priority, derived
	DueDate         *time.Time     `json:"due_date,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`
	Subtasks        []string       `json:"subtasks,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	AssignedHandler string         `json:"assigned_handler,omitempty"`
	Progress        int            `json:"progress"`
	EstimatedHours  float64        `json:"estimated_hours,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Milestones      []Milestone    `json:"milestones,omitempty"`
	Recurrence      Recurrence     `json:"recurrence"`
	NextOccurrence  *time.Time     `json:"next_occurrence,omitempty"`
	Notifications   []Notification `json:"notifications,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Sentinel errors shared by all store backends.
var (
	ErrNotFound   = errors.New("task not found")
	ErrValidation = errors.New("invalid task")
	ErrCycle      = errors.New("dependency cycle")
)

// Validate checks the task's own fields before any mutation is persisted.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: empty title", ErrValidation)
	}
	if t.Status != "" && !validStatuses[t.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, t.Priority)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrValidation, t.Progress)
	}
	switch t.Recurrence.Type {
	case "", RecurNone:
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		if t.Recurrence.Interval < 1 {
			return fmt.Errorf("%w: recurrence interval must be positive", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown recurrence type %q", ErrValidation, t.Recurrence.Type)
	}
	return nil
}

// Normalize fills defaults and applies field-coupling rules: a task that
// reaches 100% progress is forced to completed.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Recurrence.Type == "" {
		t.Recurrence.Type = RecurNone
	}
	if t.Progress == 100 {
		t.Status = StatusCompleted
	}
}

// HasDependency reports whether id is already in the task's dependency set.
func (t *Task) HasDependency(id string) bool {
	for _, d := range t.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

// Notify appends a notification to the task. The caller persists it.
func (t *Task) Notify(id, level, message string, at time.Time) {
	t.Notifications = append(t.Notifications, Notification{
		ID:        id,
		Message:   message,
		Level:     level,
		Timestamp: at,
	})
}
