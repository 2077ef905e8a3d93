package task

import (
	"fmt"
	"sync"
	"time"
)

// Approximate recurrence units. Months and years are fixed spans, not
// calendar-aware.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// NextOccurrenceAfter computes the occurrence that follows the given due date
// for the task's recurrence settings. It returns nil for non-recurring tasks
// or tasks without a due date.
func NextOccurrenceAfter(t *Task, from time.Time) *time.Time {
	var unit time.Duration
	switch t.Recurrence.Type {
	case RecurDaily:
		unit = day
	case RecurWeekly:
		unit = week
	case RecurMonthly:
		unit = month
	case RecurYearly:
		unit = year
	default:
		return nil
	}
	interval := t.Recurrence.Interval
	if interval < 1 {
		interval = 1
	}
	next := from.Add(time.Duration(interval) * unit)
	return &next
}

// Materializer derives new task instances from completed recurring tasks.
// All materialization, whether from the dispatch path or the periodic sweep,
// goes through one Materializer so the same occurrence is never spawned twice.
type Materializer struct {
	mu    sync.Mutex
	store Store
}

// NewMaterializer creates a materializer over the given store.
func NewMaterializer(store Store) *Materializer {
	return &Materializer{store: store}
}

// Materialize creates the next instance of a completed recurring task whose
// occurrence has come due. It returns the new task, or nil when there is
// nothing to do. The original task's NextOccurrence is advanced in the same
// critical section, which makes the operation idempotent per occurrence: a
// concurrent caller re-reads the record and sees the advanced date.
func (m *Materializer) Materialize(id string, now time.Time) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orig, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusCompleted || orig.Recurrence.Type == RecurNone {
		return nil, nil
	}
	if orig.NextOccurrence == nil || orig.NextOccurrence.After(now) {
		return nil, nil
	}

	occurrence := *orig.NextOccurrence
	next := &Task{
		Title:           orig.Title,
		Description:     orig.Description,
		Priority:        orig.Priority,
		AssignedHandler: orig.AssignedHandler,
		EstimatedHours:  orig.EstimatedHours,
		Tags:            append([]string(nil), orig.Tags...),
		Recurrence:      orig.Recurrence,
		Status:          StatusPending,
		DueDate:         &occurrence,
	}
	for _, ms := range orig.Milestones {
		next.Milestones = append(next.Milestones, Milestone{Title: ms.Title})
	}
	next.NextOccurrence = NextOccurrenceAfter(next, occurrence)

	if _, err := m.store.Create(next); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", id, err)
	}

	// Advance the original so this occurrence cannot spawn again.
	orig.NextOccurrence = NextOccurrenceAfter(orig, occurrence)
	if err := m.store.Update(orig); err != nil {
		return nil, fmt.Errorf("advance occurrence of %s: %w", id, err)
	}
	return next, nil
}
