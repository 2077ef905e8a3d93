package task

import (
	"math"
	"testing"
	"time"
)

var scoreNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dueIn(days int) *time.Time {
	d := scoreNow.AddDate(0, 0, days)
	return &d
}

func TestComputeScore_Base(t *testing.T) {
	tests := []struct {
		priority Priority
		want     float64
	}{
		{PriorityCritical, 3},
		{PriorityHigh, 2},
		{PriorityMedium, 1},
		{PriorityLow, 0},
	}
	for _, tt := range tests {
		task := &Task{Title: "x", Priority: tt.priority, Status: StatusPending}
		if got := ComputeScore(task, scoreNow); got != tt.want {
			t.Errorf("ComputeScore(%s) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestComputeScore_DueBonus(t *testing.T) {
	tests := []struct {
		name string
		due  *time.Time
		want float64
	}{
		{"overdue", dueIn(-1), 4},
		{"far overdue same as overdue", dueIn(-30), 4},
		{"due today", dueIn(0), 3},
		{"due tomorrow", dueIn(1), 2.5},
		{"due in two days", dueIn(2), 2.5},
		{"due this week", dueIn(7), 2},
		{"due far out", dueIn(30), 1},
		{"no due date", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Title: "x", Priority: PriorityMedium, Status: StatusPending, DueDate: tt.due}
			if got := ComputeScore(task, scoreNow); got != tt.want {
				t.Errorf("ComputeScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeScore_SubtasksAndStatus(t *testing.T) {
	task := &Task{
		Title:    "x",
		Priority: PriorityMedium,
		Status:   StatusInProgress,
		Subtasks: []string{"a", "b", "c"},
	}
	// 1 base + 0.6 subtasks + 0.5 in progress
	if got := ComputeScore(task, scoreNow); math.Abs(got-2.1) > 1e-9 {
		t.Errorf("ComputeScore = %v, want 2.1", got)
	}

	task.Status = StatusBlocked
	// 1 + 0.6 - 1
	if got := ComputeScore(task, scoreNow); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("ComputeScore blocked = %v, want 0.6", got)
	}
}

// A task's score must never decrease as its due date gets closer.
func TestComputeScore_MonotonicAsDueApproaches(t *testing.T) {
	due := scoreNow.AddDate(0, 0, 10)
	task := &Task{Title: "x", Priority: PriorityMedium, Status: StatusPending, DueDate: &due}

	prev := -1.0
	for daysOut := 10; daysOut >= -3; daysOut-- {
		now := due.AddDate(0, 0, -daysOut)
		score := ComputeScore(task, now)
		if score < prev {
			t.Fatalf("score dropped from %v to %v at %d days out", prev, score, daysOut)
		}
		prev = score
	}
}

func TestDaysUntil_DayGranularity(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	due := time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC)
	// 45 minutes apart but on different calendar days.
	if got := daysUntil(now, due); got != 1 {
		t.Errorf("daysUntil = %d, want 1", got)
	}

	due = time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)
	if got := daysUntil(now, due); got != 0 {
		t.Errorf("daysUntil same day = %d, want 0", got)
	}
}

// A 23-hour spring-forward day must still count as one whole day.
func TestDaysUntil_AcrossDSTTransition(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// DST begins 2026-03-08 in this zone.
	now := time.Date(2026, 3, 8, 9, 0, 0, 0, loc)
	due := time.Date(2026, 3, 9, 0, 30, 0, 0, loc)
	if got := daysUntil(now, due); got != 1 {
		t.Errorf("daysUntil across spring forward = %d, want 1", got)
	}

	// Fall back: a 25-hour day must not count as two.
	now = time.Date(2026, 10, 31, 9, 0, 0, 0, loc)
	due = time.Date(2026, 11, 1, 23, 0, 0, 0, loc)
	if got := daysUntil(now, due); got != 1 {
		t.Errorf("daysUntil across fall back = %d, want 1", got)
	}
}
