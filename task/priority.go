package task

import "time"

// Due-date proximity bonuses. An overdue task always gets the overdue tier,
// no matter how far past its date it is.
const (
	bonusOverdue = 3.0
	bonusToday   = 2.0
	bonusTwoDays = 1.5
	bonusWeek    = 1.0
)

// ComputeScore derives the dynamic priority score from the static priority,
// due-date proximity, subtask fan-out, and current status. The result is not
// clamped; callers sort descending for most-urgent-first.
func ComputeScore(t *Task, now time.Time) float64 {
	score := float64(3 - t.Priority.rank())

	if t.DueDate != nil {
		switch days := daysUntil(now, *t.DueDate); {
		case days < 0:
			score += bonusOverdue
		case days == 0:
			score += bonusToday
		case days <= 2:
			score += bonusTwoDays
		case days <= 7:
			score += bonusWeek
		}
	}

	score += 0.2 * float64(len(t.Subtasks))

	switch t.Status {
	case StatusBlocked:
		score -= 1
	case StatusInProgress:
		score += 0.5
	}
	return score
}

// Rescore recomputes and stores the task's dynamic priority.
func (t *Task) Rescore(now time.Time) {
	t.Score = ComputeScore(t, now)
}

// daysUntil counts whole calendar days from now to due, at day granularity in
// the local zone of now. Negative means overdue. The civil dates are rebuilt
// in UTC before subtracting so a DST transition cannot shave a day.
func daysUntil(now, due time.Time) int {
	due = due.In(now.Location())
	y1, m1, d1 := now.Date()
	y2, m2, d2 := due.Date()
	today := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	dueDay := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(dueDay.Sub(today) / (24 * time.Hour))
}
