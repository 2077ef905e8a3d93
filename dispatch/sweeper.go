package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

// SweepConfig sets the interval of each background pass.
type SweepConfig struct {
	DeadlineEvery   time.Duration
	StuckEvery      time.Duration
	RecurrenceEvery time.Duration
	PriorityEvery   time.Duration
	// StuckAfter is how long an in_progress task may go untouched before
	// the stuck sweep flags it.
	StuckAfter time.Duration
}

// DefaultSweepConfig returns the sweep defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		DeadlineEvery:   15 * time.Minute,
		StuckEvery:      time.Hour,
		RecurrenceEvery: 15 * time.Minute,
		PriorityEvery:   10 * time.Minute,
		StuckAfter:      72 * time.Hour,
	}
}

// Sweeper runs the periodic maintenance passes: deadline notifications,
// stuck-task detection, recurrence materialization, and re-prioritization.
// Each pass has its own ticker goroutine; all of them stop when the
// supervising context is cancelled.
type Sweeper struct {
	store  task.Store
	mat    *task.Materializer
	bus    comms.Bus
	logger *slog.Logger
	cfg    SweepConfig

	mu       sync.Mutex
	notified map[string]time.Time // dedupe key -> when, pruned each sweep
}

// NewSweeper creates a sweeper. The materializer must be the same instance
// the supervisor uses, so concurrent materialization of one occurrence is
// serialized.
func NewSweeper(store task.Store, mat *task.Materializer, bus comms.Bus, logger *slog.Logger, cfg SweepConfig) *Sweeper {
	def := DefaultSweepConfig()
	if cfg.DeadlineEvery <= 0 {
		cfg.DeadlineEvery = def.DeadlineEvery
	}
	if cfg.StuckEvery <= 0 {
		cfg.StuckEvery = def.StuckEvery
	}
	if cfg.RecurrenceEvery <= 0 {
		cfg.RecurrenceEvery = def.RecurrenceEvery
	}
	if cfg.PriorityEvery <= 0 {
		cfg.PriorityEvery = def.PriorityEvery
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		mat:      mat,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		notified: make(map[string]time.Time),
	}
}

// Run starts all passes and blocks until ctx is cancelled and every pass has
// stopped.
func (w *Sweeper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	passes := []struct {
		name  string
		every time.Duration
		fn    func(time.Time)
	}{
		{"deadline", w.cfg.DeadlineEvery, w.SweepDeadlines},
		{"stuck", w.cfg.StuckEvery, w.SweepStuck},
		{"recurrence", w.cfg.RecurrenceEvery, w.SweepRecurrences},
		{"priority", w.cfg.PriorityEvery, w.SweepPriorities},
	}
	for _, p := range passes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(p.every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					w.logger.Info("sweep stopped", "pass", p.name)
					return
				case now := <-ticker.C:
					p.fn(now)
				}
			}
		}()
	}
	wg.Wait()
}

// SweepDeadlines notifies on tasks that are overdue, due today, or due
// tomorrow. Each tier fires at most once per task per due date.
func (w *Sweeper) SweepDeadlines(now time.Time) {
	tasks, err := w.store.List(task.Filter{})
	if err != nil {
		w.logger.Error("deadline sweep: list", "err", err)
		return
	}
	for _, t := range tasks {
		if t.Status.Terminal() || t.DueDate == nil {
			continue
		}
		tier, level, message := deadlineTier(t, now)
		if tier == "" {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", t.ID, tier, t.DueDate.Format("2006-01-02"))
		if !w.markOnce(key, now) {
			continue
		}
		if err := w.store.AppendNotification(t.ID, task.Notification{Level: level, Message: message}); err != nil {
			w.logger.Error("deadline sweep: notify", "task", t.ID, "err", err)
			continue
		}
		_ = w.bus.Publish(context.Background(), &comms.Event{
			Type:    comms.TypeNotification,
			TaskID:  t.ID,
			Message: message,
		})
	}
	w.prune(now)
}

// deadlineTier classifies a task's due date relative to now, day granularity.
func deadlineTier(t *task.Task, now time.Time) (tier, level, message string) {
	due := *t.DueDate
	switch days := daysBetween(now, due); {
	case days < 0:
		return "overdue", "error", fmt.Sprintf("Task %q is overdue (was due %s)", t.Title, due.Format("2006-01-02"))
	case days == 0:
		return "today", "warning", fmt.Sprintf("Task %q is due today", t.Title)
	case days == 1:
		return "tomorrow", "info", fmt.Sprintf("Task %q is due tomorrow", t.Title)
	}
	return "", "", ""
}

// SweepStuck flags in_progress tasks that have gone untouched too long.
func (w *Sweeper) SweepStuck(now time.Time) {
	status := task.StatusInProgress
	tasks, err := w.store.List(task.Filter{Status: &status})
	if err != nil {
		w.logger.Error("stuck sweep: list", "err", err)
		return
	}
	for _, t := range tasks {
		if now.Sub(t.UpdatedAt) < w.cfg.StuckAfter {
			continue
		}
		key := fmt.Sprintf("%s|stuck|%s", t.ID, t.UpdatedAt.Format(time.RFC3339))
		if !w.markOnce(key, now) {
			continue
		}
		message := fmt.Sprintf("Task %q has been in progress without updates since %s",
			t.Title, t.UpdatedAt.Format("2006-01-02"))
		if err := w.store.AppendNotification(t.ID, task.Notification{Level: "warning", Message: message}); err != nil {
			w.logger.Error("stuck sweep: notify", "task", t.ID, "err", err)
		}
	}
}

// SweepRecurrences materializes the next instance of every completed
// recurring task whose occurrence has come due.
func (w *Sweeper) SweepRecurrences(now time.Time) {
	status := task.StatusCompleted
	tasks, err := w.store.List(task.Filter{Status: &status})
	if err != nil {
		w.logger.Error("recurrence sweep: list", "err", err)
		return
	}
	for _, t := range tasks {
		if t.Recurrence.Type == task.RecurNone {
			continue
		}
		spawned, err := w.mat.Materialize(t.ID, now)
		if err != nil {
			w.logger.Error("recurrence sweep: materialize", "task", t.ID, "err", err)
			continue
		}
		if spawned != nil {
			w.logger.Info("materialized recurring task", "from", t.ID, "new", spawned.ID)
			_ = w.bus.Publish(context.Background(), &comms.Event{
				Type:    comms.TypeTaskUpdate,
				TaskID:  spawned.ID,
				Message: fmt.Sprintf("Recurring task %q materialized", t.Title),
			})
		}
	}
}

// SweepPriorities recomputes the dynamic priority score of every non-terminal
// task. Scores change as due dates approach even when nothing else does.
func (w *Sweeper) SweepPriorities(now time.Time) {
	if err := w.store.RescoreAll(now); err != nil {
		w.logger.Error("priority sweep", "err", err)
	}
}

// markOnce records a dedupe key, returning false when already present.
func (w *Sweeper) markOnce(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, seen := w.notified[key]; seen {
		return false
	}
	w.notified[key] = now
	return true
}

// prune drops dedupe entries older than two days so the map stays bounded.
func (w *Sweeper) prune(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, at := range w.notified {
		if now.Sub(at) > 48*time.Hour {
			delete(w.notified, key)
		}
	}
}

// daysBetween counts whole calendar days from now to due in now's zone. The
// civil dates are rebuilt in UTC before subtracting so a DST transition
// cannot shave a day.
func daysBetween(now, due time.Time) int {
	due = due.In(now.Location())
	y1, m1, d1 := now.Date()
	y2, m2, d2 := due.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}
