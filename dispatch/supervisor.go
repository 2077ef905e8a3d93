package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

// Config tunes the supervisor's retry and context behavior.
type Config struct {
	// AcquireRetries bounds how often a dispatch retries a busy handler
	// before the item is abandoned.
	AcquireRetries int
	// AcquireBackoff is the fixed wait between acquire attempts.
	AcquireBackoff time.Duration
	// HandlerTimeout, when positive, bounds a single handler invocation.
	// Zero means no timeout.
	HandlerTimeout time.Duration
	// DefaultHandler receives items the classifier cannot place.
	DefaultHandler string
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		AcquireRetries: 5,
		AcquireBackoff: 3 * time.Second,
		DefaultHandler: "general_assistant",
	}
}

// Supervisor is the single consumer of the work queue. It resolves a handler
// for each item, enforces one active invocation per handler, and keeps task
// state synchronized with dispatch outcomes.
type Supervisor struct {
	store      task.Store
	queue      *Queue
	registry   *HandlerRegistry
	handlers   map[string]Handler
	classifier Classifier
	decomposer Decomposer
	mat        *task.Materializer
	bus        comms.Bus
	logger     *slog.Logger
	cfg        Config
}

// NewSupervisor wires a supervisor. The handlers map associates registry
// names with implementations; names without an implementation fall back to
// the default handler at dispatch time.
func NewSupervisor(
	store task.Store,
	queue *Queue,
	registry *HandlerRegistry,
	handlers map[string]Handler,
	classifier Classifier,
	decomposer Decomposer,
	bus comms.Bus,
	logger *slog.Logger,
	cfg Config,
) *Supervisor {
	if cfg.AcquireRetries <= 0 {
		cfg.AcquireRetries = 5
	}
	if cfg.AcquireBackoff <= 0 {
		cfg.AcquireBackoff = 3 * time.Second
	}
	if cfg.DefaultHandler == "" {
		cfg.DefaultHandler = "general_assistant"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		store:      store,
		queue:      queue,
		registry:   registry,
		handlers:   handlers,
		classifier: classifier,
		decomposer: decomposer,
		mat:        task.NewMaterializer(store),
		bus:        bus,
		logger:     logger,
		cfg:        cfg,
	}
}

// Enqueue submits a work item for dispatch.
func (s *Supervisor) Enqueue(item WorkItem) error {
	return s.queue.Enqueue(item)
}

// Materializer exposes the supervisor's recurrence materializer so the sweeps
// share its lock.
func (s *Supervisor) Materializer() *task.Materializer {
	return s.mat
}

// Run consumes the queue until the queue is closed or ctx is cancelled. An
// in-flight handler invocation is allowed to finish; cancellation is only
// observed between items and inside the acquire retry loop.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		item, ok := s.queue.Dequeue()
		if !ok {
			s.logger.Info("dispatch queue closed, supervisor exiting")
			return
		}
		s.dispatch(ctx, item)
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping", "reason", ctx.Err())
			return
		default:
		}
	}
}

// dispatch runs the full lifecycle of one work item.
func (s *Supervisor) dispatch(ctx context.Context, item WorkItem) {
	name := s.resolveHandler(ctx, item)

	// Mark the referenced task in progress, remembering where it was so a
	// failed invocation can put it back.
	var t *task.Task
	priorStatus := task.StatusPending
	if item.TaskID != "" {
		var err error
		t, err = s.store.Get(item.TaskID)
		if err != nil {
			s.logger.Warn("work item references unknown task", "task", item.TaskID, "err", err)
		} else {
			priorStatus = t.Status
			t.Status = task.StatusInProgress
			if err := s.store.Update(t); err != nil {
				s.logger.Error("mark task in progress", "task", t.ID, "err", err)
			}
		}
	}

	if !s.acquire(ctx, name) {
		if ctx.Err() != nil {
			// Shutdown, not retry exhaustion: put the task back where it
			// was so a restart can re-dispatch it.
			if t != nil {
				s.reapply(t.ID, func(cur *task.Task) { cur.Status = priorStatus })
			}
			s.logger.Info("dispatch interrupted", "handler", name, "reason", ctx.Err())
			return
		}
		s.abandon(t, name)
		return
	}
	defer s.registry.Release(name)

	result, err := s.invoke(ctx, name, item)
	if err != nil {
		s.logger.Error("handler failed", "handler", name, "err", err)
		if t != nil {
			s.reapply(t.ID, func(cur *task.Task) { cur.Status = priorStatus })
			s.notifyTask(t.ID, "error", fmt.Sprintf("Handler %s failed: %v", name, err))
		}
		return
	}

	if t != nil {
		done := s.reapply(t.ID, func(cur *task.Task) {
			cur.Status = task.StatusCompleted
			cur.Progress = 100
		})
		// A freshly completed recurring task may be due for its next
		// instance; the materializer is idempotent per occurrence, so
		// racing with the recurrence sweep is fine.
		if done != nil && done.Recurrence.Type != task.RecurNone {
			if _, err := s.mat.Materialize(done.ID, time.Now()); err != nil {
				s.logger.Error("materialize recurrence", "task", done.ID, "err", err)
			}
		}
	}

	_ = s.bus.Publish(ctx, &comms.Event{
		Type:     comms.TypeExchange,
		TaskID:   item.TaskID,
		Handler:  name,
		Query:    item.Query,
		Response: result,
	})
	s.logger.Info("dispatched", "handler", name, "task", item.TaskID)
}

// resolveHandler picks the handler name for an item: the pinned assignment if
// it is a known handler, otherwise the classifier's answer, otherwise the
// default. Out-of-set classifier answers are a configuration error and fall
// back to the default handler.
func (s *Supervisor) resolveHandler(ctx context.Context, item WorkItem) string {
	if item.AssignedHandler != "" && s.registry.Known(item.AssignedHandler) {
		return item.AssignedHandler
	}
	if s.classifier != nil {
		name, err := s.classifier.Classify(ctx, item.Query)
		if err != nil {
			s.logger.Warn("classify failed", "err", err)
			return s.cfg.DefaultHandler
		}
		if !s.registry.Known(name) {
			s.logger.Warn("classifier returned unknown handler", "handler", name)
			return s.cfg.DefaultHandler
		}
		return name
	}
	return s.cfg.DefaultHandler
}

// acquire tries to mark the handler busy, waiting a fixed backoff between
// attempts. This intentionally blocks the dispatcher, not the process: one
// call per handler at a time is the contract.
func (s *Supervisor) acquire(ctx context.Context, name string) bool {
	for attempt := 0; attempt < s.cfg.AcquireRetries; attempt++ {
		if s.registry.TryAcquire(name) {
			return true
		}
		s.logger.Info("handler busy, waiting", "handler", name, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.AcquireBackoff):
		}
	}
	return false
}

// abandon gives up on an item whose handler never freed up. The item is not
// re-enqueued; the task is left blocked for manual re-submission.
func (s *Supervisor) abandon(t *task.Task, handler string) {
	s.logger.Warn("abandoning work item, handler never became idle", "handler", handler)
	if t == nil {
		return
	}
	s.reapply(t.ID, func(cur *task.Task) { cur.Status = task.StatusBlocked })
	s.notifyTask(t.ID, "warning",
		fmt.Sprintf("Handler %s stayed busy through %d attempts; task parked as blocked", handler, s.cfg.AcquireRetries))
}

// reapply re-reads a task and writes it back with fn applied. Outcome writes
// go through here rather than through the snapshot fetched before the handler
// ran, so notifications appended by the sweeps in the meantime are kept.
func (s *Supervisor) reapply(id string, fn func(*task.Task)) *task.Task {
	cur, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("reload task", "task", id, "err", err)
		return nil
	}
	fn(cur)
	if err := s.store.Update(cur); err != nil {
		s.logger.Error("update task", "task", cur.ID, "err", err)
		return nil
	}
	return cur
}

// invoke runs the handler, converting panics into errors so a misbehaving
// handler can never wedge the registry or the loop.
func (s *Supervisor) invoke(ctx context.Context, name string, item WorkItem) (result string, err error) {
	h, ok := s.handlers[name]
	if !ok {
		h, ok = s.handlers[s.cfg.DefaultHandler]
		if !ok {
			return "", fmt.Errorf("no handler implementation for %s", name)
		}
	}
	if s.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", name, r)
		}
	}()
	return h.Handle(ctx, item)
}

// notifyTask appends a notification to a task and mirrors it on the bus.
func (s *Supervisor) notifyTask(id, level, message string) {
	if err := s.store.AppendNotification(id, task.Notification{Level: level, Message: message}); err != nil {
		s.logger.Error("append notification", "task", id, "err", err)
	}
	_ = s.bus.Publish(context.Background(), &comms.Event{
		Type:    comms.TypeNotification,
		TaskID:  id,
		Message: message,
	})
}

// fallbackPhases seed a goal when decomposition produces nothing usable.
var fallbackPhases = []string{"Research", "Plan", "Execute"}

// EnqueueComplexGoal decomposes a goal into subtasks and records them as a
// parent task with children. The children are not individually enqueued; the
// parent represents the aggregate. Decomposition failure falls back to three
// generic phases so the operation never silently produces nothing.
func (s *Supervisor) EnqueueComplexGoal(ctx context.Context, goal string) (string, error) {
	if goal == "" {
		return "", fmt.Errorf("%w: empty goal", task.ErrValidation)
	}

	var subs []Subtask
	if s.decomposer != nil {
		var err error
		subs, err = s.decomposer.Decompose(ctx, goal)
		if err != nil {
			s.logger.Warn("goal decomposition failed, using fallback", "err", err)
			subs = nil
		}
	}
	if len(subs) == 0 {
		for _, phase := range fallbackPhases {
			subs = append(subs, Subtask{
				Title:       fmt.Sprintf("%s: %s", phase, goal),
				Description: goal,
			})
		}
	}
	if len(subs) > 7 {
		subs = subs[:7]
	}

	parent := &task.Task{
		Title:       goal,
		Description: fmt.Sprintf("Complex goal with %d subtasks", len(subs)),
		Status:      task.StatusInProgress,
	}
	parentID, err := s.store.Create(parent)
	if err != nil {
		return "", fmt.Errorf("create goal task: %w", err)
	}

	for _, sub := range subs {
		child := &task.Task{
			Title:       sub.Title,
			Description: sub.Description,
			ParentID:    parentID,
		}
		if _, err := s.store.Create(child); err != nil {
			return "", fmt.Errorf("create subtask %q: %w", sub.Title, err)
		}
	}

	_ = s.bus.Publish(ctx, &comms.Event{
		Type:    comms.TypeTaskUpdate,
		TaskID:  parentID,
		Message: fmt.Sprintf("Goal decomposed into %d subtasks", len(subs)),
	})
	return parentID, nil
}
