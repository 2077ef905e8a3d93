package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

func newDispatchStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "buddyai-dispatch-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// classifierFunc adapts a function to the Classifier interface.
type classifierFunc func(ctx context.Context, query string) (string, error)

func (f classifierFunc) Classify(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// decomposerFunc adapts a function to the Decomposer interface.
type decomposerFunc func(ctx context.Context, goal string) ([]Subtask, error)

func (f decomposerFunc) Decompose(ctx context.Context, goal string) ([]Subtask, error) {
	return f(ctx, goal)
}

func newTestSupervisor(t *testing.T, store task.Store, handlers map[string]Handler, cfg Config) (*Supervisor, *HandlerRegistry, *comms.InMemoryBus) {
	t.Helper()
	names := make([]string, 0, len(handlers))
	for n := range handlers {
		names = append(names, n)
	}
	registry := NewHandlerRegistry(names...)
	bus := comms.NewInMemoryBus()
	sup := NewSupervisor(store, NewQueue(), registry, handlers, nil, nil, bus, testLogger(), cfg)
	return sup, registry, bus
}

func TestDispatch_Success(t *testing.T) {
	store := newDispatchStore(t)
	id, err := store.Create(&task.Task{Title: "Summarize inbox", AssignedHandler: "email_support"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	handlers := map[string]Handler{
		"email_support": HandlerFunc(func(context.Context, WorkItem) (string, error) {
			return "done: 3 messages need replies", nil
		}),
	}
	sup, registry, bus := newTestSupervisor(t, store, handlers, Config{})

	sup.dispatch(context.Background(), WorkItem{TaskID: id, Query: "summarize", AssignedHandler: "email_support"})

	got, _ := store.Get(id)
	if got.Status != task.StatusCompleted || got.Progress != 100 {
		t.Errorf("task after dispatch: status=%s progress=%d, want completed/100", got.Status, got.Progress)
	}
	if registry.Snapshot()["email_support"] {
		t.Error("handler still busy after dispatch")
	}
	exchanges := bus.Recent(comms.TypeExchange, 1)
	if len(exchanges) != 1 || exchanges[0].Response != "done: 3 messages need replies" {
		t.Errorf("exchange not recorded: %v", exchanges)
	}
}

func TestDispatch_HandlerErrorRestoresStatus(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "email_support"})

	handlers := map[string]Handler{
		"email_support": HandlerFunc(func(context.Context, WorkItem) (string, error) {
			return "", errors.New("upstream 500")
		}),
	}
	sup, registry, _ := newTestSupervisor(t, store, handlers, Config{})

	sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "email_support"})

	got, _ := store.Get(id)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending restored after failure", got.Status)
	}
	if len(got.Notifications) != 1 || got.Notifications[0].Level != "error" {
		t.Errorf("notifications = %+v, want one error entry", got.Notifications)
	}
	if registry.Snapshot()["email_support"] {
		t.Error("handler not released after failure")
	}
}

// A notification appended while the handler runs, by a sweep or any other
// writer, must survive the completion write.
func TestDispatch_KeepsNotificationsAppendedMidFlight(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "a"})

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) {
			err := store.AppendNotification(id, task.Notification{Level: "warning", Message: "due today"})
			if err != nil {
				t.Errorf("AppendNotification: %v", err)
			}
			return "ok", nil
		}),
	}
	sup, _, _ := newTestSupervisor(t, store, handlers, Config{})

	sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "a"})

	got, _ := store.Get(id)
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if len(got.Notifications) != 1 || got.Notifications[0].Message != "due today" {
		t.Errorf("notifications = %+v, want the mid-flight warning kept", got.Notifications)
	}
}

// Same race on the failure path: the status restore must not drop
// notifications appended during the invocation.
func TestDispatch_FailureRestoreKeepsNotifications(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "a"})

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) {
			err := store.AppendNotification(id, task.Notification{Level: "warning", Message: "due today"})
			if err != nil {
				t.Errorf("AppendNotification: %v", err)
			}
			return "", errors.New("upstream 500")
		}),
	}
	sup, _, _ := newTestSupervisor(t, store, handlers, Config{})

	sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "a"})

	got, _ := store.Get(id)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending restored", got.Status)
	}
	if len(got.Notifications) != 2 {
		t.Fatalf("notifications = %+v, want the mid-flight warning plus the failure entry", got.Notifications)
	}
	if got.Notifications[0].Message != "due today" || got.Notifications[1].Level != "error" {
		t.Errorf("notifications = %+v, want warning then error", got.Notifications)
	}
}

func TestDispatch_PanicDoesNotWedgeRegistry(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "a"})

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) {
			panic("handler bug")
		}),
	}
	sup, registry, _ := newTestSupervisor(t, store, handlers, Config{})

	sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "a"})

	if registry.Snapshot()["a"] {
		t.Error("handler left busy after panic")
	}
	got, _ := store.Get(id)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending restored after panic", got.Status)
	}
}

func TestDispatch_BusyHandlerParksTaskBlocked(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "a"})

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, registry, _ := newTestSupervisor(t, store, handlers, Config{
		AcquireRetries: 2,
		AcquireBackoff: time.Millisecond,
	})

	// Hold the handler for the whole dispatch attempt.
	registry.TryAcquire("a")
	defer registry.Release("a")

	sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "a"})

	got, _ := store.Get(id)
	if got.Status != task.StatusBlocked {
		t.Errorf("status = %s, want blocked after exhausted retries", got.Status)
	}
	if len(got.Notifications) != 1 || got.Notifications[0].Level != "warning" {
		t.Errorf("notifications = %+v, want one warning entry", got.Notifications)
	}
}

// Cancellation during the acquire backoff is a shutdown, not retry
// exhaustion: the task goes back to its prior status with no notification so
// a restart can re-dispatch it.
func TestDispatch_CancelDuringAcquireLeavesTaskDispatchable(t *testing.T) {
	store := newDispatchStore(t)
	id, _ := store.Create(&task.Task{Title: "x", AssignedHandler: "a"})

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, registry, _ := newTestSupervisor(t, store, handlers, Config{
		AcquireRetries: 5,
		AcquireBackoff: time.Hour,
	})
	registry.TryAcquire("a")
	defer registry.Release("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup.dispatch(ctx, WorkItem{TaskID: id, AssignedHandler: "a"})

	got, _ := store.Get(id)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending after shutdown", got.Status)
	}
	if len(got.Notifications) != 0 {
		t.Errorf("notifications = %+v, want none on shutdown", got.Notifications)
	}
}

// With one busy handler and a stream of items pinned to it, every item parks
// its task as blocked; none are silently dropped or re-enqueued.
func TestDispatch_ContendedHandlerBlocksAll(t *testing.T) {
	store := newDispatchStore(t)

	handlers := map[string]Handler{
		"a": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, registry, _ := newTestSupervisor(t, store, handlers, Config{
		AcquireRetries: 2,
		AcquireBackoff: time.Millisecond,
	})
	registry.TryAcquire("a")
	defer registry.Release("a")

	ids := make([]string, 3)
	for i := range ids {
		id, _ := store.Create(&task.Task{Title: fmt.Sprintf("t%d", i), AssignedHandler: "a"})
		ids[i] = id
		sup.dispatch(context.Background(), WorkItem{TaskID: id, AssignedHandler: "a"})
	}

	for _, id := range ids {
		got, _ := store.Get(id)
		if got.Status != task.StatusBlocked {
			t.Errorf("task %s status = %s, want blocked", id, got.Status)
		}
	}
}

func TestResolveHandler(t *testing.T) {
	store := newDispatchStore(t)
	handlers := map[string]Handler{
		"email_support":     HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
		"general_assistant": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, _, _ := newTestSupervisor(t, store, handlers, Config{})

	// Pinned and known wins without consulting the classifier.
	name := sup.resolveHandler(context.Background(), WorkItem{AssignedHandler: "email_support"})
	if name != "email_support" {
		t.Errorf("pinned: %q, want email_support", name)
	}

	// No classifier configured: default.
	name = sup.resolveHandler(context.Background(), WorkItem{Query: "whatever"})
	if name != "general_assistant" {
		t.Errorf("no classifier: %q, want general_assistant", name)
	}

	// Classifier answer in the set is used.
	sup.classifier = classifierFunc(func(_ context.Context, _ string) (string, error) {
		return "email_support", nil
	})
	if name = sup.resolveHandler(context.Background(), WorkItem{Query: "triage my inbox"}); name != "email_support" {
		t.Errorf("classified: %q, want email_support", name)
	}

	// Out-of-set answer falls back to the default.
	sup.classifier = classifierFunc(func(_ context.Context, _ string) (string, error) {
		return "hallucinated_handler", nil
	})
	if name = sup.resolveHandler(context.Background(), WorkItem{Query: "x"}); name != "general_assistant" {
		t.Errorf("out-of-set: %q, want general_assistant", name)
	}

	// Classifier error falls back to the default.
	sup.classifier = classifierFunc(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("provider down")
	})
	if name = sup.resolveHandler(context.Background(), WorkItem{Query: "x"}); name != "general_assistant" {
		t.Errorf("classifier error: %q, want general_assistant", name)
	}
}

func TestRun_ExitsOnQueueClose(t *testing.T) {
	store := newDispatchStore(t)
	handlers := map[string]Handler{
		"general_assistant": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "ok", nil }),
	}
	sup, _, bus := newTestSupervisor(t, store, handlers, Config{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.Run(context.Background())
	}()

	sup.Enqueue(WorkItem{Query: "hello"}) //nolint:errcheck
	sup.Enqueue(WorkItem{Query: "again"}) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)
	sup.queue.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after queue close")
	}

	if got := len(bus.Recent(comms.TypeExchange, 0)); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestEnqueueComplexGoal_Decomposed(t *testing.T) {
	store := newDispatchStore(t)
	handlers := map[string]Handler{
		"general_assistant": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, _, bus := newTestSupervisor(t, store, handlers, Config{})
	sup.decomposer = decomposerFunc(func(_ context.Context, goal string) ([]Subtask, error) {
		return []Subtask{
			{Title: "Pick a venue", Description: "compare three options"},
			{Title: "Send invites", Description: "email the group"},
		}, nil
	})

	parentID, err := sup.EnqueueComplexGoal(context.Background(), "Plan the offsite")
	if err != nil {
		t.Fatalf("EnqueueComplexGoal: %v", err)
	}

	parent, _ := store.Get(parentID)
	if parent.Status != task.StatusInProgress {
		t.Errorf("parent status = %s, want in_progress", parent.Status)
	}
	if len(parent.Subtasks) != 2 {
		t.Fatalf("parent.Subtasks = %v, want 2", parent.Subtasks)
	}
	for _, childID := range parent.Subtasks {
		child, err := store.Get(childID)
		if err != nil {
			t.Fatalf("Get child: %v", err)
		}
		if child.Status != task.StatusPending || child.ParentID != parentID {
			t.Errorf("child %+v, want pending under %s", child, parentID)
		}
	}
	// Children are recorded, not dispatched.
	if sup.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0", sup.queue.Len())
	}
	if got := bus.Recent(comms.TypeTaskUpdate, 1); len(got) != 1 {
		t.Error("goal decomposition event not published")
	}
}

func TestEnqueueComplexGoal_FallbackPhases(t *testing.T) {
	store := newDispatchStore(t)
	handlers := map[string]Handler{
		"general_assistant": HandlerFunc(func(context.Context, WorkItem) (string, error) { return "", nil }),
	}
	sup, _, _ := newTestSupervisor(t, store, handlers, Config{})
	sup.decomposer = decomposerFunc(func(_ context.Context, _ string) ([]Subtask, error) {
		return nil, errors.New("provider timeout")
	})

	parentID, err := sup.EnqueueComplexGoal(context.Background(), "Learn the violin")
	if err != nil {
		t.Fatalf("EnqueueComplexGoal: %v", err)
	}
	parent, _ := store.Get(parentID)
	if len(parent.Subtasks) != 3 {
		t.Fatalf("fallback subtasks = %d, want 3", len(parent.Subtasks))
	}
	first, _ := store.Get(parent.Subtasks[0])
	if !strings.HasPrefix(first.Title, "Research:") {
		t.Errorf("first fallback title = %q, want Research: prefix", first.Title)
	}
}

func TestEnqueueComplexGoal_EmptyGoal(t *testing.T) {
	store := newDispatchStore(t)
	sup, _, _ := newTestSupervisor(t, store, map[string]Handler{}, Config{})
	if _, err := sup.EnqueueComplexGoal(context.Background(), ""); !errors.Is(err, task.ErrValidation) {
		t.Errorf("empty goal: err = %v, want ErrValidation", err)
	}
}
