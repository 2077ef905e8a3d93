// Package dispatch implements the work queue, the handler registry, the
// supervisor loop that serializes access to handlers, and the background
// maintenance sweeps.
package dispatch

import "context"

// WorkItem is an ephemeral dispatch request, optionally bound to a task. It
// lives only in the queue and is discarded after dispatch.
type WorkItem struct {
	TaskID          string `json:"task_id,omitempty"`
	Query           string `json:"query"`
	AssignedHandler string `json:"assigned_handler,omitempty"`
}

// Handler executes a WorkItem to completion and returns a textual result.
// Expected business failures must come back as descriptive result text, not
// as an error; an error return means the invocation itself failed.
type Handler interface {
	Handle(ctx context.Context, item WorkItem) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, item WorkItem) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, item WorkItem) (string, error) {
	return f(ctx, item)
}

// Classifier maps free text to a handler name from the registry's closed set.
// Out-of-set answers are treated as a configuration error by the supervisor,
// which falls back to its default handler.
type Classifier interface {
	Classify(ctx context.Context, query string) (string, error)
}

// Subtask is one step of a decomposed goal.
type Subtask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Decomposer breaks a complex goal into subtasks.
type Decomposer interface {
	Decompose(ctx context.Context, goal string) ([]Subtask, error)
}
