package handler

import (
	"context"

	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
)

// Static is a handler that always answers with a fixed reply. Useful for
// tests and for wiring a name that needs no provider behind it.
type Static struct {
	name  string
	reply string
}

// NewStatic creates a static handler.
func NewStatic(name, reply string) *Static {
	return &Static{name: name, reply: reply}
}

// Name returns the handler name.
func (s *Static) Name() string { return s.name }

// Handle returns the fixed reply.
func (s *Static) Handle(_ context.Context, _ dispatch.WorkItem) (string, error) {
	return s.reply, nil
}
