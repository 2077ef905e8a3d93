package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/config"
	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTaskStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "buddyai-server-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestServer builds a fully wired server over a temp sqlite store. The
// supervisor loop is not running; queued items stay queued.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Auth: config.AuthConfig{
			AdminUser: "admin",
			AdminPass: string(hash),
			JWTSecret: "test-secret-key-1234567890",
		},
	}
	s := New(cfg, "test", testLogger())

	store := newTestTaskStore(t)
	bus := comms.NewInMemoryBus()
	queue := dispatch.NewQueue()
	registry := dispatch.NewHandlerRegistry("general_assistant", "task_management")
	handlers := map[string]dispatch.Handler{
		"general_assistant": dispatch.HandlerFunc(func(_ context.Context, _ dispatch.WorkItem) (string, error) {
			return "done", nil
		}),
	}
	sup := dispatch.NewSupervisor(store, queue, registry, handlers, nil, nil, bus, testLogger(), dispatch.DefaultConfig())

	s.SetTaskStore(store)
	s.SetSupervisor(sup, registry)
	s.SetBus(bus)
	s.registerRoutes()
	return s
}
