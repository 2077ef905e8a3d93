// Command buddyd is the BuddyAI server daemon. It wires the task store, the
// dispatch supervisor, the background sweeps, and the HTTP API from a single
// YAML config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/config"
	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/handler"
	"github.com/HARSHAD-POTDAR-02/buddyai/internal/version"
	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
	"github.com/HARSHAD-POTDAR-02/buddyai/provider/mock"
	"github.com/HARSHAD-POTDAR-02/buddyai/server"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

func main() {
	configPath := pflag.String("config", "buddyai.yaml", "path to config file")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	logger.Info("starting buddyd",
		"version", version.Version,
		"commit", version.Commit,
	)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer store.Close() //nolint:errcheck

	prov := buildProvider(cfg.Provider)
	bus := comms.NewInMemoryBus()

	names := cfg.Handlers
	if len(names) == 0 {
		names = handler.Names
	}
	registry := dispatch.NewHandlerRegistry(names...)
	handlers := handler.NewSet(prov, store, bus, logger)
	queue := dispatch.NewQueue()

	sup := dispatch.NewSupervisor(store, queue, registry, handlers,
		handler.NewRouter(prov, names, logger),
		handler.NewGoalDecomposer(prov),
		bus, logger,
		dispatch.Config{
			AcquireRetries: cfg.Supervisor.AcquireRetries,
			AcquireBackoff: cfg.Supervisor.AcquireBackoff.Std(),
			HandlerTimeout: cfg.Supervisor.HandlerTimeout.Std(),
			DefaultHandler: cfg.Supervisor.DefaultHandler,
		})

	sweeper := dispatch.NewSweeper(store, sup.Materializer(), bus, logger, dispatch.SweepConfig{
		DeadlineEvery:   cfg.Sweeps.DeadlineEvery.Std(),
		StuckEvery:      cfg.Sweeps.StuckEvery.Std(),
		RecurrenceEvery: cfg.Sweeps.RecurrenceEvery.Std(),
		PriorityEvery:   cfg.Sweeps.PriorityEvery.Std(),
		StuckAfter:      cfg.Sweeps.StuckAfter.Std(),
	})

	srv := server.New(*cfg, version.Version, logger)
	srv.SetTaskStore(store)
	srv.SetSupervisor(sup, registry)
	srv.SetBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
		}
	}()

	fmt.Printf("BuddyAI server running on http://localhost%s\n", cfg.Server.Addr)
	fmt.Println(version.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "err", err)
	}
	queue.Close()
	cancel()
	wg.Wait()
	fmt.Println("Shutdown complete")
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "buddyai.yaml" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// openStore opens the configured task store backend.
func openStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return task.NewPostgresStore(context.Background(), cfg.Storage.DSN)
	default:
		_ = os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755)
		return task.NewSQLiteStore(cfg.Storage.Path)
	}
}

// buildProvider constructs the configured AI backend. API keys fall back to
// the provider's conventional environment variable.
func buildProvider(cfg config.ProviderConfig) provider.Provider {
	switch cfg.Name {
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return provider.NewAnthropicProvider(provider.AnthropicConfig{APIKey: key, Model: cfg.Model})
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return provider.NewOpenAIProvider(provider.OpenAIConfig{APIKey: key, Model: cfg.Model})
	default:
		return mock.New()
	}
}

// logLevel parses a config log level string.
func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
