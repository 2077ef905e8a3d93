// Package mock provides a scripted AI provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
)

const defaultResponse = "Acknowledged. Working on it."

// Provider implements provider.Provider for testing. It cycles through
// scripted responses, or returns Err when set.
type Provider struct {
	mu        sync.Mutex
	responses []string
	idx       int

	// Err, when non-nil, is returned by every Chat call.
	Err error
}

// New creates a mock provider that cycles through the given responses.
func New(responses ...string) *Provider {
	return &Provider{responses: responses}
}

// Name returns the provider identifier.
func (m *Provider) Name() string { return "mock" }

// Chat returns the next scripted response, cycling through the queue.
func (m *Provider) Chat(_ context.Context, _ []provider.Message) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return &provider.Response{Content: resp}, nil
}
