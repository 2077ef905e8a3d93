package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
)

// Router classifies free-text queries onto the closed handler set by asking
// the provider to pick a name. Anything the provider says that is not in the
// set comes back as-is; the supervisor treats unknown names as its cue to use
// the default handler.
type Router struct {
	prov   provider.Provider
	names  []string
	logger *slog.Logger
}

// NewRouter creates a router over the given handler names. A nil or empty
// names slice falls back to the package default set.
func NewRouter(p provider.Provider, names []string, logger *slog.Logger) *Router {
	if len(names) == 0 {
		names = Names
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{prov: p, names: names, logger: logger}
}

// Classify returns the handler name for query.
func (r *Router) Classify(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(
		"Route the user's request to exactly one of these handlers: %s.\n"+
			"Reply with the handler name only, nothing else.\n"+
			"If no handler clearly fits, reply general_assistant.",
		strings.Join(r.names, ", "))

	resp, err := r.prov.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: prompt},
		{Role: provider.RoleUser, Content: query},
	})
	if err != nil {
		return "", fmt.Errorf("classify query: %w", err)
	}

	name := normalizeName(resp.Content)
	for _, known := range r.names {
		if name == known {
			return known, nil
		}
	}
	r.logger.Warn("router returned unknown handler", "answer", resp.Content)
	return name, nil
}

// normalizeName reduces a provider answer to a bare handler name: first line,
// lowercased, quotes and trailing punctuation stripped.
func normalizeName(answer string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(answer), "\n")
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, "\"'`.,:")
	return name
}
