// Package handler provides the built-in handler implementations and the
// provider-backed routing and decomposition collaborators used by the
// supervisor.
package handler

import (
	"log/slog"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

// Names is the closed set of handler names the router may choose from. The
// registry, the router prompt, and the default handler map are all built
// from it.
var Names = []string{
	"task_management",
	"email_support",
	"calendar_support",
	"focus_support",
	"analytics_support",
	"reminder_support",
	"general_assistant",
}

// personas gives each handler its system prompt.
var personas = map[string]string{
	"task_management":   "You manage the user's task list: creating, updating, organizing, and summarizing tasks. Be concrete and reference tasks by title.",
	"email_support":     "You help the user triage, draft, and summarize email. Keep drafts short and in the user's voice.",
	"calendar_support":  "You help the user plan their schedule: meetings, time blocks, and conflicts. Always state dates explicitly.",
	"focus_support":     "You help the user start and sustain focused work sessions. Suggest one next action, not a list.",
	"analytics_support": "You summarize the user's productivity patterns and task throughput. Prefer numbers over adjectives.",
	"reminder_support":  "You manage reminders and follow-ups for the user. Confirm what will fire and when.",
	"general_assistant": "You are a capable general assistant. Answer directly and ask at most one clarifying question.",
}

// NewSet builds the default handler map, one provider-backed chat handler per
// name in Names.
func NewSet(p provider.Provider, store task.Store, bus comms.Bus, logger *slog.Logger) map[string]dispatch.Handler {
	handlers := make(map[string]dispatch.Handler, len(Names))
	for _, name := range Names {
		handlers[name] = NewChat(name, personas[name], p, store, bus, logger)
	}
	return handlers
}
