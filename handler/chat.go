package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/HARSHAD-POTDAR-02/buddyai/comms"
	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
	"github.com/HARSHAD-POTDAR-02/buddyai/task"
)

// contextTurns is how many recent exchanges are replayed to the provider as
// conversational context.
const contextTurns = 5

// Chat is a provider-backed handler. Each invocation replays the most recent
// exchanges from the bus, appends the task's details when the item is bound
// to one, and sends the query to the provider.
type Chat struct {
	name    string
	persona string
	prov    provider.Provider
	store   task.Store
	bus     comms.Bus
	logger  *slog.Logger
}

// NewChat creates a chat handler named name with the given system persona.
func NewChat(name, persona string, p provider.Provider, store task.Store, bus comms.Bus, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{name: name, persona: persona, prov: p, store: store, bus: bus, logger: logger}
}

// Name returns the handler name.
func (c *Chat) Name() string { return c.name }

// Handle sends the work item to the provider and returns its response text.
func (c *Chat) Handle(ctx context.Context, item dispatch.WorkItem) (string, error) {
	messages := []provider.Message{{Role: provider.RoleSystem, Content: c.system(item)}}
	messages = append(messages, c.history()...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: item.Query})

	resp, err := c.prov.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", c.prov.Name(), err)
	}
	c.logger.Debug("handler responded", "handler", c.name,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}

// system builds the system prompt, folding in the bound task when present.
func (c *Chat) system(item dispatch.WorkItem) string {
	b := strings.Builder{}
	b.WriteString(c.persona)
	if item.TaskID == "" || c.store == nil {
		return b.String()
	}
	t, err := c.store.Get(item.TaskID)
	if err != nil {
		c.logger.Warn("task context unavailable", "handler", c.name, "task", item.TaskID, "err", err)
		return b.String()
	}
	fmt.Fprintf(&b, "\n\nYou are working on task %q (priority %s, progress %d%%).", t.Title, t.Priority, t.Progress)
	if t.Description != "" {
		fmt.Fprintf(&b, " Details: %s", t.Description)
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, " Due %s.", t.DueDate.Format("2006-01-02"))
	}
	return b.String()
}

// history replays the most recent exchanges as alternating user/assistant
// turns, oldest first.
func (c *Chat) history() []provider.Message {
	if c.bus == nil {
		return nil
	}
	events := c.bus.Recent(comms.TypeExchange, contextTurns)
	messages := make([]provider.Message, 0, len(events)*2)
	for i := len(events) - 1; i >= 0; i-- { // Recent is newest-first
		ev := events[i]
		if ev.Query != "" {
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: ev.Query})
		}
		if ev.Response != "" {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: ev.Response})
		}
	}
	return messages
}
