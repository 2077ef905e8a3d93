package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HARSHAD-POTDAR-02/buddyai/dispatch"
	"github.com/HARSHAD-POTDAR-02/buddyai/provider"
)

// GoalDecomposer breaks a complex goal into ordered subtasks by asking the
// provider for a JSON plan.
type GoalDecomposer struct {
	prov provider.Provider
}

// NewGoalDecomposer creates a decomposer backed by p.
func NewGoalDecomposer(p provider.Provider) *GoalDecomposer {
	return &GoalDecomposer{prov: p}
}

// Decompose asks the provider to plan the goal. A malformed or empty answer
// returns an error; the supervisor substitutes its generic phases in that
// case.
func (d *GoalDecomposer) Decompose(ctx context.Context, goal string) ([]dispatch.Subtask, error) {
	prompt := "Break the user's goal into 3 to 7 concrete subtasks.\n" +
		"Reply with a JSON array only, each element {\"title\": ..., \"description\": ...}.\n" +
		"Titles must be short imperative phrases."

	resp, err := d.prov.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: prompt},
		{Role: provider.RoleUser, Content: goal},
	})
	if err != nil {
		return nil, fmt.Errorf("decompose goal: %w", err)
	}

	var subtasks []dispatch.Subtask
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &subtasks); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	kept := subtasks[:0]
	for _, st := range subtasks {
		if strings.TrimSpace(st.Title) != "" {
			kept = append(kept, st)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("decomposition produced no subtasks")
	}
	return kept, nil
}

// extractJSON pulls the outermost JSON array out of an answer that may be
// wrapped in prose or a fenced code block.
func extractJSON(answer string) string {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return answer
	}
	return answer[start : end+1]
}
