package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/HARSHAD-POTDAR-02/buddyai/provider/mock"
)

func TestRouterClassify(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"bare name", "email_support", "email_support"},
		{"surrounding whitespace", "  calendar_support\n", "calendar_support"},
		{"quoted", `"task_management"`, "task_management"},
		{"uppercased", "REMINDER_SUPPORT", "reminder_support"},
		{"trailing period", "focus_support.", "focus_support"},
		{"prose after newline", "analytics_support\nbecause the user asked about stats", "analytics_support"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(mock.New(tt.answer), nil, testLogger())
			got, err := r.Classify(context.Background(), "some query")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouterClassify_UnknownPassedThrough(t *testing.T) {
	r := NewRouter(mock.New("made_up_handler"), nil, testLogger())
	got, err := r.Classify(context.Background(), "query")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// The supervisor decides what to do with unknown names.
	if got != "made_up_handler" {
		t.Errorf("Classify = %q, want raw answer passed through", got)
	}
}

func TestRouterClassify_ProviderError(t *testing.T) {
	p := mock.New()
	p.Err = errors.New("provider down")
	r := NewRouter(p, nil, testLogger())
	if _, err := r.Classify(context.Background(), "query"); err == nil {
		t.Error("Classify swallowed provider error")
	}
}
