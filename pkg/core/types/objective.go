package types

import (
	"fmt"
	"strings"
	"time"
)

// Priority ranks objectives within a stage.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority parses a priority name. Empty input defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Rank orders priorities high to low; lower ranks sort first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Objective is a checklist item satisfied by keyword evidence in the transcript.
type Objective struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Stage       Stage    `json:"stage" yaml:"-"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
}

// ObjectiveStatus is an objective's state within one session.
type ObjectiveStatus struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Stage       Stage      `json:"stage"`
	Priority    Priority   `json:"priority"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the objective has been satisfied.
func (s ObjectiveStatus) Completed() bool {
	return s.CompletedAt != nil
}

// ObjectiveSnapshot is the completed and remaining objective lists at one instant.
type ObjectiveSnapshot struct {
	Completed []ObjectiveStatus `json:"completed"`
	Remaining []ObjectiveStatus `json:"remaining"`
}

// Clone returns a deep copy.
func (s ObjectiveSnapshot) Clone() ObjectiveSnapshot {
	out := ObjectiveSnapshot{
		Completed: make([]ObjectiveStatus, len(s.Completed)),
		Remaining: make([]ObjectiveStatus, len(s.Remaining)),
	}
	copy(out.Completed, s.Completed)
	copy(out.Remaining, s.Remaining)
	return out
}
