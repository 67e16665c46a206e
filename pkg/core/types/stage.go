package types

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the inferred phase of a sales conversation.
type Stage string

const (
	StageOpening   Stage = "opening"
	StageDiscovery Stage = "discovery"
	StagePitch     Stage = "pitch"
	StageObjection Stage = "objection"
	StageClose     Stage = "close"
)

// Stages lists every stage in canonical order.
var Stages = []Stage{StageOpening, StageDiscovery, StagePitch, StageObjection, StageClose}

// ParseStage parses a stage name. Unknown names are an error.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Valid reports whether s is one of the canonical stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the stage's position in canonical order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage following s in canonical order. The last stage has no successor.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Stages) {
		return "", false
	}
	return Stages[i+1], true
}

// StageState is a session's current stage classification.
type StageState struct {
	Stage        Stage     `json:"stage"`
	Confidence   float64   `json:"confidence"`
	EnteredAt    time.Time `json:"entered_at"`
	TurnsInStage int       `json:"turns_in_stage"`
	Rationale    string    `json:"rationale,omitempty"`
}
