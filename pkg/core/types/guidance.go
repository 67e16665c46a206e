package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GuidanceSchemaVersion is stamped on every guidance record.
const GuidanceSchemaVersion = "2"

// Urgency of a focus directive.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether u is a declared urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	default:
		return false
	}
}

// GuidanceSource records whether guidance came from the provider or the fallback templates.
type GuidanceSource string

const (
	SourceProvider GuidanceSource = "provider"
	SourceFallback GuidanceSource = "fallback"
)

// Focus is what the salesperson should accomplish right now.
type Focus struct {
	What    string  `json:"what" yaml:"what"`
	Why     string  `json:"why" yaml:"why"`
	Urgency Urgency `json:"urgency" yaml:"urgency"`
}

// KeyQuestion is a strategic question with alternative phrasings.
type KeyQuestion struct {
	Primary      string   `json:"primary" yaml:"primary"`
	Alternatives []string `json:"alternatives,omitempty" yaml:"alternatives"`
	Context      string   `json:"context,omitempty" yaml:"context"`
}

// GuidanceBody is the coaching content.
type GuidanceBody struct {
	Direction     string        `json:"direction"`
	KeyQuestions  []KeyQuestion `json:"key_questions"`
	TalkingPoints []string      `json:"talking_points"`
	Confidence    float64       `json:"confidence"`
}

// GuidanceMetadata identifies a guidance record.
type GuidanceMetadata struct {
	SessionID     string    `json:"session_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	SchemaVersion string    `json:"schema_version"`
}

// Guidance is the structured coaching output of one generation cycle.
type Guidance struct {
	Stage      StageState        `json:"stage"`
	Focus      Focus             `json:"focus"`
	Objectives ObjectiveSnapshot `json:"objectives"`
	Body       GuidanceBody      `json:"guidance"`
	Source     GuidanceSource    `json:"source"`
	Metadata   GuidanceMetadata  `json:"metadata"`
}

// ValidationError lists every schema violation found in a guidance record.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid guidance: " + strings.Join(e.Problems, "; ")
}

// Validate checks g against the guidance schema. When requireQuestions is set the
// key question list must be non-empty.
func (g *Guidance) Validate(requireQuestions bool) error {
	if g == nil {
		return errors.New("invalid guidance: nil")
	}
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !g.Stage.Stage.Valid() {
		add("stage.stage %q is not a known stage", g.Stage.Stage)
	}
	if g.Stage.Confidence < 0 || g.Stage.Confidence > 1 {
		add("stage.confidence %v outside [0,1]", g.Stage.Confidence)
	}
	if strings.TrimSpace(g.Focus.What) == "" {
		add("focus.what is required")
	}
	if !g.Focus.Urgency.Valid() {
		add("focus.urgency %q is not a known urgency", g.Focus.Urgency)
	}
	if strings.TrimSpace(g.Body.Direction) == "" {
		add("guidance.direction is required")
	}
	if requireQuestions && len(g.Body.KeyQuestions) == 0 {
		add("guidance.key_questions must not be empty")
	}
	for i, q := range g.Body.KeyQuestions {
		if strings.TrimSpace(q.Primary) == "" {
			add("guidance.key_questions[%d].primary is required", i)
		}
	}
	if g.Body.Confidence < 0 || g.Body.Confidence > 1 {
		add("guidance.confidence %v outside [0,1]", g.Body.Confidence)
	}
	for _, o := range g.Objectives.Completed {
		if !o.Completed() {
			add("objective %q listed as completed without completion time", o.ID)
		}
	}
	for _, o := range g.Objectives.Remaining {
		if o.Completed() {
			add("objective %q listed as remaining but completed", o.ID)
		}
	}
	switch g.Source {
	case SourceProvider, SourceFallback:
	default:
		add("source %q is not a known source", g.Source)
	}
	if g.Metadata.SessionID == "" {
		add("metadata.session_id is required")
	}
	if g.Metadata.GeneratedAt.IsZero() {
		add("metadata.generated_at is required")
	}
	if g.Metadata.SchemaVersion != GuidanceSchemaVersion {
		add("metadata.schema_version %q, want %q", g.Metadata.SchemaVersion, GuidanceSchemaVersion)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// GuidanceRequest is the context package sent to a reasoning provider.
type GuidanceRequest struct {
	SessionID  string            `json:"session_id"`
	Window     []Turn            `json:"conversation_window"`
	Stage      StageState        `json:"stage"`
	Objectives ObjectiveSnapshot `json:"objectives"`
	IssuedAt   time.Time         `json:"issued_at"`
}
