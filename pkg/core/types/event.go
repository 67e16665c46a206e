package types

import "time"

// EventType names an outbound client event.
type EventType string

const (
	EventTranscript EventType = "transcript_event"
	EventGuidance   EventType = "coaching_guidance"
	EventError      EventType = "error"
	EventEnded      EventType = "session_ended"
)

// Event is one outbound message on a session's client channel.
// Sequence numbers are assigned by the dispatcher and increase by one per event.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id"`
	Sequence  uint64        `json:"sequence"`
	Time      time.Time     `json:"time"`
	Turn      *Turn         `json:"turn,omitempty"`
	Stage     *StageState   `json:"stage,omitempty"`
	Guidance  *Guidance     `json:"guidance,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
	Summary   *CallSummary  `json:"summary,omitempty"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CallSummary describes a finished call.
type CallSummary struct {
	SessionID     string            `json:"session_id"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	Reason        string            `json:"reason"`
	Turns         int               `json:"turns"`
	GuidanceCount int               `json:"guidance_count"`
	FinalStage    Stage             `json:"final_stage"`
	Objectives    ObjectiveSnapshot `json:"objectives"`
}

// Duration returns the call's wall-clock length.
func (s CallSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}
