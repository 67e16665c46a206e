package types

import (
	"fmt"
	"strings"
	"time"
)

// Speaker is the conversational role of a turn's author.
type Speaker string

const (
	SpeakerSalesperson Speaker = "salesperson"
	SpeakerCustomer    Speaker = "customer"
	SpeakerUnknown     Speaker = "unknown"
)

// ParseSpeaker maps a role string to a Speaker. Unrecognized roles map to SpeakerUnknown.
func ParseSpeaker(s string) Speaker {
	switch Speaker(strings.ToLower(strings.TrimSpace(s))) {
	case SpeakerSalesperson, "sales", "agent", "rep":
		return SpeakerSalesperson
	case SpeakerCustomer, "prospect", "caller":
		return SpeakerCustomer
	default:
		return SpeakerUnknown
	}
}

// Turn is one utterance segment attributed to a speaker.
// Final turns are immutable once committed to a session's history.
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Channel    string    `json:"channel,omitempty"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChannelKey returns the speaker channel identifying the turn's pending interim slot.
func (t Turn) ChannelKey() string {
	if t.Channel != "" {
		return t.Channel
	}
	if t.Speaker != "" {
		return string(t.Speaker)
	}
	return string(SpeakerUnknown)
}

// TranscriptEvent is the inbound form of a turn as produced by a transcription source.
type TranscriptEvent struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	Channel    string    `json:"channel,omitempty"`
	IsFinal    bool      `json:"is_final"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Validate checks the event's fields.
func (e TranscriptEvent) Validate() error {
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("confidence must be within [0,1], got %v", *e.Confidence)
	}
	return nil
}

// Turn converts the event into a Turn, stamping now when the event carries no timestamp.
func (e TranscriptEvent) Turn(now time.Time) Turn {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Turn{
		Speaker:    ParseSpeaker(e.Speaker),
		Channel:    strings.TrimSpace(e.Channel),
		Text:       e.Text,
		IsFinal:    e.IsFinal,
		Confidence: e.Confidence,
		Timestamp:  ts,
	}
}
