package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// StrictDecodeError is returned when strict payload decoding fails.
// It includes an optional Param field naming the offending field.
type StrictDecodeError struct {
	Param   string
	Message string
}

func (e *StrictDecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s", e.Param, e.Message)
	}
	return e.Message
}

func strictErr(param, msg string) error {
	return &StrictDecodeError{Param: param, Message: msg}
}

// GuidancePayload is the JSON document a reasoning provider returns.
// Percent-scaled confidences are in [0,100].
type GuidancePayload struct {
	StageValidation *StageValidation `json:"stage_validation,omitempty"`
	Focus           *Focus           `json:"focus"`
	Direction       string           `json:"direction"`
	KeyQuestions    []KeyQuestion    `json:"key_questions"`
	TalkingPoints   []string         `json:"talking_points"`
	Confidence      *float64         `json:"confidence,omitempty"`
	// Objectives is accepted for compatibility with providers that echo the checklist.
	// The objective tracker remains authoritative.
	Objectives *PayloadObjectives `json:"objectives,omitempty"`
}

// StageValidation is the provider's opinion of the current stage.
type StageValidation struct {
	CurrentStage string  `json:"current_stage"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// PayloadObjectives lists objective ids as echoed by a provider.
type PayloadObjectives struct {
	Completed []string `json:"completed"`
	Remaining []string `json:"remaining"`
}

// DecodeGuidancePayload strictly decodes a provider payload. Unknown fields, trailing
// data, missing required fields, and out-of-range enumerations are rejected.
// Payloads wrapped in a markdown code fence are unwrapped first.
func DecodeGuidancePayload(data []byte) (*GuidancePayload, error) {
	var p GuidancePayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, err
	}

	if p.Focus == nil {
		return nil, strictErr("focus", "focus is required")
	}
	if strings.TrimSpace(p.Focus.What) == "" {
		return nil, strictErr("focus.what", "focus.what is required")
	}
	if !p.Focus.Urgency.Valid() {
		return nil, strictErr("focus.urgency", fmt.Sprintf("unknown urgency %q", p.Focus.Urgency))
	}
	if strings.TrimSpace(p.Direction) == "" {
		return nil, strictErr("direction", "direction is required")
	}
	for i, q := range p.KeyQuestions {
		if strings.TrimSpace(q.Primary) == "" {
			return nil, strictErr(fmt.Sprintf("key_questions[%d].primary", i), "primary is required")
		}
	}
	if sv := p.StageValidation; sv != nil {
		if _, err := ParseStage(sv.CurrentStage); err != nil {
			return nil, strictErr("stage_validation.current_stage", err.Error())
		}
		if sv.Confidence < 0 || sv.Confidence > 100 {
			return nil, strictErr("stage_validation.confidence", "must be within [0,100]")
		}
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 100) {
		return nil, strictErr("confidence", "must be within [0,100]")
	}
	return &p, nil
}

// decodeStrict decodes exactly one JSON value into v, rejecting unknown fields and
// trailing data.
func decodeStrict(data []byte, v any) error {
	raw := ExtractJSON(data)
	if len(raw) == 0 {
		return strictErr("", "empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return strictErr("", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return strictErr("", "trailing data after payload")
	}
	return nil
}

// ExtractJSON returns the JSON object in data, unwrapping ```json fences when present.
func ExtractJSON(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}
