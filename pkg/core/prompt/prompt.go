// Package prompt renders guidance and post-call review requests into the text sent to
// language-model reasoners.
package prompt

import (
	"fmt"
	"strings"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// System is the coaching system instruction shared by all language-model reasoners.
const System = `You are a real-time sales coach giving strategic guidance, not scripts, to a salesperson on a live call.

Your job:
- Confirm the current call stage (opening, discovery, pitch, objection, close).
- Point at what to focus on right now and why.
- Suggest up to three key questions, each with two or three alternative phrasings and a note on when to use it.
- Give short talking points.

Rules:
- Never write full sentences for the salesperson to read verbatim.
- Be concise; they are reading this mid-conversation.
- Respond with a single JSON object and nothing else.

JSON format:
{
  "stage_validation": {"current_stage": "opening|discovery|pitch|objection|close", "confidence": 0-100, "reasoning": "why"},
  "focus": {"what": "what to achieve now", "why": "strategic reasoning", "urgency": "low|medium|high|critical"},
  "direction": "one-sentence strategic direction",
  "key_questions": [{"primary": "main question", "alternatives": ["phrasing"], "context": "when to use it"}],
  "talking_points": ["point"],
  "confidence": 0-100
}`

// Render formats req as the user message of a coaching request.
func Render(req *types.GuidanceRequest) string {
	var b strings.Builder

	b.WriteString("CONVERSATION (oldest first):\n")
	if len(req.Window) == 0 {
		b.WriteString("(no conversation yet)\n")
	}
	for _, t := range req.Window {
		fmt.Fprintf(&b, "%s: %s\n", speakerLabel(t.Speaker), t.Text)
	}

	fmt.Fprintf(&b, "\nDETECTED STAGE: %s (confidence %d%%, %d turns in stage)\n",
		req.Stage.Stage, int(req.Stage.Confidence*100+0.5), req.Stage.TurnsInStage)
	if req.Stage.Rationale != "" {
		fmt.Fprintf(&b, "Stage evidence: %s\n", req.Stage.Rationale)
	}

	b.WriteString("\nOBJECTIVES COMPLETED:\n")
	writeObjectives(&b, req.Objectives.Completed)
	b.WriteString("\nOBJECTIVES REMAINING FOR THIS STAGE (highest priority first):\n")
	writeObjectives(&b, req.Objectives.Remaining)

	b.WriteString("\nWhat should the salesperson focus on right now?")
	return b.String()
}

func writeObjectives(b *strings.Builder, list []types.ObjectiveStatus) {
	if len(list) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, o := range list {
		fmt.Fprintf(b, "- %s [%s, %s]: %s\n", o.ID, o.Stage, o.Priority, o.Description)
	}
}

func speakerLabel(s types.Speaker) string {
	switch s {
	case types.SpeakerSalesperson:
		return "SALESPERSON"
	case types.SpeakerCustomer:
		return "CUSTOMER"
	default:
		return "SPEAKER"
	}
}

// AnalysisSystem is the instruction for post-call reviews.
const AnalysisSystem = `You review completed sales calls and give the salesperson constructive, specific coaching feedback.

Respond with a single JSON object and nothing else.

JSON format:
{
  "what_worked": ["two or three things the salesperson did well"],
  "missed_opportunities": [{"moment": "approximate point in the call", "opportunity": "what they missed", "what_to_do": "what they should have done"}],
  "improvement_tips": ["two or three actionable tips for the next call"],
  "success_score": 0-10,
  "call_outcome": "positive|neutral|negative",
  "key_insights": "one or two sentence summary of the call"
}`

// RenderAnalysis formats a finished call as the user message of a review request.
func RenderAnalysis(req *types.AnalysisRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CALL DURATION: %d seconds\n", int(req.Duration.Seconds()))
	fmt.Fprintf(&b, "FINAL STAGE: %s\n", req.FinalStage)
	fmt.Fprintf(&b, "GUIDANCE SHOWN DURING THE CALL: %d\n", req.GuidanceCount)

	b.WriteString("\nCONVERSATION (oldest first):\n")
	if len(req.Turns) == 0 {
		b.WriteString("(no conversation)\n")
	}
	for _, t := range req.Turns {
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Timestamp.UTC().Format("15:04:05"), speakerLabel(t.Speaker), t.Text)
	}

	b.WriteString("\nOBJECTIVES COMPLETED:\n")
	writeObjectives(&b, req.Objectives.Completed)
	b.WriteString("\nOBJECTIVES LEFT OPEN:\n")
	writeObjectives(&b, req.Objectives.Remaining)

	b.WriteString("\nReview the call.")
	return b.String()
}
