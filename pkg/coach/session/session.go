// Package session owns live call sessions: their lifecycle, their per-call state, and
// the composition of transcript windowing, stage detection, objective tracking,
// guidance generation, and outbound dispatch.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/dispatch"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/transcript"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Status is a session's lifecycle state.
type Status int

const (
	StatusInitializing Status = iota
	StatusActive
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// End reasons.
const (
	ReasonClient     = "client"
	ReasonIdle       = "idle"
	ReasonShutdown   = "shutdown"
	ReasonDisconnect = "disconnect"
)

// Session is one live call. All mutable state is guarded by mu; the lock is never held
// across provider calls or network I/O.
type Session struct {
	id         string
	reg        *Registry
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *dispatch.Dispatcher

	mu             sync.Mutex
	status         Status
	startedAt      time.Time
	lastActivity   time.Time
	endedAt        time.Time
	endReason      string
	history        *transcript.History
	stage          types.StageState
	objectives     types.ObjectiveSnapshot
	inFlight       bool
	lastGuidanceAt time.Time
	guidance       []*types.Guidance
	teardown       []func()
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnEnd registers fn to run once when the session ends, outside the session lock.
// If the session has already ended fn runs immediately and OnEnd reports false.
func (s *Session) OnEnd(fn func()) bool {
	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		fn()
		return false
	}
	s.teardown = append(s.teardown, fn)
	s.mu.Unlock()
	return true
}

// EmitError pushes an error event to the client without changing session state.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return
	}
	kind := string(core.KindOf(err))
	if kind == "" {
		kind = "error"
	}
	s.emit(types.Event{Type: types.EventError, Error: &types.ErrorPayload{Type: kind, Message: err.Error()}})
}

// submit applies ev and reports whether it committed a final turn.
func (s *Session) submit(ev types.TranscriptEvent) (bool, error) {
	now := s.reg.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return false, core.NewSessionEndedError(s.id)
	}
	s.lastActivity = now

	turn := ev.Turn(now)
	outcome := s.history.Append(turn)
	s.reg.metrics.RecordTurn(outcome.String())

	switch outcome {
	case transcript.Interim:
		s.emit(types.Event{Type: types.EventTranscript, Turn: &turn})
		return false, nil
	case transcript.Discarded:
		return false, nil
	}

	committed, _ := s.history.Last()
	window := s.history.Window(s.reg.cfg.MaxContextTurns, s.reg.cfg.MaxContextTokens)
	res := s.reg.detector.Classify(window, s.stage.Stage)
	if res.Stage != s.stage.Stage {
		s.logger.Info("stage changed",
			zap.String("from", string(s.stage.Stage)),
			zap.String("to", string(res.Stage)),
			zap.Float64("confidence", res.Confidence),
		)
		s.stage = types.StageState{Stage: res.Stage, EnteredAt: committed.Timestamp}
	}
	s.stage.Confidence = res.Confidence
	s.stage.Rationale = res.Rationale
	s.stage.TurnsInStage++
	s.objectives = s.reg.tracker.Evaluate(s.history.Full(), s.stage.Stage, s.objectives.Completed)

	st := s.stage
	s.emit(types.Event{Type: types.EventTranscript, Turn: &committed, Stage: &st})
	return true, nil
}

// TryBeginRequest sets the single-flight guard.
func (s *Session) TryBeginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive || s.inFlight {
		return false
	}
	s.inFlight = true
	s.lastActivity = s.reg.now()
	return true
}

// GuidanceRequest snapshots the context a provider needs.
func (s *Session) GuidanceRequest() *types.GuidanceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.GuidanceRequest{
		SessionID:  s.id,
		Window:     s.history.Window(s.reg.cfg.MaxContextTurns, s.reg.cfg.MaxContextTokens),
		Stage:      s.stage,
		Objectives: s.objectives.Clone(),
		IssuedAt:   s.reg.now(),
	}
}

// AbortRequest clears the single-flight guard.
func (s *Session) AbortRequest() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// CompleteRequest merges g while the session is active, clears the guard, and then
// dispatches g. Results for an ended session are discarded.
func (s *Session) CompleteRequest(g *types.Guidance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.status != StatusActive {
		return false
	}
	s.guidance = append(s.guidance, g)
	s.lastGuidanceAt = s.reg.now()
	st := g.Stage
	s.emit(types.Event{Type: types.EventGuidance, Stage: &st, Guidance: g})
	return true
}

// end moves the session to Ended. It reports false when it already was.
func (s *Session) end(reason string) (record.Record, bool) {
	now := s.reg.now()

	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return record.Record{}, false
	}
	s.status = StatusEnded
	s.endedAt = now
	s.endReason = reason
	s.cancel()

	rec := record.Record{
		Summary:  s.summaryLocked(),
		Turns:    s.history.Full(),
		Guidance: append([]*types.Guidance(nil), s.guidance...),
	}
	sum := rec.Summary
	s.emit(types.Event{Type: types.EventEnded, Summary: &sum})
	teardown := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for _, fn := range teardown {
		fn()
	}
	return rec, true
}

func (s *Session) summaryLocked() types.CallSummary {
	return types.CallSummary{
		SessionID:     s.id,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		Reason:        s.endReason,
		Turns:         s.history.Len(),
		GuidanceCount: len(s.guidance),
		FinalStage:    s.stage.Stage,
		Objectives:    s.objectives.Clone(),
	}
}

func (s *Session) latestLocked() *types.Guidance {
	if len(s.guidance) == 0 {
		return nil
	}
	return s.guidance[len(s.guidance)-1]
}

// emit must be called with mu held so sequence order matches state order.
func (s *Session) emit(ev types.Event) {
	if err := s.dispatcher.Emit(ev); err != nil {
		s.logger.Debug("event not queued", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// idleSince reports whether the session is active and has seen no activity since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusActive && !s.lastActivity.After(cutoff)
}

// evictable reports whether the session ended at or before cutoff.
func (s *Session) evictable(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusEnded && !s.endedAt.After(cutoff)
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID             string                  `json:"session_id"`
	Status         string                  `json:"status"`
	StartedAt      time.Time               `json:"started_at"`
	LastActivity   time.Time               `json:"last_activity"`
	EndedAt        *time.Time              `json:"ended_at,omitempty"`
	EndReason      string                  `json:"end_reason,omitempty"`
	Stage          types.StageState        `json:"stage"`
	Objectives     types.ObjectiveSnapshot `json:"objectives"`
	Window         []types.Turn            `json:"window"`
	Pending        []types.Turn            `json:"pending,omitempty"`
	Turns          int                     `json:"turns"`
	GuidanceCount  int                     `json:"guidance_count"`
	LatestGuidance *types.Guidance         `json:"latest_guidance,omitempty"`
	LastGuidanceAt *time.Time              `json:"last_guidance_at,omitempty"`
	InFlight       bool                    `json:"in_flight"`
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:             s.id,
		Status:         s.status.String(),
		StartedAt:      s.startedAt,
		LastActivity:   s.lastActivity,
		EndReason:      s.endReason,
		Stage:          s.stage,
		Objectives:     s.objectives.Clone(),
		Window:         s.history.Window(s.reg.cfg.MaxContextTurns, s.reg.cfg.MaxContextTokens),
		Pending:        s.history.Pending(),
		Turns:          s.history.Len(),
		GuidanceCount:  len(s.guidance),
		LatestGuidance: s.latestLocked(),
		InFlight:       s.inFlight,
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	if !s.lastGuidanceAt.IsZero() {
		t := s.lastGuidanceAt
		snap.LastGuidanceAt = &t
	}
	return snap
}
