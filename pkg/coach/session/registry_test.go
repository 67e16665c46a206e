package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-go/callcoach/pkg/coach/dispatch"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	reg   *Registry
	clock *fakeClock
	store *record.MemoryStore
}

func newHarness(t *testing.T, reasoner core.Reasoner, cfg Config) *harness {
	t.Helper()
	clock := newFakeClock()
	store := record.NewMemoryStore()
	gen := suggest.New(suggest.Dependencies{
		Reasoner: reasoner,
		Now:      clock.Now,
		Config:   suggest.Config{ProviderTimeout: time.Second},
	})
	reg := NewRegistry(Dependencies{Generator: gen, Store: store, Now: clock.Now, Config: cfg})
	t.Cleanup(func() {
		reg.EndAll(ReasonShutdown)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, reg.Wait(ctx))
	})
	return &harness{reg: reg, clock: clock, store: store}
}

func failingReasoner() core.Reasoner {
	return core.ReasonerFunc{ID: "down", Fn: func(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
		return nil, errors.New("upstream unavailable")
	}}
}

// gatedReasoner blocks every call until release is closed.
type gatedReasoner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedReasoner() *gatedReasoner {
	return &gatedReasoner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedReasoner) Name() string { return "gated" }

func (g *gatedReasoner) Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, errors.New("no opinion")
}

func nextEvent(t *testing.T, events <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func final(speaker, text string) types.TranscriptEvent {
	return types.TranscriptEvent{Speaker: speaker, Text: text, IsFinal: true}
}

func TestObjectionDetectedWithFallbackGuidance(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{})
	events := make(chan types.Event, 32)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	require.NoError(t, h.reg.Submit(s.ID(), final("salesperson", "Hi, this is Alex calling about your phone system")))
	ev := nextEvent(t, events)
	require.Equal(t, types.EventTranscript, ev.Type)
	assert.Equal(t, types.StageOpening, ev.Stage.Stage)
	ev = nextEvent(t, events)
	require.Equal(t, types.EventGuidance, ev.Type)
	assert.Equal(t, types.StageOpening, ev.Guidance.Stage.Stage)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.reg.Submit(s.ID(), final("customer", "We're not interested")))
	ev = nextEvent(t, events)
	require.Equal(t, types.EventTranscript, ev.Type)
	assert.Equal(t, types.StageObjection, ev.Stage.Stage)
	assert.InDelta(t, 15.0/65.0, ev.Stage.Confidence, 1e-9)

	ev = nextEvent(t, events)
	require.Equal(t, types.EventGuidance, ev.Type)
	g := ev.Guidance
	require.NoError(t, g.Validate(true))
	assert.Equal(t, types.SourceFallback, g.Source)
	assert.Equal(t, types.StageObjection, g.Stage.Stage)
	assert.Contains(t, strings.ToLower(g.Focus.What), "objection")
	assert.Equal(t, uint64(4), ev.Sequence)

	snap, err := h.reg.Snapshot(s.ID())
	require.NoError(t, err)
	completed := map[string]bool{}
	for _, o := range snap.Objectives.Completed {
		completed[o.ID] = true
	}
	assert.True(t, completed["rapport"])
	assert.True(t, completed["establish_reason"])
	for _, o := range snap.Objectives.Remaining {
		assert.Equal(t, types.StageObjection, o.Stage)
	}
	assert.Equal(t, 2, snap.GuidanceCount)
	assert.Equal(t, 1, snap.Stage.TurnsInStage)
}

func TestResultAfterEndIsDiscarded(t *testing.T) {
	gr := newGatedReasoner()
	h := newHarness(t, gr, Config{})
	events := make(chan types.Event, 32)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	require.NoError(t, h.reg.Submit(s.ID(), final("customer", "That sounds too expensive")))
	<-gr.started
	require.NoError(t, h.reg.End(s.ID(), ReasonClient))
	close(gr.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Wait(ctx))

	assert.Equal(t, types.EventTranscript, nextEvent(t, events).Type)
	ended := nextEvent(t, events)
	assert.Equal(t, types.EventEnded, ended.Type)
	require.NotNil(t, ended.Summary)
	assert.Equal(t, ReasonClient, ended.Summary.Reason)
	assert.Equal(t, 0, ended.Summary.GuidanceCount)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after end: %s", ev.Type)
	default:
	}

	snap, err := h.reg.Snapshot(s.ID())
	require.NoError(t, err)
	assert.Equal(t, "ended", snap.Status)
	assert.Nil(t, snap.LatestGuidance)
	assert.False(t, snap.InFlight)

	// Mutations after end are rejected; end stays idempotent.
	err = h.reg.Submit(s.ID(), final("customer", "hello?"))
	assert.Equal(t, core.ErrSessionEnded, core.KindOf(err))
	_, err = h.reg.RequestGuidance(s.ID())
	assert.Equal(t, core.ErrSessionEnded, core.KindOf(err))
	assert.NoError(t, h.reg.End(s.ID(), ReasonClient))

	rec, err := h.store.Get(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, "That sounds too expensive", rec.Turns[0].Text)
}

func TestSecondTriggerWhileInFlightIsNoOp(t *testing.T) {
	gr := newGatedReasoner()
	h := newHarness(t, gr, Config{})
	events := make(chan types.Event, 32)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	require.NoError(t, h.reg.Submit(s.ID(), final("salesperson", "Hello, quick question for you")))
	<-gr.started
	require.NoError(t, h.reg.Submit(s.ID(), final("customer", "Sure, go ahead")))
	ok, err := h.reg.RequestGuidance(s.ID())
	require.NoError(t, err)
	assert.False(t, ok)

	close(gr.release)
	assert.Equal(t, types.EventTranscript, nextEvent(t, events).Type)
	assert.Equal(t, types.EventTranscript, nextEvent(t, events).Type)
	assert.Equal(t, types.EventGuidance, nextEvent(t, events).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Wait(ctx))
	assert.Equal(t, int32(1), gr.calls.Load())

	// The guard is released after the merge.
	ok, err = h.reg.RequestGuidance(s.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	<-gr.started
	assert.Equal(t, types.EventGuidance, nextEvent(t, events).Type)
	assert.Equal(t, int32(2), gr.calls.Load())
}

func TestInterimChurnKeepsOneSlot(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{OutboundBuffer: 128})
	events := make(chan types.Event, 128)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		ev := types.TranscriptEvent{Speaker: "customer", Channel: "1", Text: strings.Repeat("um ", i+1)}
		require.NoError(t, h.reg.Submit(s.ID(), ev))
		snap, err := h.reg.Snapshot(s.ID())
		require.NoError(t, err)
		require.Len(t, snap.Pending, 1)
		require.Equal(t, 0, snap.Turns)
	}
	snap, _ := h.reg.Snapshot(s.ID())
	assert.False(t, snap.InFlight)

	require.NoError(t, h.reg.Submit(s.ID(), types.TranscriptEvent{Speaker: "customer", Channel: "1", Text: "I guess tell me more", IsFinal: true}))
	snap, err = h.reg.Snapshot(s.ID())
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, 1, snap.Turns)
	require.Len(t, snap.Window, 1)
	assert.Equal(t, "I guess tell me more", snap.Window[0].Text)
}

func TestBlankFinalDoesNotTrigger(t *testing.T) {
	gr := newGatedReasoner()
	close(gr.release)
	h := newHarness(t, gr, Config{})
	s, err := h.reg.Create(nil)
	require.NoError(t, err)

	require.NoError(t, h.reg.Submit(s.ID(), final("customer", "   ")))
	snap, err := h.reg.Snapshot(s.ID())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Turns)
	assert.False(t, snap.InFlight)
	assert.Equal(t, int32(0), gr.calls.Load())
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{})
	s, err := h.reg.Create(nil)
	require.NoError(t, err)

	bad := 1.5
	err = h.reg.Submit(s.ID(), types.TranscriptEvent{Text: "hi", IsFinal: true, Confidence: &bad})
	assert.Equal(t, core.ErrInvalidRequest, core.KindOf(err))

	err = h.reg.Submit("does-not-exist", final("customer", "hi"))
	assert.True(t, core.IsNotFound(err))
}

func TestSweep_IdleAndGrace(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{IdleTimeout: time.Minute, EvictionGrace: 5 * time.Minute})
	idle, err := h.reg.Create(nil)
	require.NoError(t, err)
	ended, err := h.reg.Create(nil)
	require.NoError(t, err)
	busy, err := h.reg.Create(nil)
	require.NoError(t, err)
	require.Equal(t, 3, h.reg.Count())

	require.NoError(t, h.reg.End(ended.ID(), ReasonClient))
	h.clock.Advance(50 * time.Second)
	require.NoError(t, h.reg.Submit(busy.ID(), types.TranscriptEvent{Speaker: "customer", Text: "hmm"}))
	h.clock.Advance(20 * time.Second)

	n, evicted := h.reg.Sweep(h.clock.Now())
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, evicted)
	_, err = h.reg.Get(idle.ID())
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(h.reg.End(idle.ID(), ReasonClient)))

	// Ended sessions stay readable during the grace period.
	snap, err := h.reg.Snapshot(ended.ID())
	require.NoError(t, err)
	assert.Equal(t, "ended", snap.Status)

	h.clock.Advance(5 * time.Minute)
	n, evicted = h.reg.Sweep(h.clock.Now())
	assert.Equal(t, 1, n, "busy session went idle")
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 0, h.reg.Count())
	_, err = h.reg.Snapshot(ended.ID())
	assert.True(t, core.IsNotFound(err))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Wait(ctx))
	rec, err := h.store.Get(context.Background(), idle.ID())
	require.NoError(t, err)
	assert.Equal(t, ReasonIdle, rec.Summary.Reason)
}

func TestCreate_SessionLimit(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{MaxSessions: 1})
	_, err := h.reg.Create(nil)
	require.NoError(t, err)
	_, err = h.reg.Create(nil)
	assert.Equal(t, core.ErrOverloaded, core.KindOf(err))
}

func TestCreate_EndedSessionsFreeTheirSlot(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{MaxSessions: 1, EvictionGrace: time.Hour})
	first, err := h.reg.Create(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.reg.Active())

	require.NoError(t, h.reg.End(first.ID(), ReasonClient))
	require.NoError(t, h.reg.End(first.ID(), ReasonClient))
	assert.Equal(t, 0, h.reg.Active())
	assert.Equal(t, 1, h.reg.Count(), "ended session is kept for its grace period")

	second, err := h.reg.Create(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.reg.Active())
	assert.Equal(t, 2, h.reg.Count())
	_, err = h.reg.Create(nil)
	assert.Equal(t, core.ErrOverloaded, core.KindOf(err))

	snap, err := h.reg.Snapshot(first.ID())
	require.NoError(t, err)
	assert.Equal(t, "ended", snap.Status)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestEnd_PersistsEveryGuidance(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{})
	events := make(chan types.Event, 32)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	require.NoError(t, h.reg.Submit(s.ID(), final("salesperson", "Hi, this is Alex calling about your phone system")))
	assert.Equal(t, types.EventTranscript, nextEvent(t, events).Type)
	assert.Equal(t, types.EventGuidance, nextEvent(t, events).Type)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.reg.Submit(s.ID(), final("customer", "We're not interested")))
	assert.Equal(t, types.EventTranscript, nextEvent(t, events).Type)
	assert.Equal(t, types.EventGuidance, nextEvent(t, events).Type)

	require.NoError(t, h.reg.End(s.ID(), ReasonClient))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Wait(ctx))

	rec, err := h.store.Get(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, rec.Guidance, 2)
	assert.Equal(t, rec.Summary.GuidanceCount, len(rec.Guidance))
	assert.Equal(t, types.StageOpening, rec.Guidance[0].Stage.Stage)
	assert.Equal(t, types.StageObjection, rec.Guidance[1].Stage.Stage)
	assert.Nil(t, rec.Analysis)
}

func TestOnEnd(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{})
	s, err := h.reg.Create(nil)
	require.NoError(t, err)

	var calls atomic.Int32
	assert.True(t, s.OnEnd(func() { calls.Add(1) }))
	require.NoError(t, h.reg.End(s.ID(), ReasonClient))
	assert.Equal(t, int32(1), calls.Load())
	assert.Error(t, s.Context().Err())

	assert.False(t, s.OnEnd(func() { calls.Add(1) }))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitError(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{})
	events := make(chan types.Event, 4)
	s, err := h.reg.Create(dispatch.ChanSink(events))
	require.NoError(t, err)

	s.EmitError(core.NewTranscriptionConnectionError(s.ID(), errors.New("eof")))
	ev := nextEvent(t, events)
	assert.Equal(t, types.EventError, ev.Type)
	assert.Equal(t, string(core.ErrTranscriptionConnection), ev.Error.Type)
	assert.Equal(t, StatusActive, s.Status())
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, failingReasoner(), Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.reg.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
