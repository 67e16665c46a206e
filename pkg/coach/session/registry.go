package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/dispatch"
	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/objective"
	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/stage"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/coach/transcript"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Config bounds session behavior. Zero values take the defaults below.
type Config struct {
	MaxContextTurns  int
	MaxContextTokens int
	StageWindowTurns int
	IdleTimeout      time.Duration
	EvictionGrace    time.Duration
	SweepInterval    time.Duration
	OutboundBuffer   int
	DeliverTimeout   time.Duration
	// MaxSessions caps concurrently active sessions; ended sessions in their grace
	// period do not count. Zero means unlimited.
	MaxSessions    int
	PersistTimeout time.Duration
}

const (
	DefaultMaxContextTurns  = 15
	DefaultMaxContextTokens = 3000
	DefaultIdleTimeout      = 60 * time.Minute
	DefaultEvictionGrace    = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultDeliverTimeout   = 5 * time.Second
	DefaultPersistTimeout   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxContextTurns <= 0 {
		c.MaxContextTurns = DefaultMaxContextTurns
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = DefaultMaxContextTokens
	}
	if c.StageWindowTurns <= 0 {
		c.StageWindowTurns = stage.DefaultWindowTurns
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.EvictionGrace < 0 {
		c.EvictionGrace = 0
	} else if c.EvictionGrace == 0 {
		c.EvictionGrace = DefaultEvictionGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = dispatch.DefaultBuffer
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = DefaultDeliverTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	return c
}

// Dependencies wires a Registry.
type Dependencies struct {
	Playbook  *playbook.Playbook
	Generator *suggest.Generator
	// Store receives the final record of every ended session. Nil discards records.
	Store   record.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	Config  Config
}

// Registry owns every live session. The session map has its own lock, independent of
// the per-session locks; map operations never take a session lock while holding it.
type Registry struct {
	cfg       Config
	detector  *stage.Detector
	tracker   *objective.Tracker
	generator *suggest.Generator
	store     record.Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	active   int

	wg sync.WaitGroup
}

// NewRegistry creates a registry.
func NewRegistry(deps Dependencies) *Registry {
	cfg := deps.Config.withDefaults()
	pb := deps.Playbook
	if pb == nil {
		pb = playbook.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	gen := deps.Generator
	if gen == nil {
		gen = suggest.New(suggest.Dependencies{Playbook: pb, Logger: logger, Metrics: deps.Metrics, Now: now})
	}
	return &Registry{
		cfg:       cfg,
		detector:  stage.NewDetector(pb, stage.Options{WindowTurns: cfg.StageWindowTurns}),
		tracker:   objective.NewTracker(pb),
		generator: gen,
		store:     deps.Store,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       now,
		sessions:  make(map[string]*Session),
	}
}

// Create registers a new Active session whose events are delivered to sink.
func (r *Registry) Create(sink dispatch.Sink) (*Session, error) {
	now := r.now()
	id := uuid.NewString()
	logger := r.logger.With(zap.String("session_id", id))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:     id,
		reg:    r,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		dispatcher: dispatch.New(id, sink, dispatch.Options{
			Buffer:         r.cfg.OutboundBuffer,
			DeliverTimeout: r.cfg.DeliverTimeout,
			Logger:         r.logger,
			Now:            r.now,
			OnDrop: func(ev types.Event, reason string) {
				r.metrics.RecordEventDropped(string(ev.Type), reason)
			},
		}),
		status:       StatusInitializing,
		startedAt:    now,
		lastActivity: now,
		history:      transcript.NewHistory(),
		stage:        types.StageState{Stage: types.StageOpening, EnteredAt: now},
		objectives:   r.tracker.Evaluate(nil, types.StageOpening, nil),
	}

	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && r.active >= r.cfg.MaxSessions {
		r.mu.Unlock()
		cancel()
		_ = s.dispatcher.Close(context.Background())
		return nil, core.NewOverloadedError(fmt.Sprintf("session limit of %d reached", r.cfg.MaxSessions))
	}
	r.sessions[id] = s
	r.active++
	r.mu.Unlock()

	// Nothing else to set up; the session is live as soon as it is registered.
	s.mu.Lock()
	s.status = StatusActive
	s.mu.Unlock()

	r.metrics.RecordSessionStart()
	logger.Info("session started")
	return s, nil
}

// Get returns a registered session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewNotFoundError(id)
	}
	return s, nil
}

// Count returns the number of registered sessions, ended ones included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active returns the number of sessions that have not ended.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Submit applies a transcript event. A committed final turn triggers guidance.
func (r *Registry) Submit(id string, ev types.TranscriptEvent) error {
	if err := ev.Validate(); err != nil {
		return core.NewInvalidRequestError(err.Error())
	}
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	triggered, err := s.submit(ev)
	if err != nil {
		return err
	}
	if triggered {
		r.generator.Request(s)
	}
	return nil
}

// RequestGuidance triggers guidance explicitly. It reports false when the trigger was
// dropped because a request is already in flight.
func (r *Registry) RequestGuidance(id string) (bool, error) {
	s, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if s.Status() != StatusActive {
		return false, core.NewSessionEndedError(id)
	}
	return r.generator.Request(s), nil
}

// Snapshot returns a read-only view of a session, including ended sessions still in
// their eviction grace period.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// End ends a session. Ending an already ended session is a no-op; ending an evicted
// session is a not found error.
func (r *Registry) End(id, reason string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	r.end(s, reason)
	return nil
}

func (r *Registry) end(s *Session, reason string) bool {
	rec, first := s.end(reason)
	if !first {
		return false
	}
	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	r.metrics.RecordSessionEnd(reason, rec.Summary.Duration())
	s.logger.Info("session ended",
		zap.String("reason", reason),
		zap.Int("turns", rec.Summary.Turns),
		zap.Int("guidance", rec.Summary.GuidanceCount),
		zap.String("final_stage", string(rec.Summary.FinalStage)),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.finish(s, rec)
	}()
	return true
}

// finish flushes the outbound queue and hands the record to the store.
func (r *Registry) finish(s *Session, rec record.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()

	if err := s.dispatcher.Close(ctx); err != nil {
		s.logger.Warn("outbound queue not flushed", zap.Error(err))
	}
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, rec); err != nil {
		s.logger.Error("failed to persist call record", zap.Error(err))
	}
}

// Sweep ends sessions idle since before now minus the idle timeout and evicts them,
// and evicts ended sessions whose grace period has elapsed.
func (r *Registry) Sweep(now time.Time) (ended, evicted int) {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	idleCutoff := now.Add(-r.cfg.IdleTimeout)
	graceCutoff := now.Add(-r.cfg.EvictionGrace)
	for _, s := range all {
		switch {
		case s.idleSince(idleCutoff):
			if r.end(s, ReasonIdle) {
				ended++
			}
			if r.evict(s) {
				evicted++
			}
		case s.evictable(graceCutoff):
			if r.evict(s) {
				evicted++
			}
		}
	}
	return ended, evicted
}

func (r *Registry) evict(s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.id]
	if ok && cur == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
	if !ok || cur != s {
		return false
	}
	r.metrics.RecordSessionEvicted()
	s.logger.Debug("session evicted")
	return true
}

// Run sweeps on the configured interval until ctx ends.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ended, evicted := r.Sweep(r.now()); ended > 0 || evicted > 0 {
				r.logger.Debug("session sweep", zap.Int("ended", ended), zap.Int("evicted", evicted))
			}
		}
	}
}

// EndAll ends every active session and returns how many it ended.
func (r *Registry) EndAll(reason string) int {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	n := 0
	for _, s := range all {
		if r.end(s, reason) {
			n++
		}
	}
	return n
}

// Wait blocks until pending guidance work and record hand-offs finish or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	if err := r.generator.Wait(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
