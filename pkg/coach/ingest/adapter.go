// Package ingest feeds a live transcription stream into a call session.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/core/voice/stt"
)

// ErrRateLimited is returned by SendAudio when the frame exceeds the audio budget.
var ErrRateLimited = errors.New("audio frame rate limited")

// DefaultMaxFramesPerSecond bounds inbound audio frames per session.
const DefaultMaxFramesPerSecond = 20

// DefaultSpeakers maps the first two diarized speakers to the salesperson (who
// dials, so speaks first) and the customer.
func DefaultSpeakers() types.SpeakerMap {
	return types.SpeakerMap{
		"0": types.SpeakerSalesperson,
		"1": types.SpeakerCustomer,
	}
}

// Submitter accepts transcript events for a session.
type Submitter interface {
	Submit(sessionID string, ev types.TranscriptEvent) error
}

// Target is the session side of an attachment.
type Target interface {
	ID() string
	Context() context.Context
	EmitError(err error)
	OnEnd(fn func()) bool
}

// Dependencies wires an Adapter.
type Dependencies struct {
	Submitter Submitter
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	// MaxFramesPerSecond limits SendAudio. Zero takes the default; negative disables.
	MaxFramesPerSecond int
	// MaxBytesPerSecond limits SendAudio by volume. Zero disables.
	MaxBytesPerSecond int64
}

// Adapter pumps one stt.Session into one call session until either ends.
type Adapter struct {
	target    Target
	stream    stt.Session
	speakers  types.SpeakerMap
	submitter Submitter
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	limiterMu sync.Mutex
	limiter   *AudioLimiter

	closeOnce sync.Once
	done      chan struct{}
}

// Attach starts pumping stream into target and tears the stream down when target ends.
// A nil speakers map uses DefaultSpeakers.
func Attach(deps Dependencies, target Target, stream stt.Session, speakers types.SpeakerMap) *Adapter {
	if speakers == nil {
		speakers = DefaultSpeakers()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	fps := deps.MaxFramesPerSecond
	if fps == 0 {
		fps = DefaultMaxFramesPerSecond
	}

	a := &Adapter{
		target:    target,
		stream:    stream,
		speakers:  speakers,
		submitter: deps.Submitter,
		logger:    logger.With(zap.String("session_id", target.ID())),
		metrics:   deps.Metrics,
		now:       now,
		limiter:   NewAudioLimiter(now, fps, deps.MaxBytesPerSecond, 1),
		done:      make(chan struct{}),
	}
	go a.run()
	target.OnEnd(func() { _ = a.Close() })
	return a
}

// SendAudio forwards one audio frame to the transcription vendor.
func (a *Adapter) SendAudio(frame []byte) error {
	a.limiterMu.Lock()
	ok := a.limiter.Allow(len(frame))
	a.limiterMu.Unlock()
	if !ok {
		a.metrics.RecordAudioFrameDropped()
		return ErrRateLimited
	}
	return a.stream.SendAudio(frame)
}

// Finalize flushes buffered audio at the vendor.
func (a *Adapter) Finalize() error {
	return a.stream.Finalize()
}

// Done is closed when the pump has stopped.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Close closes the stream and waits for the pump to stop.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.stream.Close()
	})
	<-a.done
	return err
}

func (a *Adapter) run() {
	defer close(a.done)

	for d := range a.stream.Transcripts() {
		if err := a.submitter.Submit(a.target.ID(), a.event(d)); err != nil {
			switch core.KindOf(err) {
			case core.ErrSessionEnded, core.ErrNotFound:
				return
			default:
				a.logger.Warn("transcript rejected", zap.Error(err))
			}
		}
	}

	err := a.stream.Err()
	if err == nil || a.target.Context().Err() != nil {
		return
	}
	a.logger.Warn("transcription stream lost", zap.Error(err))
	a.target.EmitError(core.NewTranscriptionConnectionError(a.target.ID(), err))
}

func (a *Adapter) event(d stt.TranscriptDelta) types.TranscriptEvent {
	channel := strings.TrimSpace(d.Speaker)
	return types.TranscriptEvent{
		Text:       d.Text,
		Speaker:    string(a.speakers.Resolve(channel)),
		Channel:    channel,
		IsFinal:    d.IsFinal,
		Confidence: clampConfidence(d.Confidence),
		Timestamp:  a.now(),
	}
}

func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return &v
}
