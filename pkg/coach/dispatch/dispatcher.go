// Package dispatch delivers a session's outbound events to its client in emission order.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/core/types"
)

var (
	// ErrBackpressure is returned when the outbound queue is full. The event is dropped.
	ErrBackpressure = errors.New("outbound queue full")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// DefaultBuffer is the outbound queue capacity used when Options.Buffer is unset.
const DefaultBuffer = 64

// Sink receives events from a dispatcher's writer goroutine, one at a time.
type Sink interface {
	Deliver(ctx context.Context, ev types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev types.Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev types.Event) error {
	return f(ctx, ev)
}

// Options configures a Dispatcher.
type Options struct {
	Buffer int
	// DeliverTimeout bounds a single Sink.Deliver call. Zero means no bound.
	DeliverTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
	// OnDrop is called for every event dropped by backpressure or a failed delivery.
	OnDrop func(ev types.Event, reason string)
}

// Dispatcher is a per-session FIFO queue drained by a single writer goroutine.
type Dispatcher struct {
	sessionID string
	sink      Sink
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	queue  chan types.Event
	seq    uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a dispatcher delivering to sink.
func New(sessionID string, sink Sink, opts Options) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, types.Event) error { return nil })
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sessionID: sessionID,
		sink:      sink,
		opts:      opts,
		logger:    logger.With(zap.String("session_id", sessionID)),
		queue:     make(chan types.Event, opts.Buffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues ev without blocking and stamps its session id, time, and sequence.
func (d *Dispatcher) Emit(ev types.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	ev.SessionID = d.sessionID
	if ev.Time.IsZero() {
		ev.Time = d.opts.Now()
	}
	ev.Sequence = d.seq + 1

	select {
	case d.queue <- ev:
		d.seq++
		return nil
	default:
		d.logger.Warn("outbound event dropped", zap.String("type", string(ev.Type)), zap.Error(ErrBackpressure))
		d.drop(ev, "backpressure")
		return ErrBackpressure
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting events and waits until every queued event has been handed to
// the sink or ctx is done. When ctx ends first, in-flight delivery is cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

// Done is closed once the writer goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		if d.ctx.Err() != nil {
			d.drop(ev, "closed")
			continue
		}
		if err := d.deliver(ev); err != nil {
			d.logger.Debug("outbound delivery failed", zap.String("type", string(ev.Type)), zap.Uint64("sequence", ev.Sequence), zap.Error(err))
			d.drop(ev, "delivery_failed")
		}
	}
}

func (d *Dispatcher) deliver(ev types.Event) error {
	ctx := d.ctx
	if d.opts.DeliverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.DeliverTimeout)
		defer cancel()
	}
	return d.sink.Deliver(ctx, ev)
}

func (d *Dispatcher) drop(ev types.Event, reason string) {
	if d.opts.OnDrop != nil {
		d.opts.OnDrop(ev, reason)
	}
}
