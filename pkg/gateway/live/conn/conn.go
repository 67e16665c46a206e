// Package conn owns the outbound half of a /v1/live websocket: one writer goroutine,
// a priority queue for protocol frames, and an ordered queue for session events.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
)

// ErrClosed is returned when writing to a connection whose writer has stopped.
var ErrClosed = errors.New("live connection closed")

const (
	defaultQueueSize          = 64
	outboundPriorityQueueSize = 16
)

type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// Conn serializes writes to one websocket. It implements dispatch.Sink.
type Conn struct {
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	priority chan []byte
	normal   chan []byte

	// ended is only touched by Deliver, which the dispatcher calls from one goroutine.
	ended bool

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// New starts the writer goroutine for ws.
func New(ws wsWriter, cfg Config, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		priority: make(chan []byte, outboundPriorityQueueSize),
		normal:   make(chan []byte, size),
		done:     make(chan struct{}),
	}
	w := &outboundWriter{ws: ws, ctx: ctx, cfg: cfg, priority: c.priority, normal: c.normal}
	go func() {
		defer close(c.done)
		defer func() { _ = ws.Close() }()
		defer cancel()
		if err := w.Run(); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			logger.Debug("live writer stopped", zap.Error(err))
		}
	}()
	return c
}

// SendJSON queues v ahead of session events. It never blocks; a full priority queue
// drops the frame.
func (c *Conn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.priority <- payload:
		return nil
	default:
		return errors.New("live priority queue full")
	}
}

// SendError queues a protocol error frame.
func (c *Conn) SendError(code, message, param string, closeAfter bool) error {
	return c.SendJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Param: param, Close: closeAfter})
}

// Warn queues a warning frame.
func (c *Conn) Warn(code, message string) error {
	return c.SendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// Deliver writes a session event in order, blocking until it is queued, the
// delivery context ends, or the connection closes. The session_ended event is the
// last one a session emits; after queuing it the writer drains and closes the socket.
func (c *Conn) Deliver(ctx context.Context, ev types.Event) error {
	if c.ended {
		return ErrClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.normal <- payload:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if ev.Type == types.EventEnded {
		c.ended = true
		close(c.normal)
	}
	return nil
}

// Done is closed once the writer has stopped and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the write error that stopped the writer, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Drain waits up to timeout for the writer to flush and close the socket on its own.
func (c *Conn) Drain(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the writer and waits for it.
func (c *Conn) Close() {
	c.cancel()
	<-c.done
}
