package conn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine writing to the socket. Priority frames (acks,
// protocol errors, warnings) always go before queued session events. A nil normal
// channel after it was closed means the session is over: the writer drains what is
// left and closes the socket.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan []byte
	normal   <-chan []byte
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriority(writeTimeout)
			w.closeSocket(websocket.CloseGoingAway, "", writeTimeout)
			return nil
		default:
		}

		select {
		case frame := <-w.priority:
			if err := w.writeText(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if w.normal == nil {
			w.flushPriority(writeTimeout)
			w.closeSocket(websocket.CloseNormalClosure, "session ended", writeTimeout)
			return nil
		}

		select {
		case <-w.ctx.Done():
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.writeText(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.writeText(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) flushPriority(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	maxFlushFrames := 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame := <-w.priority:
			_ = w.writeText(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) closeSocket(code int, reason string, writeTimeout time.Duration) {
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

func (w *outboundWriter) writeText(frame []byte, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
