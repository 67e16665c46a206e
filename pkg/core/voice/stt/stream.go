package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	transcriptBuffer        = 100
)

// codec adapts the shared websocket stream to one vendor's wire format.
type codec interface {
	// decode parses one server message. done reports a graceful end of stream;
	// a non-nil error reports a vendor-side failure.
	decode(data []byte) (deltas []TranscriptDelta, done bool, err error)
	finalizeMessage() []byte
	closeMessage() []byte
}

// wsStream is a live transcription session over one websocket connection.
type wsStream struct {
	conn        *websocket.Conn
	codec       codec
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	errMu sync.Mutex
	err   error
}

// Option configures a vendor client.
type Option func(*clientConfig)

type clientConfig struct {
	endpoint         string
	handshakeTimeout time.Duration
}

// WithEndpoint overrides the vendor websocket URL.
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) { c.endpoint = endpoint }
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.handshakeTimeout = d }
}

func newClientConfig(endpoint string, opts []Option) clientConfig {
	cfg := clientConfig{endpoint: endpoint, handshakeTimeout: defaultHandshakeTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func dialStream(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration, c codec) (*wsStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &wsStream{
		conn:        conn,
		codec:       c,
		transcripts: make(chan TranscriptDelta, transcriptBuffer),
		done:        make(chan struct{}),
		ctx:         sctx,
		cancel:      cancel,
	}
	go s.readLoop()
	return s, nil
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.setErr(ErrStreamClosed)
				} else {
					s.setErr(err)
				}
			}
			return
		}

		deltas, done, err := s.codec.decode(data)
		if err != nil {
			s.setErr(err)
			return
		}
		for _, d := range deltas {
			select {
			case s.transcripts <- d:
			case <-s.ctx.Done():
				return
			}
		}
		if done {
			if !s.closed.Load() {
				s.setErr(ErrStreamClosed)
			}
			return
		}
	}
}

func (s *wsStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Err returns why the stream ended.
func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendAudio sends raw audio in the encoding negotiated at connect time.
func (s *wsStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio.
func (s *wsStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, s.codec.finalizeMessage())
}

// Transcripts returns the channel of transcript deltas.
func (s *wsStream) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done returns a channel that's closed when the session ends.
func (s *wsStream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream and waits for the read loop to exit.
func (s *wsStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.TextMessage, s.codec.closeMessage())
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}
