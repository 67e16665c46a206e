package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/ingest"
	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/voice/stt"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
	"github.com/vango-go/callcoach/pkg/gateway/live/conn"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
	"github.com/vango-go/callcoach/pkg/gateway/live/tracker"
	"github.com/vango-go/callcoach/pkg/gateway/mw"
	"github.com/vango-go/callcoach/pkg/gateway/principal"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

// STTFactory builds a transcription provider for a vendor name.
type STTFactory func(provider, apiKey string) (stt.Provider, error)

// DefaultSTTFactory returns the Deepgram or Cartesia streaming client.
func DefaultSTTFactory(provider, apiKey string) (stt.Provider, error) {
	switch provider {
	case config.STTDeepgram:
		return stt.NewDeepgram(apiKey), nil
	case config.STTCartesia:
		return stt.NewCartesia(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", provider)
	}
}

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config    config.Config
	Registry  *session.Registry
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Conns     *tracker.Tracker
	Limiter   *ratelimit.Limiter

	NewSTT STTFactory
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		apierror.WriteStatus(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if !h.Lifecycle.Accepting() {
		apierror.WriteStatus(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !mw.AllowedOrigin(h.Config, r) {
		apierror.WriteStatus(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "origin is not allowed", Code: "origin_not_allowed"}, http.StatusForbidden)
		return
	}

	admit := h.Limiter.AcquireLive(principal.Resolve(r, h.Config).Key, time.Now())
	if !admit.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(admit.RetryAfter))
		apierror.Write(w, reqID, core.NewRateLimitError("too many live connections from this client"))
		return
	}
	defer admit.Permit.Release()

	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("request_id", reqID))

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		ws.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	hello, ok := h.readHello(ws)
	if !ok {
		return
	}
	logger.Debug("live hello", zap.Any("hello", hello.RedactedForLog()))

	c := conn.New(ws, conn.Config{
		PingInterval: h.Config.LiveWSPingInterval,
		WriteTimeout: h.Config.LiveWSWriteTimeout,
		QueueSize:    h.Config.OutboundBuffer,
	}, logger)
	defer c.Close()

	sess, err := h.Registry.Create(c)
	if err != nil {
		ce, _ := apierror.FromError(err)
		_ = c.SendError(string(ce.Type), ce.Message, "", true)
		return
	}
	logger = logger.With(zap.String("session_id", sess.ID()))

	release := h.Conns.Add(sess.ID(), c)
	defer release()

	adapter, sttProvider, sttErr := h.attachTranscription(sess, hello, logger)

	started := protocol.ServerSessionStarted{
		Type:            "session_started",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sess.ID(),
		Audio: protocol.SessionStartedAudio{
			Enabled:   adapter != nil,
			Provider:  sttProvider,
			Transport: hello.Features.AudioTransport,
		},
		Limits: protocol.SessionStartedLimits{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: int(h.Config.LiveMaxJSONMessageBytes),
			MaxAudioFPS:         h.Config.LiveMaxAudioFPS,
		},
	}
	if err := c.SendJSON(started); err != nil {
		_ = h.Registry.End(sess.ID(), session.ReasonDisconnect)
		return
	}
	if sttErr != nil {
		sess.EmitError(core.NewTranscriptionConnectionError(sess.ID(), sttErr))
	}

	reason := h.readLoop(ws, c, sess, adapter, logger)
	if err := h.Registry.End(sess.ID(), reason); err != nil && !core.IsNotFound(err) {
		logger.Warn("failed to end live session", zap.Error(err))
	}
	if reason == session.ReasonClient {
		drain := 2 * h.Config.LiveWSWriteTimeout
		if drain <= 0 {
			drain = 10 * time.Second
		}
		c.Drain(drain)
	}
}

func (h LiveHandler) readHello(ws *websocket.Conn) (protocol.ClientHello, bool) {
	timeout := h.Config.LiveHelloTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	messageType, frame, err := ws.ReadMessage()
	if err != nil {
		h.writeWSError(ws, "bad_request", "failed to read hello", "")
		return protocol.ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(ws, "bad_request", "first frame must be hello", "")
		return protocol.ClientHello{}, false
	}
	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.writeWSError(ws, de.Code, de.Message, de.Param)
		} else {
			h.writeWSError(ws, "bad_request", "invalid hello frame", "")
		}
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(ws, "bad_request", "first frame must be hello", "")
		return protocol.ClientHello{}, false
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(ws, "unsupported_version", "unsupported protocol_version", "protocol_version")
		return protocol.ClientHello{}, false
	}
	h.keepAlive(ws)
	return hello, true
}

// keepAlive replaces the hello deadline with one that each pong extends.
func (h LiveHandler) keepAlive(ws *websocket.Conn) {
	window := 3 * h.Config.LiveWSPingInterval
	if window <= 0 {
		_ = ws.SetReadDeadline(time.Time{})
		return
	}
	_ = ws.SetReadDeadline(time.Now().Add(window))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(window))
	})
}

// attachTranscription connects server-side speech-to-text when the hello asks for it.
// A nil adapter with a nil error means the client sends transcripts itself.
func (h LiveHandler) attachTranscription(sess *session.Session, hello protocol.ClientHello, logger *zap.Logger) (*ingest.Adapter, string, error) {
	if hello.Transcription == nil {
		return nil, "", nil
	}
	provider := strings.ToLower(strings.TrimSpace(hello.Transcription.Provider))
	if provider == "" {
		provider = h.Config.STTProvider
	}
	key := h.sttKey(provider)
	if key == "" {
		return nil, provider, fmt.Errorf("no api key configured for %s", provider)
	}
	factory := h.NewSTT
	if factory == nil {
		factory = DefaultSTTFactory
	}
	p, err := factory(provider, key)
	if err != nil {
		return nil, provider, err
	}
	stream, err := p.NewStreamingSTT(sess.Context(), stt.OptionsFromConfig(*hello.Transcription))
	if err != nil {
		logger.Warn("transcription connect failed", zap.String("provider", provider), zap.Error(err))
		return nil, provider, err
	}
	adapter := ingest.Attach(ingest.Dependencies{
		Submitter:          h.Registry,
		Logger:             logger,
		Metrics:            h.Metrics,
		MaxFramesPerSecond: h.Config.LiveMaxAudioFPS,
		MaxBytesPerSecond:  h.Config.LiveMaxAudioBytesPerSecond,
	}, sess, stream, hello.SpeakerMap())
	return adapter, p.Name(), nil
}

func (h LiveHandler) sttKey(provider string) string {
	switch provider {
	case config.STTDeepgram:
		return h.Config.DeepgramAPIKey
	case config.STTCartesia:
		return h.Config.CartesiaAPIKey
	default:
		return ""
	}
}

// readLoop consumes client frames until the socket closes or the client ends the
// session, and returns the end reason.
func (h LiveHandler) readLoop(ws *websocket.Conn, c *conn.Conn, sess *session.Session, adapter *ingest.Adapter, logger *zap.Logger) string {
	id := sess.ID()
	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && sess.Status() != session.StatusEnded {
				logger.Debug("live read ended", zap.Error(err))
			}
			return session.ReasonDisconnect
		}

		if messageType == websocket.BinaryMessage {
			h.forwardAudio(c, adapter, frame)
			continue
		}

		msg, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				_ = c.SendError(de.Code, de.Message, de.Param, false)
			} else {
				_ = c.SendError("bad_request", "invalid frame", "", false)
			}
			continue
		}

		switch m := msg.(type) {
		case protocol.ClientHello:
			_ = c.SendError("bad_request", "hello already received", "type", false)
		case protocol.ClientTranscript:
			if err := h.Registry.Submit(id, m.Event()); err != nil {
				if stop := h.reportEngineError(c, err); stop {
					return session.ReasonDisconnect
				}
			}
		case protocol.ClientAudioFrame:
			data, err := base64.StdEncoding.DecodeString(m.DataB64)
			if err != nil {
				_ = c.SendError("bad_request", "audio_frame.data_b64 is not valid base64", "data_b64", false)
				continue
			}
			h.forwardAudio(c, adapter, data)
		case protocol.ClientAudioStreamEnd:
			if adapter != nil {
				if err := adapter.Finalize(); err != nil {
					logger.Debug("transcription finalize failed", zap.Error(err))
				}
			}
		case protocol.ClientRequestGuidance:
			accepted, err := h.Registry.RequestGuidance(id)
			if err != nil {
				if stop := h.reportEngineError(c, err); stop {
					return session.ReasonDisconnect
				}
				continue
			}
			_ = c.SendJSON(protocol.ServerGuidanceRequested{Type: "guidance_requested", Accepted: accepted})
		case protocol.ClientEndSession:
			return session.ReasonClient
		}
	}
}

func (h LiveHandler) forwardAudio(c *conn.Conn, adapter *ingest.Adapter, frame []byte) {
	if adapter == nil {
		_ = c.SendError("audio_disabled", "server-side transcription is not enabled for this session", "", false)
		return
	}
	if limit := h.Config.LiveMaxAudioFrameBytes; limit > 0 && len(frame) > limit {
		_ = c.SendError("audio_frame_too_large", fmt.Sprintf("audio frame exceeds %d bytes", limit), "", false)
		return
	}
	if err := adapter.SendAudio(frame); err != nil {
		if errors.Is(err, ingest.ErrRateLimited) {
			_ = c.Warn("audio_rate_limited", "audio frame dropped")
			return
		}
		_ = c.SendError(string(core.ErrTranscriptionConnection), "transcription stream unavailable", "", false)
	}
}

// reportEngineError sends err as a non-closing protocol error and reports whether
// the session is gone.
func (h LiveHandler) reportEngineError(c *conn.Conn, err error) bool {
	ce, _ := apierror.FromError(err)
	switch ce.Type {
	case core.ErrSessionEnded, core.ErrNotFound:
		return true
	}
	_ = c.SendError(string(ce.Type), ce.Message, "", false)
	return false
}

func (h LiveHandler) writeWSError(ws *websocket.Conn, code, message, param string) {
	writeTimeout := h.Config.LiveWSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Param: param, Close: true})
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(writeTimeout))
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
