package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vango-go/callcoach/pkg/core/types"
)

const (
	ProtocolVersion1 = "1"

	AudioTransportBinary     = "binary"
	AudioTransportBase64JSON = "base64_json"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloFeatures struct {
	AudioTransport string `json:"audio_transport,omitempty"`
}

// ClientHello opens a call. Speakers maps transcription speaker channels to roles;
// Transcription enables server-side speech-to-text for audio frames.
type ClientHello struct {
	Type            string                     `json:"type"`
	ProtocolVersion string                     `json:"protocol_version"`
	Client          HelloClient                `json:"client,omitempty"`
	Speakers        map[string]string          `json:"speakers,omitempty"`
	Transcription   *types.TranscriptionConfig `json:"transcription,omitempty"`
	Features        HelloFeatures              `json:"features,omitempty"`
}

// SpeakerMap converts the hello's speaker roles. It returns nil when none were sent.
func (h ClientHello) SpeakerMap() types.SpeakerMap {
	if len(h.Speakers) == 0 {
		return nil
	}
	out := make(types.SpeakerMap, len(h.Speakers))
	for channel, role := range h.Speakers {
		out[strings.TrimSpace(channel)] = types.ParseSpeaker(role)
	}
	return out
}

func (h ClientHello) RedactedForLog() map[string]any {
	channels := make([]string, 0, len(h.Speakers))
	for ch := range h.Speakers {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	out := map[string]any{
		"type":             h.Type,
		"protocol_version": h.ProtocolVersion,
		"client":           h.Client,
		"speaker_channels": channels,
		"audio_transport":  h.Features.AudioTransport,
		"transcription":    h.Transcription != nil,
	}
	if h.Transcription != nil {
		out["stt_provider"] = h.Transcription.Provider
	}
	return out
}

// ClientTranscript carries a turn transcribed by the client.
type ClientTranscript struct {
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	IsFinal    bool      `json:"is_final"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Event converts the message into an engine transcript event.
func (m ClientTranscript) Event() types.TranscriptEvent {
	return types.TranscriptEvent{
		Text:       m.Text,
		Speaker:    m.Speaker,
		Channel:    m.Channel,
		IsFinal:    m.IsFinal,
		Confidence: m.Confidence,
		Timestamp:  m.Timestamp,
	}
}

type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// ClientAudioStreamEnd asks the transcription vendor to flush buffered audio.
type ClientAudioStreamEnd struct {
	Type string `json:"type"`
}

type ClientRequestGuidance struct {
	Type string `json:"type"`
}

type ClientEndSession struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "transcript":
		var msg ClientTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcript", "")
		}
		if msg.Confidence != nil && (*msg.Confidence < 0 || *msg.Confidence > 1) {
			return nil, badRequest("transcript.confidence must be within [0,1]", "confidence")
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "audio_stream_end":
		return ClientAudioStreamEnd{Type: typ}, nil
	case "request_guidance":
		return ClientRequestGuidance{Type: typ}, nil
	case "end_session":
		return ClientEndSession{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks msg and fills protocol defaults.
func ValidateHello(msg *ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	for channel, role := range msg.Speakers {
		if strings.TrimSpace(channel) == "" {
			return badRequest("hello.speakers keys must be non-empty", "speakers")
		}
		if types.ParseSpeaker(role) == types.SpeakerUnknown && !strings.EqualFold(strings.TrimSpace(role), string(types.SpeakerUnknown)) {
			return badRequest("hello.speakers values must be salesperson, customer or unknown", "speakers."+channel)
		}
	}
	if tc := msg.Transcription; tc != nil {
		if tc.SampleRateHz < 0 {
			return badRequest("hello.transcription.sample_rate_hz must be > 0", "transcription.sample_rate_hz")
		}
		if tc.Channels < 0 {
			return badRequest("hello.transcription.channels must be > 0", "transcription.channels")
		}
		switch strings.ToLower(strings.TrimSpace(tc.Encoding)) {
		case "", types.EncodingLinear16, types.EncodingPCMS16LE, types.EncodingOpus, types.EncodingMulaw:
		default:
			return unsupported("unsupported audio encoding", "transcription.encoding")
		}
	}

	transport := strings.TrimSpace(msg.Features.AudioTransport)
	switch transport {
	case "":
		msg.Features.AudioTransport = AudioTransportBinary
		return nil
	case AudioTransportBinary, AudioTransportBase64JSON:
		return nil
	default:
		return unsupported("unsupported audio transport", "features.audio_transport")
	}
}

type SessionStartedAudio struct {
	Enabled   bool   `json:"enabled"`
	Provider  string `json:"provider,omitempty"`
	Transport string `json:"transport,omitempty"`
}

type SessionStartedLimits struct {
	MaxAudioFrameBytes  int `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
	MaxAudioFPS         int `json:"max_audio_fps,omitempty"`
}

// ServerSessionStarted acknowledges hello.
type ServerSessionStarted struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	SessionID       string               `json:"session_id"`
	Audio           SessionStartedAudio  `json:"audio"`
	Limits          SessionStartedLimits `json:"limits"`
}

// ServerGuidanceRequested answers request_guidance. Accepted is false when a request
// was already in flight and the trigger was dropped.
type ServerGuidanceRequested struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

// ServerError reports a protocol-level problem. Engine errors arrive as sequenced
// events instead.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Close   bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
