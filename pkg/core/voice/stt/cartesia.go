package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	cartesiaEndpoint = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion  = "2025-04-16"
)

// CartesiaProvider streams transcription from Cartesia. Cartesia does not diarize,
// so deltas carry no speaker label.
type CartesiaProvider struct {
	apiKey string
	cfg    clientConfig
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string, opts ...Option) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, cfg: newClientConfig(cartesiaEndpoint, opts)}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// NewStreamingSTT opens a websocket transcription session.
func (c *CartesiaProvider) NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (Session, error) {
	u, err := url.Parse(c.cfg.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)

	q.Set("encoding", cartesiaEncoding(opts.Encoding))

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	return dialStream(ctx, u.String(), headers, c.cfg.handshakeTimeout, cartesiaCodec{})
}

// cartesiaEncoding maps generic encoding names to Cartesia's PCM names.
func cartesiaEncoding(enc string) string {
	switch enc {
	case "", "linear16":
		return "pcm_s16le"
	case "mulaw":
		return "pcm_mulaw"
	case "alaw":
		return "pcm_alaw"
	default:
		return enc
	}
}

type cartesiaSTTResponse struct {
	Type     string  `json:"type"`     // "transcript", "flush_done", "done", "error"
	Text     string  `json:"text"`     // Transcribed text
	IsFinal  bool    `json:"is_final"` // Whether this is final
	Duration float64 `json:"duration"` // Audio duration
	Error    string  `json:"error"`    // Error message if type is "error"
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

type cartesiaCodec struct{}

func (cartesiaCodec) decode(data []byte) ([]TranscriptDelta, bool, error) {
	var msg cartesiaSTTResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, nil
	}
	switch msg.Type {
	case "transcript":
		d := TranscriptDelta{Text: msg.Text, IsFinal: msg.IsFinal}
		if len(msg.Words) > 0 {
			d.Start = seconds(msg.Words[0].Start)
		}
		return []TranscriptDelta{d}, false, nil
	case "done":
		return nil, true, nil
	case "error":
		if msg.Error == "" {
			msg.Error = "unknown error"
		}
		return nil, false, errors.New("cartesia: " + msg.Error)
	default:
		return nil, false, nil
	}
}

func (cartesiaCodec) finalizeMessage() []byte { return []byte("finalize") }
func (cartesiaCodec) closeMessage() []byte    { return []byte("done") }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
