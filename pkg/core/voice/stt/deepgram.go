package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const deepgramEndpoint = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider streams diarized transcription from Deepgram.
type DeepgramProvider struct {
	apiKey string
	cfg    clientConfig
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string, opts ...Option) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, cfg: newClientConfig(deepgramEndpoint, opts)}
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

// NewStreamingSTT opens a websocket transcription session.
func (d *DeepgramProvider) NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (Session, error) {
	u, err := url.Parse(d.cfg.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = "en-US"
	}
	q.Set("language", language)

	encoding := opts.Encoding
	if encoding == "" || encoding == "pcm_s16le" {
		encoding = "linear16"
	}
	q.Set("encoding", encoding)

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))

	channels := opts.Channels
	if channels == 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("diarize", strconv.FormatBool(opts.Diarize))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	return dialStream(ctx, u.String(), headers, d.cfg.handshakeTimeout, deepgramCodec{})
}

type deepgramMessage struct {
	Type     string  `json:"type"` // "Results", "Metadata", "UtteranceEnd", "SpeechStarted", "Error"
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word,omitempty"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Speaker        *int    `json:"speaker,omitempty"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type deepgramCodec struct{}

// decode splits a diarized result into one delta per contiguous speaker run.
func (deepgramCodec) decode(data []byte) ([]TranscriptDelta, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, nil
	}
	switch msg.Type {
	case "Results":
	case "Error":
		desc := msg.Description
		if desc == "" {
			desc = msg.Message
		}
		return nil, false, errors.New("deepgram: " + desc)
	default:
		return nil, false, nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return nil, false, nil
	}
	alt := msg.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" && !msg.IsFinal {
		return nil, false, nil
	}
	confidence := alt.Confidence

	if len(alt.Words) == 0 || alt.Words[0].Speaker == nil {
		return []TranscriptDelta{{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: &confidence,
			Start:      seconds(msg.Start),
		}}, false, nil
	}

	var out []TranscriptDelta
	var words []string
	speaker := -1
	var start float64
	flush := func() {
		if len(words) == 0 {
			return
		}
		c := confidence
		out = append(out, TranscriptDelta{
			Text:       strings.Join(words, " "),
			IsFinal:    msg.IsFinal,
			Speaker:    strconv.Itoa(speaker),
			Confidence: &c,
			Start:      seconds(start),
		})
		words = words[:0]
	}
	for _, w := range alt.Words {
		sp := 0
		if w.Speaker != nil {
			sp = *w.Speaker
		}
		if sp != speaker {
			flush()
			speaker = sp
			start = w.Start
		}
		if w.PunctuatedWord != "" {
			words = append(words, w.PunctuatedWord)
		} else {
			words = append(words, w.Word)
		}
	}
	flush()
	if len(out) == 1 && alt.Transcript != "" {
		out[0].Text = alt.Transcript
	}
	return out, false, nil
}

func (deepgramCodec) finalizeMessage() []byte { return []byte(`{"type":"Finalize"}`) }
func (deepgramCodec) closeMessage() []byte    { return []byte(`{"type":"CloseStream"}`) }
