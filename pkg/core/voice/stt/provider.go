// Package stt provides streaming speech-to-text clients.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// ErrStreamClosed is reported by Session.Err when the vendor closed the stream
// before the client did.
var ErrStreamClosed = errors.New("transcription stream closed by vendor")

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingSTT opens a live transcription session.
	NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (Session, error)
}

// Session is a live transcription stream. Audio goes in through SendAudio;
// transcript updates come out of Transcripts until the stream ends.
type Session interface {
	SendAudio(data []byte) error
	// Finalize asks the vendor to flush buffered audio into final transcripts.
	Finalize() error
	// Transcripts is closed when the stream ends.
	Transcripts() <-chan TranscriptDelta
	// Done is closed when the stream ends.
	Done() <-chan struct{}
	// Err returns why the stream ended. It is nil while the stream is open and after
	// a Close initiated by the caller.
	Err() error
	Close() error
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model          string // Provider-specific model
	Language       string // Language code
	Encoding       string // Raw audio encoding
	SampleRate     int    // Audio sample rate in Hz
	Channels       int    // Interleaved audio channels
	Diarize        bool   // Label words with speaker indexes
	InterimResults bool   // Stream non-final hypotheses
}

// OptionsFromConfig maps a client transcription config onto TranscribeOptions.
// Diarization and interim results are always requested for live calls.
func OptionsFromConfig(cfg types.TranscriptionConfig) TranscribeOptions {
	return TranscribeOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Encoding:       cfg.Encoding,
		SampleRate:     cfg.SampleRateHz,
		Channels:       cfg.Channels,
		Diarize:        true,
		InterimResults: true,
	}
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text       string        // Transcript of the segment so far
	IsFinal    bool          // True if this is a final segment
	Speaker    string        // Diarization label, empty when the vendor does not diarize
	Confidence *float64      // Vendor confidence in [0,1], if reported
	Start      time.Duration // Offset of the segment from stream start
}
