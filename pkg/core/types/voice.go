package types

// TranscriptionConfig selects and configures the speech-to-text stream for a live call.
type TranscriptionConfig struct {
	Provider     string `json:"provider,omitempty"`       // "deepgram" (default) or "cartesia"
	Model        string `json:"model,omitempty"`          // Vendor model, e.g. "nova-2"
	Language     string `json:"language,omitempty"`       // BCP-47 language (default: "en-US")
	Encoding     string `json:"encoding,omitempty"`       // Audio encoding (default: "linear16")
	SampleRateHz int    `json:"sample_rate_hz,omitempty"` // Sample rate in Hz (default: 16000)
	Channels     int    `json:"channels,omitempty"`       // Audio channels (default: 1)
}

// Audio encodings accepted by the transcription clients.
const (
	EncodingLinear16 = "linear16"
	EncodingOpus     = "opus"
	EncodingMulaw    = "mulaw"
	EncodingPCMS16LE = "pcm_s16le"
)

// SpeakerMap maps transcription speaker channels to conversational roles.
type SpeakerMap map[string]Speaker

// Resolve returns the role of channel, or SpeakerUnknown.
func (m SpeakerMap) Resolve(channel string) Speaker {
	if sp, ok := m[channel]; ok && sp != "" {
		return sp
	}
	return SpeakerUnknown
}
