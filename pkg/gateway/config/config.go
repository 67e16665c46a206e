package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reasoning providers selectable with COACH_PROVIDER.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderStatic    = "static"
)

// Transcription vendors selectable with COACH_STT_PROVIDER.
const (
	STTDeepgram = "deepgram"
	STTCartesia = "cartesia"
)

type Config struct {
	Addr string

	// Auth. Empty APIKeys disables authentication.
	APIKeys           map[string]struct{}
	TrustProxyHeaders bool

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Session engine.
	MaxContextTurns  int
	MaxContextTokens int
	StageWindowTurns int
	IdleTimeout      time.Duration
	EvictionGrace    time.Duration
	SweepInterval    time.Duration
	OutboundBuffer   int
	MaxSessions      int

	// Guidance generation.
	Provider         string
	ProviderTimeout  time.Duration
	Workers          int
	AdmissionTimeout time.Duration
	Temperature      float64
	MaxOutputTokens  int

	GeminiAPIKey    string
	GeminiModel     string
	AnthropicAPIKey string
	AnthropicModel  string

	// Transcription.
	STTProvider    string
	DeepgramAPIKey string
	CartesiaAPIKey string

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes     int
	LiveMaxJSONMessageBytes    int64
	LiveMaxAudioFPS            int
	LiveMaxAudioBytesPerSecond int64
	LiveWSPingInterval         time.Duration
	LiveWSWriteTimeout         time.Duration
	LiveHelloTimeout           time.Duration

	// Per-client limits.
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxLivePerClient      int

	// Persistence and content.
	RecordStore  string
	PlaybookPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("COACH_ADDR", ":8080"),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envBoolOr("COACH_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:         make(map[string]struct{}),
		MaxContextTurns:            envIntOr("COACH_MAX_CONTEXT_TURNS", 15),
		MaxContextTokens:           envIntOr("COACH_MAX_CONTEXT_TOKENS", 3000),
		StageWindowTurns:           envIntOr("COACH_STAGE_WINDOW_TURNS", 3),
		IdleTimeout:                envDurationOr("COACH_IDLE_TIMEOUT", 60*time.Minute),
		EvictionGrace:              envDurationOr("COACH_EVICTION_GRACE", 5*time.Minute),
		SweepInterval:              envDurationOr("COACH_SWEEP_INTERVAL", 30*time.Second),
		OutboundBuffer:             envIntOr("COACH_OUTBOUND_BUFFER", 64),
		MaxSessions:                envIntOr("COACH_MAX_SESSIONS", 100),
		Provider:                   strings.ToLower(envOr("COACH_PROVIDER", "")),
		ProviderTimeout:            envDurationOr("COACH_PROVIDER_TIMEOUT", 30*time.Second),
		Workers:                    envIntOr("COACH_WORKERS", 8),
		AdmissionTimeout:           envDurationOr("COACH_ADMISSION_TIMEOUT", 250*time.Millisecond),
		Temperature:                envFloat64Or("COACH_TEMPERATURE", 0.7),
		MaxOutputTokens:            envIntOr("COACH_MAX_OUTPUT_TOKENS", 800),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", ""),
		GeminiModel:                envOr("COACH_GEMINI_MODEL", "gemini-2.5-flash"),
		AnthropicAPIKey:            envOr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:             envOr("COACH_ANTHROPIC_MODEL", ""),
		STTProvider:                strings.ToLower(envOr("COACH_STT_PROVIDER", STTDeepgram)),
		DeepgramAPIKey:             envOr("DEEPGRAM_API_KEY", ""),
		CartesiaAPIKey:             envOr("CARTESIA_API_KEY", ""),
		LiveMaxAudioFrameBytes:     envIntOr("COACH_LIVE_MAX_AUDIO_FRAME_BYTES", 16384),
		LiveMaxJSONMessageBytes:    envInt64Or("COACH_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveMaxAudioFPS:            envIntOr("COACH_MAX_AUDIO_FRAMES_PER_SECOND", 20),
		LiveMaxAudioBytesPerSecond: envInt64Or("COACH_MAX_AUDIO_BYTES_PER_SECOND", 0),
		LiveWSPingInterval:         envDurationOr("COACH_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:         envDurationOr("COACH_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHelloTimeout:           envDurationOr("COACH_LIVE_HELLO_TIMEOUT", 10*time.Second),
		LimitRPS:                   envFloat64Or("COACH_LIMIT_RPS", 20),
		LimitBurst:                 envIntOr("COACH_LIMIT_BURST", 40),
		LimitMaxConcurrentRequests: envIntOr("COACH_LIMIT_MAX_CONCURRENT_REQUESTS", 20),
		LimitMaxLivePerClient:      envIntOr("COACH_LIMIT_MAX_LIVE_PER_CLIENT", 10),
		RecordStore:                envOr("COACH_RECORD_STORE", "memory"),
		PlaybookPath:               envOr("COACH_PLAYBOOK_PATH", ""),
		LogLevel:                   strings.ToLower(envOr("COACH_LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("COACH_LOG_FORMAT", "json")),
		ReadHeaderTimeout:          envDurationOr("COACH_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        envDurationOr("COACH_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, key := range splitCSV(os.Getenv("COACH_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("COACH_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.Provider == "" {
		cfg.Provider = ProviderStatic
		if cfg.GeminiAPIKey != "" {
			cfg.Provider = ProviderGemini
		}
	}
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when COACH_PROVIDER=gemini")
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return Config{}, fmt.Errorf("ANTHROPIC_API_KEY must be set when COACH_PROVIDER=anthropic")
		}
	case ProviderStatic:
	default:
		return Config{}, fmt.Errorf("COACH_PROVIDER must be one of gemini|anthropic|static")
	}

	switch cfg.STTProvider {
	case STTDeepgram, STTCartesia:
	default:
		return Config{}, fmt.Errorf("COACH_STT_PROVIDER must be one of deepgram|cartesia")
	}

	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("COACH_LOG_FORMAT must be one of json|console")
	}

	if cfg.MaxContextTurns <= 0 {
		return Config{}, fmt.Errorf("COACH_MAX_CONTEXT_TURNS must be > 0")
	}
	if cfg.MaxContextTokens <= 0 {
		return Config{}, fmt.Errorf("COACH_MAX_CONTEXT_TOKENS must be > 0")
	}
	if cfg.StageWindowTurns <= 0 {
		return Config{}, fmt.Errorf("COACH_STAGE_WINDOW_TURNS must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_IDLE_TIMEOUT must be > 0")
	}
	if cfg.EvictionGrace < 0 {
		return Config{}, fmt.Errorf("COACH_EVICTION_GRACE must be >= 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("COACH_SWEEP_INTERVAL must be > 0")
	}
	if cfg.OutboundBuffer <= 0 {
		return Config{}, fmt.Errorf("COACH_OUTBOUND_BUFFER must be > 0")
	}
	if cfg.MaxSessions < 0 {
		return Config{}, fmt.Errorf("COACH_MAX_SESSIONS must be >= 0")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("COACH_WORKERS must be > 0")
	}
	if cfg.AdmissionTimeout < 0 {
		return Config{}, fmt.Errorf("COACH_ADMISSION_TIMEOUT must be >= 0")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("COACH_TEMPERATURE must be within [0,2]")
	}
	if cfg.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("COACH_MAX_OUTPUT_TOKENS must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("COACH_MAX_AUDIO_FRAMES_PER_SECOND must be >= 0")
	}
	if cfg.LiveMaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("COACH_MAX_AUDIO_BYTES_PER_SECOND must be >= 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHelloTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_LIVE_HELLO_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("COACH_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("COACH_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("COACH_LIMIT_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxLivePerClient < 0 {
		return Config{}, fmt.Errorf("COACH_LIMIT_MAX_LIVE_PER_CLIENT must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COACH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COACH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// STTAPIKey returns the key of the configured transcription vendor, or "" when
// audio transcription is unavailable.
func (c Config) STTAPIKey() string {
	switch c.STTProvider {
	case STTCartesia:
		return c.CartesiaAPIKey
	default:
		return c.DeepgramAPIKey
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
