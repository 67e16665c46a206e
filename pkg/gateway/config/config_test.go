package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var coachEnvKeys = []string{
	"COACH_ADDR",
	"COACH_API_KEYS",
	"COACH_TRUST_PROXY_HEADERS",
	"COACH_CORS_ORIGINS",
	"COACH_MAX_CONTEXT_TURNS",
	"COACH_MAX_CONTEXT_TOKENS",
	"COACH_STAGE_WINDOW_TURNS",
	"COACH_IDLE_TIMEOUT",
	"COACH_EVICTION_GRACE",
	"COACH_SWEEP_INTERVAL",
	"COACH_OUTBOUND_BUFFER",
	"COACH_MAX_SESSIONS",
	"COACH_PROVIDER",
	"COACH_PROVIDER_TIMEOUT",
	"COACH_WORKERS",
	"COACH_ADMISSION_TIMEOUT",
	"COACH_TEMPERATURE",
	"COACH_MAX_OUTPUT_TOKENS",
	"GEMINI_API_KEY",
	"COACH_GEMINI_MODEL",
	"ANTHROPIC_API_KEY",
	"COACH_ANTHROPIC_MODEL",
	"COACH_STT_PROVIDER",
	"DEEPGRAM_API_KEY",
	"CARTESIA_API_KEY",
	"COACH_LIVE_MAX_AUDIO_FRAME_BYTES",
	"COACH_LIVE_MAX_JSON_MESSAGE_BYTES",
	"COACH_MAX_AUDIO_FRAMES_PER_SECOND",
	"COACH_MAX_AUDIO_BYTES_PER_SECOND",
	"COACH_LIVE_WS_PING_INTERVAL",
	"COACH_LIVE_WS_WRITE_TIMEOUT",
	"COACH_LIVE_HELLO_TIMEOUT",
	"COACH_LIMIT_RPS",
	"COACH_LIMIT_BURST",
	"COACH_LIMIT_MAX_CONCURRENT_REQUESTS",
	"COACH_LIMIT_MAX_LIVE_PER_CLIENT",
	"COACH_RECORD_STORE",
	"COACH_PLAYBOOK_PATH",
	"COACH_LOG_LEVEL",
	"COACH_LOG_FORMAT",
	"COACH_READ_HEADER_TIMEOUT",
	"COACH_SHUTDOWN_GRACE_PERIOD",
}

func clearCoachEnv(t *testing.T) {
	t.Helper()
	for _, key := range coachEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearCoachEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.APIKeys)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Equal(t, 15, cfg.MaxContextTurns)
	assert.Equal(t, 3000, cfg.MaxContextTokens)
	assert.Equal(t, 3, cfg.StageWindowTurns)
	assert.Equal(t, 60*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.EvictionGrace)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 64, cfg.OutboundBuffer)
	assert.Equal(t, 100, cfg.MaxSessions)
	assert.Equal(t, ProviderStatic, cfg.Provider, "no key means the offline reasoner")
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.AdmissionTimeout)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	assert.Equal(t, 800, cfg.MaxOutputTokens)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, STTDeepgram, cfg.STTProvider)
	assert.Equal(t, "", cfg.STTAPIKey())
	assert.Equal(t, 20, cfg.LiveMaxAudioFPS)
	assert.Equal(t, int64(64*1024), cfg.LiveMaxJSONMessageBytes)
	assert.Equal(t, 20*time.Second, cfg.LiveWSPingInterval)
	assert.InDelta(t, 20.0, cfg.LimitRPS, 1e-9)
	assert.Equal(t, 40, cfg.LimitBurst)
	assert.Equal(t, 10, cfg.LimitMaxLivePerClient)
	assert.Equal(t, "memory", cfg.RecordStore)
	assert.Equal(t, "", cfg.PlaybookPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGracePeriod)
}

func TestLoadFromEnv_GeminiKeySelectsGemini(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "g-key", cfg.GeminiAPIKey)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACH_ADDR", ":9090")
	t.Setenv("COACH_CORS_ORIGINS", "https://a.example, https://b.example,,")
	t.Setenv("COACH_MAX_CONTEXT_TURNS", "10")
	t.Setenv("COACH_IDLE_TIMEOUT", "15m")
	t.Setenv("COACH_EVICTION_GRACE", "0s")
	t.Setenv("COACH_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("COACH_ANTHROPIC_MODEL", "claude-test")
	t.Setenv("COACH_STT_PROVIDER", "cartesia")
	t.Setenv("CARTESIA_API_KEY", "c-key")
	t.Setenv("COACH_MAX_SESSIONS", "0")
	t.Setenv("COACH_RECORD_STORE", "sqlite:///tmp/calls.db")
	t.Setenv("COACH_LOG_FORMAT", "console")
	t.Setenv("COACH_LOG_LEVEL", "DEBUG")
	t.Setenv("COACH_API_KEYS", "k1, k2")
	t.Setenv("COACH_TRUST_PROXY_HEADERS", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
	assert.Contains(t, cfg.CORSAllowedOrigins, "https://b.example")
	assert.Equal(t, 10, cfg.MaxContextTurns)
	assert.Equal(t, 15*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, time.Duration(0), cfg.EvictionGrace)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "claude-test", cfg.AnthropicModel)
	assert.Equal(t, STTCartesia, cfg.STTProvider)
	assert.Equal(t, "c-key", cfg.STTAPIKey())
	assert.Equal(t, 0, cfg.MaxSessions)
	assert.Equal(t, "sqlite:///tmp/calls.db", cfg.RecordStore)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Len(t, cfg.APIKeys, 2)
	assert.Contains(t, cfg.APIKeys, "k2")
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadFromEnv_InvalidNumbersKeepDefaults(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACH_WORKERS", "many")
	t.Setenv("COACH_PROVIDER_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
}

func TestLoadFromEnv_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown provider", map[string]string{"COACH_PROVIDER": "openai"}, "COACH_PROVIDER"},
		{"gemini without key", map[string]string{"COACH_PROVIDER": "gemini"}, "GEMINI_API_KEY"},
		{"anthropic without key", map[string]string{"COACH_PROVIDER": "anthropic"}, "ANTHROPIC_API_KEY"},
		{"unknown stt", map[string]string{"COACH_STT_PROVIDER": "whisper"}, "COACH_STT_PROVIDER"},
		{"log format", map[string]string{"COACH_LOG_FORMAT": "xml"}, "COACH_LOG_FORMAT"},
		{"zero turns", map[string]string{"COACH_MAX_CONTEXT_TURNS": "0"}, "COACH_MAX_CONTEXT_TURNS"},
		{"negative grace", map[string]string{"COACH_EVICTION_GRACE": "-1s"}, "COACH_EVICTION_GRACE"},
		{"zero workers", map[string]string{"COACH_WORKERS": "0"}, "COACH_WORKERS"},
		{"negative sessions", map[string]string{"COACH_MAX_SESSIONS": "-1"}, "COACH_MAX_SESSIONS"},
		{"temperature", map[string]string{"COACH_TEMPERATURE": "3"}, "COACH_TEMPERATURE"},
		{"negative rps", map[string]string{"COACH_LIMIT_RPS": "-1"}, "COACH_LIMIT_RPS"},
		{"negative live per client", map[string]string{"COACH_LIMIT_MAX_LIVE_PER_CLIENT": "-2"}, "COACH_LIMIT_MAX_LIVE_PER_CLIENT"},
		{"negative fps", map[string]string{"COACH_MAX_AUDIO_FRAMES_PER_SECOND": "-5"}, "COACH_MAX_AUDIO_FRAMES_PER_SECOND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearCoachEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
