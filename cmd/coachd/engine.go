package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/providers/anthropic"
	"github.com/vango-go/callcoach/pkg/core/providers/gemini"
	"github.com/vango-go/callcoach/pkg/gateway/config"
)

func newLogger(cfg config.Config, w io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(cfg.LogLevel) != "" {
		parsed, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.LogFormat {
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)), nil
}

func loadPlaybook(path string) (*playbook.Playbook, error) {
	if strings.TrimSpace(path) == "" {
		return playbook.Default(), nil
	}
	return playbook.Load(path)
}

// newReasoners registers every provider the config has credentials for. The static
// template reasoner is always available.
func newReasoners(ctx context.Context, cfg config.Config, pb *playbook.Playbook) (core.ReasonerRegistry, error) {
	reg := core.NewReasonerRegistry()
	reg.Register(suggest.NewTemplateReasoner(pb))

	if cfg.GeminiAPIKey != "" {
		opts := []gemini.Option{gemini.WithModel(cfg.GeminiModel), gemini.WithTemperature(cfg.Temperature)}
		if cfg.MaxOutputTokens > 0 {
			opts = append(opts, gemini.WithMaxTokens(cfg.MaxOutputTokens))
		}
		p, err := gemini.New(ctx, cfg.GeminiAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		reg.Register(p)
	}
	if cfg.AnthropicAPIKey != "" {
		opts := []anthropic.Option{anthropic.WithModel(cfg.AnthropicModel), anthropic.WithTemperature(cfg.Temperature)}
		if cfg.MaxOutputTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxOutputTokens))
		}
		reg.Register(anthropic.New(cfg.AnthropicAPIKey, opts...))
	}
	return reg, nil
}

func selectReasoner(reg core.ReasonerRegistry, name string) (core.Reasoner, error) {
	r, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("reasoning provider %q is not configured (available: %s)", name, strings.Join(reg.List(), ", "))
	}
	return r, nil
}

// engine is the session registry plus what it was built from.
type engine struct {
	registry *session.Registry
	store    record.Store
	playbook *playbook.Playbook
	reasoner core.Reasoner
}

func newEngine(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*engine, error) {
	pb, err := loadPlaybook(cfg.PlaybookPath)
	if err != nil {
		return nil, err
	}
	reasoners, err := newReasoners(ctx, cfg, pb)
	if err != nil {
		return nil, err
	}
	reasoner, err := selectReasoner(reasoners, cfg.Provider)
	if err != nil {
		return nil, err
	}
	store, err := record.Open(ctx, cfg.RecordStore)
	if err != nil {
		return nil, err
	}

	gen := suggest.New(suggest.Dependencies{
		Reasoner: reasoner,
		Playbook: pb,
		Logger:   logger,
		Metrics:  m,
		Config: suggest.Config{
			ProviderTimeout:  cfg.ProviderTimeout,
			Workers:          cfg.Workers,
			AdmissionTimeout: cfg.AdmissionTimeout,
		},
	})
	reg := session.NewRegistry(session.Dependencies{
		Playbook:  pb,
		Generator: gen,
		Store:     store,
		Logger:    logger,
		Metrics:   m,
		Config: session.Config{
			MaxContextTurns:  cfg.MaxContextTurns,
			MaxContextTokens: cfg.MaxContextTokens,
			StageWindowTurns: cfg.StageWindowTurns,
			IdleTimeout:      cfg.IdleTimeout,
			EvictionGrace:    cfg.EvictionGrace,
			SweepInterval:    cfg.SweepInterval,
			OutboundBuffer:   cfg.OutboundBuffer,
			MaxSessions:      cfg.MaxSessions,
		},
	})
	return &engine{registry: reg, store: store, playbook: pb, reasoner: reasoner}, nil
}
