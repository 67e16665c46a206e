package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vango-go/callcoach/pkg/coach/dispatch"
	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/config"
)

// callScript is a recorded call. JSON is accepted as well since it is valid YAML.
type callScript struct {
	Turns []scriptTurn `yaml:"turns"`
}

type scriptTurn struct {
	Speaker         string   `yaml:"speaker"`
	Text            string   `yaml:"text"`
	Channel         string   `yaml:"channel"`
	IsFinal         *bool    `yaml:"is_final"`
	Confidence      *float64 `yaml:"confidence"`
	RequestGuidance bool     `yaml:"request_guidance"`
}

func (t scriptTurn) event() types.TranscriptEvent {
	final := true
	if t.IsFinal != nil {
		final = *t.IsFinal
	}
	return types.TranscriptEvent{
		Text:       t.Text,
		Speaker:    t.Speaker,
		Channel:    t.Channel,
		IsFinal:    final,
		Confidence: t.Confidence,
	}
}

func loadScript(path string) (callScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return callScript{}, fmt.Errorf("read script: %w", err)
	}
	var script callScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return callScript{}, fmt.Errorf("parse script %q: %w", path, err)
	}
	if len(script.Turns) == 0 {
		return callScript{}, fmt.Errorf("script %q has no turns", path)
	}
	return script, nil
}

type replayOptions struct {
	provider string
	store    string
}

func newReplayCmd(deps serveDeps) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Feed a recorded call through the coaching engine and print its events as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), deps, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.provider, "provider", config.ProviderStatic, "reasoning provider (gemini|anthropic|static)")
	cmd.Flags().StringVar(&opts.store, "store", "memory", "record store URL for the finished call")
	return cmd
}

func runReplay(ctx context.Context, stdout, stderr io.Writer, deps serveDeps, path string, opts replayOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	script, err := loadScript(path)
	if err != nil {
		return err
	}
	if err := deps.loadEnv(".env"); err != nil {
		return err
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if opts.store != "" {
		cfg.RecordStore = opts.store
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eng, err := newEngine(ctx, cfg, logger, metrics.New("callcoach_replay"))
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	events := make(chan types.Event, cfg.OutboundBuffer)
	sess, err := eng.registry.Create(dispatch.ChanSink(events))
	if err != nil {
		return err
	}

	printed := make(chan error, 1)
	go func() { printed <- printEvents(stdout, events) }()

	feedErr := feedScript(ctx, eng.registry, sess.ID(), script, cfg.ProviderTimeout, logger)
	reason := session.ReasonClient
	if feedErr != nil {
		reason = session.ReasonShutdown
	}
	endErr := eng.registry.End(sess.ID(), reason)

	// Wait returns once the session's outbound queue is flushed, so nothing is
	// delivered to events afterwards.
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := eng.registry.Wait(waitCtx); err != nil {
		return errors.Join(feedErr, endErr, err)
	}
	close(events)
	printErr := <-printed
	return errors.Join(feedErr, endErr, printErr)
}

// feedScript submits each turn and waits for any guidance it triggered to settle, so
// every turn sees the previous turn's guidance.
func feedScript(ctx context.Context, reg *session.Registry, id string, script callScript, settle time.Duration, logger *zap.Logger) error {
	for i, turn := range script.Turns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := reg.Submit(id, turn.event()); err != nil {
			if core.KindOf(err) != core.ErrInvalidRequest {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
			logger.Warn("turn rejected", zap.Int("turn", i+1), zap.Error(err))
			continue
		}
		if turn.RequestGuidance {
			if err := waitSettled(ctx, reg, id, settle); err != nil {
				return err
			}
			if _, err := reg.RequestGuidance(id); err != nil {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
		}
		if err := waitSettled(ctx, reg, id, settle); err != nil {
			return err
		}
	}
	return nil
}

func waitSettled(ctx context.Context, reg *session.Registry, id string, limit time.Duration) error {
	deadline := time.Now().Add(limit + time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, err := reg.Snapshot(id)
		if err != nil {
			return err
		}
		if !snap.InFlight {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("guidance still in flight after %s", limit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printEvents(w io.Writer, events <-chan types.Event) error {
	enc := json.NewEncoder(w)
	var writeErr error
	for ev := range events {
		if writeErr == nil {
			writeErr = enc.Encode(ev)
		}
		if ev.Type == types.EventEnded {
			break
		}
	}
	return writeErr
}
