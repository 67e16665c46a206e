package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/callcoach/internal/dotenv"
	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/gateway/server"
)

type serveDeps struct {
	loadEnv      func(path string) error
	loadConfig   func() (config.Config, error)
	listen       func(network, addr string) (net.Listener, error)
	signalNotify func(c chan<- os.Signal, sig ...os.Signal)
	signalStop   func(c chan<- os.Signal)
	newSTT       handlers.STTFactory
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadEnv:      dotenv.LoadFile,
		loadConfig:   config.LoadFromEnv,
		listen:       net.Listen,
		signalNotify: signal.Notify,
		signalStop:   signal.Stop,
		newSTT:       handlers.DefaultSTTFactory,
	}
}

func newServeCmd(deps serveDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve live coaching sessions over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr(), deps)
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// runServe blocks until ctx ends or a shutdown signal arrives, then drains live
// sessions within the configured grace period.
func runServe(ctx context.Context, stderr io.Writer, deps serveDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := deps.loadEnv(".env"); err != nil {
		return err
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New("callcoach")
	eng, err := newEngine(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.store.Close(); err != nil {
			logger.Warn("record store close failed", zap.Error(err))
		}
	}()

	srv := server.New(server.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: eng.registry,
		Store:    eng.store,
		Reasoner: eng.reasoner,
		Playbook: eng.playbook,
		Metrics:  m,
		NewSTT:   deps.newSTT,
	})
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	ln, err := deps.listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.registry.Run(sweepCtx)
	})
	g.Go(func() error {
		logger.Info("coachd listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("provider", eng.reasoner.Name()),
			zap.String("stt_provider", cfg.STTProvider),
		)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}
		shutdown(logger, cfg, srv, httpSrv, eng.registry)
		stopSweep()
		return nil
	})
	return g.Wait()
}

func shutdown(logger *zap.Logger, cfg config.Config, srv *server.Server, httpSrv *http.Server, reg *session.Registry) {
	srv.Lifecycle().SetDraining(true)
	warned := srv.Conns().Broadcast("shutting_down", "server is shutting down")
	ended := reg.EndAll(session.ReasonShutdown)
	logger.Info("draining", zap.Int("warned", warned), zap.Int("sessions_ended", ended))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if !srv.Conns().Wait(ctx) {
		closed := srv.Conns().CloseAll()
		logger.Warn("closed live connections after grace period", zap.Int("count", closed))
	}
	if err := reg.Wait(ctx); err != nil {
		logger.Warn("pending guidance did not finish", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
