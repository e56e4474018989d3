package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/config"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
	srv "github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/server"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/session/inmemory"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.RequireCredentials(); err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			logger, err := newLogger(cfg.General)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tele := telemetry.NewTelemetry(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)

	engine, cleanup, err := buildEngine(ctx, cfg, tele, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions := inmemory.NewInMemorySessionStore()
	server, err := srv.New(srv.Options{
		Engine:      engine,
		Sessions:    sessions,
		SessionTTL:  cfg.Server.SessionTTL,
		JWTSecret:   cfg.Server.JWTSecret,
		CORSOrigins: cfg.Server.CORSOrigins,
		Telemetry:   tele,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, cfg.Server.Address)
	})
	g.Go(func() error {
		sweepSessions(ctx, sessions, cfg.Server.SessionTTL, logger)
		return nil
	})
	return g.Wait()
}

// sweepSessions evicts expired idle sessions until ctx is done.
func sweepSessions(ctx context.Context, store *inmemory.Store, ttl time.Duration, logger *zap.Logger) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.Sweep(now); n > 0 {
				logger.Debug("swept sessions", zap.Int("removed", n), zap.Int("live", store.Len()))
			}
		}
	}
}
