package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/config"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/stream"
)

// runCMD executes one research turn and writes the event stream to stdout.
func runCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <query>",
		Short: "Run a single research query and stream events to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.RequireCredentials(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.General)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tele := telemetry.NewTelemetry(telemetry.Config{Enabled: false}, logger)
			engine, cleanup, err := buildEngine(ctx, cfg, tele, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			st := engine.NewState(strings.Join(args, " "))
			err = stream.Run(ctx, engine, st, stream.WriterSink(cmd.OutOrStdout(), nil), logger)
			logger.Info("run finished",
				zap.String("run_id", st.RunID),
				zap.String("outcome", st.SupervisorDecision.String()),
				zap.Int("steps", st.StepCount),
			)
			return err
		},
	}
}
