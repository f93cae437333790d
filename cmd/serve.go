package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	overrides := config.NewOverrides()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the time server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts, overrides)
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Logging)
			logStartup(logger, cfg, opts.configPath)

			return runServe(cmd.Context(), wireApp(cfg, logger))
		},
	}

	bindServerFlags(cmd, overrides)
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.logger.Error("Failed to start service", slog.String("error", err.Error()))
		a.shutdown()
		return err
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a.logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", a.udpServer.Addr().String()),
	)

	select {
	case sig := <-sigChan:
		a.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Context cancelled, shutting down")
	}

	a.shutdown()
	return nil
}
