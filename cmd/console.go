package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
	"github.com/VladislavPavlyuk/timeserver/internal/console"
)

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	overrides := config.NewOverrides()

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the time server with an interactive terminal console",
		Long:  "console starts the server and shows its state and sessions. Keys: p changes the port, s starts a stopped server, q stops the server and quits. Logs go to " + consoleLogFile + " unless logging.output names a file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts, overrides)
			if err != nil {
				return err
			}

			logger := initLogger(awayFromTerminal(cfg.Logging, consoleLogFile))
			logStartup(logger, cfg, opts.configPath)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConsole(ctx, wireApp(cfg, logger))
		},
	}

	bindServerFlags(cmd, overrides)
	return cmd
}

// runConsole keeps the console up even when the first bind fails; the
// operator can pick another port from there.
func runConsole(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.logger.Error("Server not started", slog.String("error", err.Error()))
	}

	err := console.Run(ctx, a.udpServer)
	a.shutdown()
	return err
}
