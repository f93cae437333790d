package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VladislavPavlyuk/timeserver/internal/client"
	"github.com/VladislavPavlyuk/timeserver/internal/config"
)

type clientOptions struct {
	server      string
	port        int
	bindAddress string
	logLevel    string
}

func newClientCmd(opts *rootOptions) *cobra.Command {
	clientOpts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Subscribe to a time server and print every broadcast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd, opts, clientOpts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&clientOpts.server, "server", fmt.Sprintf("127.0.0.1:%d", config.DefaultUDPPort), "Time server address (host:port)")
	flags.IntVar(&clientOpts.port, "port", config.DefaultClientPort, "Local port to receive broadcasts on")
	flags.StringVar(&clientOpts.bindAddress, "bind", "", "Local address to bind (default: all interfaces)")
	flags.StringVar(&clientOpts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

func runClient(cmd *cobra.Command, opts *rootOptions, clientOpts *clientOptions) error {
	cfg, err := loadConfig(cmd, opts, config.NewOverrides())
	if err != nil {
		return err
	}

	// stdout belongs to the display
	logging := cfg.Logging
	if logging.Output == "stdout" || logging.Output == "" {
		logging.Output = "stderr"
	}
	if clientOpts.logLevel != "" {
		logging.Level = clientOpts.logLevel
	}
	logger := initLogger(logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(client.Config{
		ServerAddress: clientOpts.server,
		ReceivePort:   clientOpts.port,
		BindAddress:   clientOpts.bindAddress,
		BufferSize:    cfg.Server.BufferSize,
	}, logger, client.NewTextDisplay(cmd.OutOrStdout()))
	if err != nil {
		return err
	}

	runErr := c.Run(ctx)
	if err := c.Close(); err != nil {
		return err
	}
	return runErr
}
