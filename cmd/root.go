package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "UDP time server: clients subscribe and receive the time every few seconds",
		Long:          "timeserver runs a UDP service that accepts CONNECT:<port> / DISCONNECT:<port> control datagrams and broadcasts the current time to every subscribed client. It also ships an interactive console and a reference client.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file (YAML or TOML)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newConsoleCmd(opts),
		newClientCmd(opts),
	)

	return rootCmd
}

// loadConfig reads the config file, then layers environment variables and
// flags bound to overrides on top. A missing file at the default path is not
// an error.
func loadConfig(cmd *cobra.Command, opts *rootOptions, overrides *viper.Viper) (*config.Config, error) {
	explicit := false
	if f := cmd.Flag("config"); f != nil {
		explicit = f.Changed
	}

	cfg, err := config.LoadOrDefault(opts.configPath, explicit)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	return cfg, nil
}

// bindServerFlags registers the flags shared by serve and console and binds
// them to their override keys.
func bindServerFlags(cmd *cobra.Command, overrides *viper.Viper) {
	flags := cmd.Flags()
	flags.Int("port", config.DefaultUDPPort, "UDP port to listen on")
	flags.String("bind", "0.0.0.0", "Address to bind the UDP socket to")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Bool("http", false, "Enable the HTTP admin API")
	flags.Int("http-port", 8080, "HTTP admin API port")

	bindings := []struct {
		key  string
		flag string
	}{
		{config.KeyPort, "port"},
		{config.KeyBindAddress, "bind"},
		{config.KeyLogLevel, "log-level"},
		{config.KeyLogFormat, "log-format"},
		{config.KeyHTTPEnabled, "http"},
		{config.KeyHTTPPort, "http-port"},
	}
	for _, b := range bindings {
		cobra.CheckErr(overrides.BindPFlag(b.key, flags.Lookup(b.flag)))
	}
}
