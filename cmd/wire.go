package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
	"github.com/VladislavPavlyuk/timeserver/internal/display"
	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/server"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	config     *config.Config
	logger     *slog.Logger
	registry   *session.Registry
	hub        *display.Hub
	udpServer  *server.UDPServer
	httpServer *server.HTTPServer
}

func wireApp(cfg *config.Config, logger *slog.Logger) *app {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)

	var resolver session.Resolver
	if cfg.Registry.ReverseDNS {
		resolver = net.DefaultResolver
	}
	registry := session.NewRegistry(logger, resolver, cfg.Registry.GetResolveTimeoutDuration())

	hub := display.NewHub(logger)
	udpServer := server.NewUDPServer(server.OptionsFromConfig(cfg), logger, registry, appMetrics, hub)

	a := &app{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		hub:       hub,
		udpServer: udpServer,
	}

	if cfg.HTTP.Enabled {
		a.httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:     cfg.HTTP.Port,
			Address:  cfg.HTTP.Address,
			Gatherer: reg,
		}, logger, cfg, udpServer, appMetrics, hub)
	}

	return a
}

// start launches the display hub, the admin API and the UDP server. The hub
// runs until ctx is cancelled.
func (a *app) start(ctx context.Context) error {
	go a.hub.Run(ctx)

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start HTTP server: %w", err)
		}
	}

	if err := a.udpServer.Start(); err != nil {
		return fmt.Errorf("start UDP server: %w", err)
	}
	return nil
}

// shutdown stops the admin API first, then the UDP server, and logs the
// final counters.
func (a *app) shutdown() {
	a.logger.Info("Starting graceful shutdown...")

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := a.udpServer.Stop(); err != nil {
		a.logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := a.udpServer.GetStatistics()
	a.logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("connects", stats.Connects),
		slog.Uint64("disconnects", stats.Disconnects),
		slog.Uint64("ticks", stats.Ticks),
		slog.Uint64("sends_failed", stats.SendsFailed),
	)

	a.logger.Info("Service stopped")
}

// logStartup logs the service banner and a configuration summary
func logStartup(logger *slog.Logger, cfg *config.Config, configPath string) {
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.Int("default_client_port", cfg.Server.DefaultClientPort),
		slog.Duration("broadcast_interval", cfg.Broadcast.GetIntervalDuration()),
		slog.Int("max_concurrent_sends", cfg.Broadcast.MaxConcurrentSends),
		slog.Bool("reverse_dns", cfg.Registry.ReverseDNS),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)
}
