package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring and administration
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	addr      net.Addr
	logger    *slog.Logger
	config    *config.Config
	udpServer *UDPServer
	metrics   *metrics.Metrics

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
	// Gatherer backs /metrics; nil serves the default registry
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server. feed serves the /ws display
// stream and may be nil.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, udpServer *UDPServer, m *metrics.Metrics, feed http.Handler) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		udpServer: udpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, cfg.Gatherer, feed)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer, feed http.Handler) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Lifecycle control
	mux.HandleFunc("/server/start", h.withMetrics("/server/start", h.handleStart))
	mux.HandleFunc("/server/stop", h.withMetrics("/server/stop", h.handleStop))
	mux.HandleFunc("/server/port", h.withMetrics("/server/port", h.handlePort))

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if feed != nil {
		mux.Handle("/ws", feed)
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler (used by tests and embedding)
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start binds the listen address and serves in the background.
// A bind failure is returned to the caller.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.addr = listener.Addr()

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound listen address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	return h.addr
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.udpServer.State()
	status := "healthy"
	if state != StateRunning {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"state":           state.String(),
				"port":            h.udpServer.Port(),
				"active_sessions": h.udpServer.Registry().ActiveCount(),
			},
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpServer.GetStatistics(),
	})
}

// handleSessions implements the /sessions endpoint; ?active=true lists only active sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sessions []session.Session
	if r.URL.Query().Get("active") == "true" {
		sessions = h.udpServer.Registry().SnapshotActive()
	} else {
		sessions = h.udpServer.Registry().Sessions()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":            h.udpServer.Port(),
			"bind_address":        h.config.Server.BindAddress,
			"buffer_size":         h.config.Server.BufferSize,
			"default_client_port": h.config.Server.DefaultClientPort,
		},
		"broadcast": map[string]interface{}{
			"interval":             h.config.Broadcast.Interval,
			"max_concurrent_sends": h.config.Broadcast.MaxConcurrentSends,
		},
		"registry": map[string]interface{}{
			"reverse_dns":     h.config.Registry.ReverseDNS,
			"resolve_timeout": h.config.Registry.ResolveTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStart implements POST /server/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.udpServer.State() == StateRunning {
		h.writeState(w, http.StatusOK)
		return
	}

	if err := h.udpServer.Start(); err != nil {
		h.logger.Error("Failed to start server from admin API", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

// handleStop implements POST /server/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.udpServer.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

type portRequest struct {
	Port *int `json:"port"`
}

// handlePort implements POST /server/port with body {"port": N}
func (h *HTTPServer) handlePort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req portRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Port == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"port\": <number>}"))
		return
	}

	err := h.udpServer.Reconfigure(*req.Port)
	switch {
	case errors.Is(err, ErrInvalidPort):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		h.logger.Error("Failed to change server port", slog.Int("port", *req.Port), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
			"state": h.udpServer.State().String(),
			"port":  h.udpServer.Port(),
		})
	default:
		h.writeState(w, http.StatusOK)
	}
}

func (h *HTTPServer) writeState(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]interface{}{
		"state": h.udpServer.State().String(),
		"port":  h.udpServer.Port(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "UDP Time Server",
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /stats":                 "Server statistics",
			"GET /sessions[?active=true]": "Client sessions",
			"GET /config":                "Service configuration",
			"POST /server/start":         "Start a stopped server",
			"POST /server/stop":          "Stop the server and clear all sessions",
			"POST /server/port":          "Move the server to {\"port\": N}",
			"GET /ws":                    "WebSocket feed of broadcast ticks",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
