package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VladislavPavlyuk/timeserver/internal/broadcast"
	"github.com/VladislavPavlyuk/timeserver/internal/config"
	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

// receiveErrorBackoff paces the receive loop when reads keep failing
const receiveErrorBackoff = 100 * time.Millisecond

// ErrInvalidPort is returned when a start or reconfigure names a port outside 0..65535.
// Port 0 binds an ephemeral port.
var ErrInvalidPort = errors.New("port must be between 0 and 65535")

// Options holds everything the UDP server needs besides its collaborators
type Options struct {
	BindAddress       string
	Port              int
	BufferSize        int
	DefaultClientPort int
	Broadcast         broadcast.Config
}

// OptionsFromConfig maps the service configuration onto server options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BindAddress:       cfg.Server.BindAddress,
		Port:              cfg.Server.UDPPort,
		BufferSize:        cfg.Server.BufferSize,
		DefaultClientPort: cfg.Server.DefaultClientPort,
		Broadcast: broadcast.Config{
			Interval:           cfg.Broadcast.GetIntervalDuration(),
			MaxConcurrentSends: cfg.Broadcast.MaxConcurrentSends,
		},
	}
}

// UDPServer receives CONNECT/DISCONNECT datagrams and broadcasts the time
// to registered clients. It can be stopped, restarted and moved to another port.
type UDPServer struct {
	opts     Options
	logger   *slog.Logger
	registry *session.Registry
	metrics  *metrics.Metrics
	feed     broadcast.Feed

	// Lifecycle, serialised by lifecycleMu
	lifecycleMu   sync.Mutex
	state         atomic.Int32
	conn          *net.UDPConn
	cancel        context.CancelFunc
	receiverDone  chan struct{}
	broadcastDone chan struct{}
	startedAt     time.Time

	// Counters
	datagramsReceived atomic.Uint64
	connects          atomic.Uint64
	reconnects        atomic.Uint64
	disconnects       atomic.Uint64
	ignored           atomic.Uint64
	receiveErrors     atomic.Uint64
	ticks             atomic.Uint64
	sendsOK           atomic.Uint64
	sendsFailed       atomic.Uint64
}

// NewUDPServer creates a stopped server. feed may be nil.
func NewUDPServer(opts Options, logger *slog.Logger, registry *session.Registry, m *metrics.Metrics, feed broadcast.Feed) *UDPServer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.DefaultClientPort == 0 {
		opts.DefaultClientPort = config.DefaultClientPort
	}

	s := &UDPServer{
		opts:     opts,
		logger:   logger,
		registry: registry,
		metrics:  m,
		feed:     feed,
	}
	s.setState(StateStopped)
	return s
}

// Start binds the UDP socket and launches the receiver and the broadcaster.
// On bind failure the server stays Stopped.
func (s *UDPServer) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.startLocked()
}

func (s *UDPServer) startLocked() error {
	if s.State() != StateStopped {
		return fmt.Errorf("cannot start server in state %s", s.State())
	}
	if !validPort(s.opts.Port) {
		return fmt.Errorf("%w, got %d", ErrInvalidPort, s.opts.Port)
	}

	s.setState(StateStarting)

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.opts.BindAddress, s.opts.Port))
	if err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Pin the actual port so a restart reuses it
	s.opts.Port = conn.LocalAddr().(*net.UDPAddr).Port
	s.conn = conn
	s.cancel = cancel
	s.receiverDone = make(chan struct{})
	s.broadcastDone = make(chan struct{})
	s.startedAt = time.Now()

	b := broadcast.New(s.opts.Broadcast, s.logger, s.registry, conn, s.metrics, s.feed)

	go func() {
		defer close(s.receiverDone)
		s.receiveLoop(ctx, conn)
	}()

	go func() {
		defer close(s.broadcastDone)
		b.Run(ctx, s.recordTick)
	}()

	s.setState(StateRunning)

	s.logger.Info("Server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Duration("broadcast_interval", s.opts.Broadcast.Interval),
	)
	return nil
}

// Stop halts the broadcaster, closes the socket, waits for the receiver and
// then clears the registry. Stopping a stopped server is a no-op.
func (s *UDPServer) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopLocked()
}

func (s *UDPServer) stopLocked() error {
	if s.State() != StateRunning {
		return nil
	}

	s.setState(StateStopping)
	s.logger.Info("Stopping server...")

	// No new ticks once the broadcaster goroutine has returned
	s.cancel()
	<-s.broadcastDone

	var closeErr error
	if err := s.conn.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close UDP socket: %w", err)
		s.logger.Warn("Error closing UDP socket", slog.String("error", err.Error()))
	}
	<-s.receiverDone

	cleared := s.registry.ClearAll()
	s.metrics.RecordSessionsCleared(len(cleared))
	s.metrics.SetActiveSessions(0)

	s.conn = nil
	s.cancel = nil
	s.setState(StateStopped)

	s.logger.Info("Server stopped",
		slog.Int("port", s.opts.Port),
		slog.Int("sessions_cleared", len(cleared)),
		slog.Uint64("datagrams_received", s.datagramsReceived.Load()),
		slog.Uint64("ticks", s.ticks.Load()),
	)
	return closeErr
}

// Reconfigure moves the server to port. A running server is stopped (clearing
// every session) and started again on the new port; a stopped server only
// records the new port. If the new bind fails the server stays Stopped.
func (s *UDPServer) Reconfigure(port int) error {
	if !validPort(port) {
		return fmt.Errorf("%w, got %d", ErrInvalidPort, port)
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	wasRunning := s.State() == StateRunning
	oldPort := s.opts.Port

	if err := s.stopLocked(); err != nil {
		s.logger.Warn("Error during stop for port change", slog.String("error", err.Error()))
	}

	s.opts.Port = port
	s.metrics.RecordPortChange()
	s.logger.Info("Server port changed", slog.Int("old_port", oldPort), slog.Int("new_port", port))

	if !wasRunning {
		return nil
	}
	return s.startLocked()
}

// State returns the current lifecycle state
func (s *UDPServer) State() State {
	return State(s.state.Load())
}

func (s *UDPServer) setState(state State) {
	s.state.Store(int32(state))
	s.metrics.SetServerState(state.String(), stateNames())
}

// Port returns the configured listen port
func (s *UDPServer) Port() int {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.opts.Port
}

// Addr returns the bound socket address, or nil when not running
func (s *UDPServer) Addr() *net.UDPAddr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Registry returns the session registry shared by the receiver and the broadcaster
func (s *UDPServer) Registry() *session.Registry {
	return s.registry
}

// Sessions returns every known session in registration order
func (s *UDPServer) Sessions() []session.Session {
	return s.registry.Sessions()
}

// recordTick folds one broadcast tick into the server counters
func (s *UDPServer) recordTick(result broadcast.TickResult) {
	s.ticks.Add(1)
	s.sendsOK.Add(uint64(len(result.Results) - result.Failures))
	s.sendsFailed.Add(uint64(result.Failures))
}

// receiveLoop reads control datagrams until the socket is closed
func (s *UDPServer) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	buffer := make([]byte, s.opts.BufferSize)

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Debug("Receive loop stopping, socket closed")
				return
			}

			s.receiveErrors.Add(1)
			s.metrics.RecordReceiveError()
			s.logger.Error("Error receiving message", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		s.datagramsReceived.Add(1)
		s.handleDatagram(ctx, buffer[:n], remoteAddr)
	}
}

// handleDatagram applies one control message to the registry
func (s *UDPServer) handleDatagram(ctx context.Context, data []byte, remoteAddr *net.UDPAddr) {
	msg := protocol.ParseControlMessage(data, s.opts.DefaultClientPort)
	s.metrics.RecordDatagram(msg.Command.String())

	addr := remoteAddr.AddrPort().Addr()

	switch msg.Command {
	case protocol.CommandConnect:
		_, outcome := s.registry.Register(ctx, addr, msg.Port)
		switch outcome {
		case session.OutcomeCreated:
			s.connects.Add(1)
			s.metrics.RecordSessionEvent("created")
		case session.OutcomeReconnected:
			s.reconnects.Add(1)
			s.metrics.RecordSessionEvent("reconnected")
		}

	case protocol.CommandDisconnect:
		if _, ok := s.registry.Deregister(addr, msg.Port); ok {
			s.disconnects.Add(1)
			s.metrics.RecordSessionEvent("disconnected")
		}

	default:
		s.ignored.Add(1)
		s.logger.Debug("Ignoring unknown datagram",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("size", len(data)),
		)
		return
	}

	s.metrics.SetActiveSessions(s.registry.ActiveCount())
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	stats := ServerStatistics{
		State:             s.State().String(),
		Port:              s.Port(),
		DatagramsReceived: s.datagramsReceived.Load(),
		Connects:          s.connects.Load(),
		Reconnects:        s.reconnects.Load(),
		Disconnects:       s.disconnects.Load(),
		Ignored:           s.ignored.Load(),
		ReceiveErrors:     s.receiveErrors.Load(),
		Ticks:             s.ticks.Load(),
		SendsOK:           s.sendsOK.Load(),
		SendsFailed:       s.sendsFailed.Load(),
		ActiveSessions:    uint64(s.registry.ActiveCount()),
		KnownSessions:     uint64(s.registry.Len()),
	}

	s.lifecycleMu.Lock()
	if s.State() == StateRunning {
		stats.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	s.lifecycleMu.Unlock()

	return stats
}

// ServerStatistics represents server counters since process start
type ServerStatistics struct {
	State             string `json:"state"`
	Port              int    `json:"port"`
	Uptime            string `json:"uptime,omitempty"`
	DatagramsReceived uint64 `json:"datagrams_received"`
	Connects          uint64 `json:"connects"`
	Reconnects        uint64 `json:"reconnects"`
	Disconnects       uint64 `json:"disconnects"`
	Ignored           uint64 `json:"ignored"`
	ReceiveErrors     uint64 `json:"receive_errors"`
	Ticks             uint64 `json:"ticks"`
	SendsOK           uint64 `json:"sends_ok"`
	SendsFailed       uint64 `json:"sends_failed"`
	ActiveSessions    uint64 `json:"active_sessions"`
	KnownSessions     uint64 `json:"known_sessions"`
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}
