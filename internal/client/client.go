package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
)

// ErrClosed is returned by Close on a client that was already closed
var ErrClosed = errors.New("client closed")

// Display shows the most recent time received from the server
type Display interface {
	UpdateTime(t string)
}

// Config contains client configuration
type Config struct {
	// ServerAddress is the server's host:port
	ServerAddress string
	// ReceivePort is the local port broadcasts arrive on; 0 picks an ephemeral one
	ReceivePort int
	BindAddress string
	BufferSize  int
}

// Client subscribes to a time server and forwards every broadcast to a Display
type Client struct {
	config  Config
	logger  *slog.Logger
	display Display

	conn   *net.UDPConn
	server *net.UDPAddr
	port   int

	mu     sync.Mutex
	closed bool

	received atomic.Uint64
}

// Dial binds the receive port and sends CONNECT:<port> to the server from
// that socket.
func Dial(cfg Config, logger *slog.Logger, display Display) (*Client, error) {
	if cfg.ReceivePort < 0 || cfg.ReceivePort > 65535 {
		return nil, fmt.Errorf("receive port must be between 0 and 65535, got %d", cfg.ReceivePort)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	server, err := net.ResolveUDPAddr("udp", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server address: %w", err)
	}

	local := &net.UDPAddr{Port: cfg.ReceivePort}
	if cfg.BindAddress != "" {
		local.IP = net.ParseIP(cfg.BindAddress)
		if local.IP == nil {
			return nil, fmt.Errorf("invalid bind address %q", cfg.BindAddress)
		}
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind receive port %d: %w", cfg.ReceivePort, err)
	}

	c := &Client{
		config:  cfg,
		logger:  logger,
		display: display,
		conn:    conn,
		server:  server,
		port:    conn.LocalAddr().(*net.UDPAddr).Port,
	}

	if _, err := conn.WriteToUDP(protocol.FormatConnect(c.port), server); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send connect: %w", err)
	}

	logger.Info("Connected to time server",
		slog.String("server", server.String()),
		slog.Int("receive_port", c.port),
	)
	return c, nil
}

// Port returns the bound receive port
func (c *Client) Port() int {
	return c.port
}

// Received returns the number of time payloads shown so far
func (c *Client) Received() uint64 {
	return c.received.Load()
}

// Run receives broadcasts until ctx is cancelled or the client is closed.
// Both are a normal exit and return nil.
func (c *Client) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)

	// Unblock the pending read on cancel
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buffer := make([]byte, c.config.BufferSize)
	for {
		n, from, err := c.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Warn("Error receiving time", slog.String("error", err.Error()))
			continue
		}

		msg, err := protocol.DecodeTimeMessage(buffer[:n])
		if err != nil {
			c.logger.Debug("Ignoring malformed payload",
				slog.String("from", from.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.received.Add(1)
		c.display.UpdateTime(msg.Time)
	}
}

// Close sends DISCONNECT:<port> and releases the socket. A failed disconnect
// send is logged; the socket is closed regardless.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.closed = true

	if _, err := c.conn.WriteToUDP(protocol.FormatDisconnect(c.port), c.server); err != nil {
		c.logger.Warn("Failed to send disconnect", slog.String("error", err.Error()))
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close socket: %w", err)
	}

	c.logger.Info("Disconnected from time server",
		slog.String("server", c.server.String()),
		slog.Uint64("received", c.received.Load()),
	)
	return nil
}
