package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavPavlyuk/timeserver/internal/broadcast"
	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
	"github.com/VladislavPavlyuk/timeserver/internal/server"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingDisplay struct {
	mu    sync.Mutex
	times []string
}

func (d *recordingDisplay) UpdateTime(t string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.times = append(d.times, t)
}

func (d *recordingDisplay) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.times...)
}

// fakeServer stands in for the time server
type fakeServer struct {
	conn *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeServer{conn: conn}
}

func (s *fakeServer) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeServer) read(t *testing.T) (string, *net.UDPAddr) {
	t.Helper()
	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, from, err := s.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n]), from
}

func dialTest(t *testing.T, srv string, display Display) *Client {
	t.Helper()
	c, err := Dial(Config{ServerAddress: srv, BindAddress: "127.0.0.1"}, testLogger(), display)
	require.NoError(t, err)
	return c
}

func TestDialSendsConnectFromReceivePort(t *testing.T) {
	srv := newFakeServer(t)
	c := dialTest(t, srv.addr(), &recordingDisplay{})
	defer c.Close()

	msg, from := srv.read(t)
	assert.Equal(t, "CONNECT:"+strconv.Itoa(c.Port()), msg)
	assert.Equal(t, c.Port(), from.Port)
}

func TestRunForwardsTimeToDisplay(t *testing.T) {
	srv := newFakeServer(t)
	display := &recordingDisplay{}
	c := dialTest(t, srv.addr(), display)
	defer c.Close()

	_, clientAddr := srv.read(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	payload, err := protocol.NewTimeMessage(time.Date(2024, 3, 1, 14, 30, 2, 0, time.UTC)).Encode()
	require.NoError(t, err)

	_, err = srv.conn.WriteToUDP([]byte("not json"), clientAddr)
	require.NoError(t, err)
	_, err = srv.conn.WriteToUDP(payload, clientAddr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(display.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"14:30:02"}, display.snapshot())
	assert.Equal(t, uint64(1), c.Received())
}

func TestRunReturnsOnCancel(t *testing.T) {
	srv := newFakeServer(t)
	c := dialTest(t, srv.addr(), &recordingDisplay{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCloseSendsDisconnectAndStopsRun(t *testing.T) {
	srv := newFakeServer(t)
	c := dialTest(t, srv.addr(), &recordingDisplay{})
	srv.read(t)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.NoError(t, c.Close())

	msg, _ := srv.read(t)
	assert.Equal(t, "DISCONNECT:"+strconv.Itoa(c.Port()), msg)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.ErrorIs(t, c.Close(), ErrClosed)
}

func TestDialErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad server address", Config{ServerAddress: "no-port-here"}},
		{"port out of range", Config{ServerAddress: "127.0.0.1:49152", ReceivePort: 70000}},
		{"bad bind address", Config{ServerAddress: "127.0.0.1:49152", BindAddress: "not-an-ip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dial(tt.cfg, testLogger(), &recordingDisplay{})
			assert.Error(t, err)
		})
	}
}

func TestDialOccupiedReceivePort(t *testing.T) {
	occupant, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer occupant.Close()

	_, err = Dial(Config{
		ServerAddress: "127.0.0.1:49152",
		BindAddress:   "127.0.0.1",
		ReceivePort:   occupant.LocalAddr().(*net.UDPAddr).Port,
	}, testLogger(), &recordingDisplay{})
	assert.Error(t, err)
}

func TestTextDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := NewTextDisplay(&buf)
	assert.Equal(t, Placeholder, d.Current())

	d.UpdateTime("09:05:00")
	assert.Equal(t, "09:05:00", d.Current())
	assert.Contains(t, buf.String(), "09:05:00")
	assert.Contains(t, buf.String(), "Server time")
}

func TestClientAgainstServer(t *testing.T) {
	registry := session.NewRegistry(testLogger(), nil, 0)
	srv := server.NewUDPServer(server.Options{
		BindAddress: "127.0.0.1",
		Broadcast:   broadcast.Config{Interval: 20 * time.Millisecond, MaxConcurrentSends: 2},
	}, testLogger(), registry, metrics.NewMetrics(prometheus.NewRegistry()), nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	display := &recordingDisplay{}
	c := dialTest(t, srv.Addr().String(), display)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return len(display.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	for _, shown := range display.snapshot() {
		assert.Len(t, shown, len(protocol.TimeLayout))
	}

	require.NoError(t, c.Close())

	loopback := netip.MustParseAddr("127.0.0.1")
	require.Eventually(t, func() bool {
		s, ok := registry.Lookup(loopback, c.Port())
		return ok && !s.Active
	}, 2*time.Second, 5*time.Millisecond)
}
