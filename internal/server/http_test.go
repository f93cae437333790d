package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavPavlyuk/timeserver/internal/config"
	"github.com/VladislavPavlyuk/timeserver/internal/metrics"
	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
)

func newTestHTTPServer(t *testing.T, udp *UDPServer, feed http.Handler) *HTTPServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0, Gatherer: reg}, testLogger(),
		config.Default(), udp, metrics.NewMetrics(reg), feed)
}

func doRequest(t *testing.T, h *HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthReflectsServerState(t *testing.T) {
	udp := newTestServer(t, 0)
	h := newTestHTTPServer(t, udp, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	require.NoError(t, udp.Start())
	_, body = doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, "healthy", body["status"])

	udpComponent := body["components"].(map[string]interface{})["udp_server"].(map[string]interface{})
	assert.Equal(t, "running", udpComponent["state"])
	assert.Equal(t, float64(udp.Port()), udpComponent["port"])
}

func TestLifecycleEndpoints(t *testing.T) {
	udp := newTestServer(t, 0)
	h := newTestHTTPServer(t, udp, nil)

	rec, body := doRequest(t, h, http.MethodPost, "/server/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["state"])

	// Starting a running server is idempotent over HTTP
	rec, _ = doRequest(t, h, http.MethodPost, "/server/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = doRequest(t, h, http.MethodPost, "/server/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["state"])
	assert.Equal(t, StateStopped, udp.State())
}

func TestLifecycleEndpointsRequirePost(t *testing.T) {
	h := newTestHTTPServer(t, newTestServer(t, 0), nil)

	for _, path := range []string{"/server/start", "/server/stop", "/server/port"} {
		rec, _ := doRequest(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestPortEndpoint(t *testing.T) {
	udp := newTestServer(t, 0)
	require.NoError(t, udp.Start())
	h := newTestHTTPServer(t, udp, nil)

	newPort := freeUDPPort(t)
	rec, body := doRequest(t, h, http.MethodPost, "/server/port", `{"port": `+strconv.Itoa(newPort)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(newPort), body["port"])
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, newPort, udp.Port())
}

func TestPortEndpointRejectsBadInput(t *testing.T) {
	udp := newTestServer(t, 0)
	require.NoError(t, udp.Start())
	h := newTestHTTPServer(t, udp, nil)
	port := udp.Port()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "port=5000"},
		{"missing port", `{}`},
		{"wrong type", `{"port": "abc"}`},
		{"out of range", `{"port": 70000}`},
		{"negative", `{"port": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doRequest(t, h, http.MethodPost, "/server/port", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Equal(t, StateRunning, udp.State())
	assert.Equal(t, port, udp.Port())
}

func TestPortEndpointBindFailure(t *testing.T) {
	udp := newTestServer(t, 0)
	require.NoError(t, udp.Start())
	h := newTestHTTPServer(t, udp, nil)

	occupant, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer occupant.Close()
	busy := occupant.LocalAddr().(*net.UDPAddr).Port

	rec, body := doRequest(t, h, http.MethodPost, "/server/port", `{"port": `+strconv.Itoa(busy)+`}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "stopped", body["state"])
	assert.Equal(t, float64(busy), body["port"])
}

func TestSessionsEndpoint(t *testing.T) {
	udp := newTestServer(t, 0)
	require.NoError(t, udp.Start())
	h := newTestHTTPServer(t, udp, nil)

	active := newTestClient(t)
	active.connect(t, udp)

	gone := newTestClient(t)
	gone.connect(t, udp)
	gone.send(t, udp, protocol.FormatDisconnect(gone.port()))
	require.Eventually(t, func() bool { return udp.Registry().ActiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, body := doRequest(t, h, http.MethodGet, "/sessions", "")
	assert.Equal(t, float64(2), body["total_sessions"])

	_, body = doRequest(t, h, http.MethodGet, "/sessions?active=true", "")
	assert.Equal(t, float64(1), body["total_sessions"])

	sessions := body["sessions"].([]interface{})
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, "127.0.0.1", first["address"])
	assert.Equal(t, float64(active.port()), first["receive_port"])
	assert.Equal(t, true, first["active"])
	assert.NotEmpty(t, first["id"])
}

func TestStatsAndConfigEndpoints(t *testing.T) {
	udp := newTestServer(t, 0)
	require.NoError(t, udp.Start())
	h := newTestHTTPServer(t, udp, nil)

	rec, body := doRequest(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["udp"].(map[string]interface{})
	assert.Equal(t, "running", stats["state"])
	assert.Contains(t, stats, "datagrams_received")

	rec, body = doRequest(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	server := body["server"].(map[string]interface{})
	assert.Equal(t, float64(udp.Port()), server["udp_port"])
	assert.Equal(t, float64(config.DefaultClientPort), server["default_client_port"])
}

func TestRootAndNotFound(t *testing.T) {
	h := newTestHTTPServer(t, newTestServer(t, 0), nil)

	rec, body := doRequest(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UDP Time Server", body["service"])

	rec, _ = doRequest(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedMountedOnWS(t *testing.T) {
	called := false
	feed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	h := newTestHTTPServer(t, newTestServer(t, 0), feed)

	rec, _ := doRequest(t, h, http.MethodGet, "/ws", "")
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetricsEndpointServesGatherer(t *testing.T) {
	udp := newTestServer(t, 0)
	h := newTestHTTPServer(t, udp, nil)

	// Produce at least one HTTP request sample
	doRequest(t, h, http.MethodGet, "/health", "")

	rec, _ := doRequest(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStartServesOnBoundAddress(t *testing.T) {
	h := newTestHTTPServer(t, newTestServer(t, 0), nil)
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Stop(context.Background()) })

	require.NotNil(t, h.Addr())
	resp, err := http.Get("http://" + h.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartReportsOccupiedAddress(t *testing.T) {
	occupant, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupant.Close()
	busy := occupant.Addr().(*net.TCPAddr).Port

	reg := prometheus.NewRegistry()
	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: busy, Gatherer: reg}, testLogger(),
		config.Default(), newTestServer(t, 0), metrics.NewMetrics(reg), nil)

	err = h.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.Nil(t, h.Addr())
}
