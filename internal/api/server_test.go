package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine/enginetest"
	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

type testEnv struct {
	handler  http.Handler
	launcher *enginetest.Launcher
	sessions *session.Manager
	gateway  *gateway.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestEnv(t *testing.T, metrics http.Handler) *testEnv {
	return newTestEnvWith(t, Deps{Metrics: metrics})
}

// newTestEnvWith fills in sessions, executor and gateway around deps
func newTestEnvWith(t *testing.T, deps Deps) *testEnv {
	t.Helper()
	logger := discardLogger()

	launcher := enginetest.NewLauncher()
	sessions := session.NewManager(launcher, session.Options{Logger: logger})
	t.Cleanup(sessions.Close)

	gw := gateway.NewManager(gateway.Options{
		Config:           gateway.ServerConfig{Port: freePort(t)},
		Host:             "127.0.0.1",
		HandshakeTimeout: 2 * time.Second,
		Info:             mcp.Implementation{Name: "browser-gateway", Version: "test"},
		Logger:           logger,
	})
	t.Cleanup(func() { _ = gw.Close() })

	deps.Sessions = sessions
	deps.Executor = session.NewExecutor(sessions, 5*time.Second)
	deps.Gateway = gw
	srv := NewServer("0", deps, logger)

	return &testEnv{handler: srv.Handler(), launcher: launcher, sessions: sessions, gateway: gw}
}

// do sends a request and decodes a JSON response into out when out is non-nil
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestCreateSessionRequiresName(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/browser/sessions", CreateSessionRequest{Name: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidRequest, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/browser/sessions", `{"name":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, env.sessions.Count())
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	var created session.Session
	rec := env.do(t, http.MethodPost, "/api/browser/sessions", CreateSessionRequest{
		Name:     "Main",
		Metadata: map[string]string{"owner": "tests"},
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, session.StatusClosed, created.Status)
	assert.Equal(t, "tests", created.Metadata["owner"])

	var list ListSessionsResponse
	env.do(t, http.MethodGet, "/api/browser/sessions", nil, &list)
	assert.Equal(t, 1, list.Count)

	base := "/api/browser/sessions/" + created.ID

	var started session.Session
	rec = env.do(t, http.MethodPost, base+"/start", nil, &started)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusActive, started.Status)
	assert.Equal(t, 1, env.launcher.Launched())

	env.launcher.LastPage().SetTitle("https://example.com", "Example")

	var nav session.ActionResponse
	rec = env.do(t, http.MethodPost, base+"/navigate", NavigateRequest{URL: "https://example.com"}, &nav)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, nav.Success, nav.Error)
	assert.Equal(t, "Example", nav.Data["title"])

	var content session.ActionResponse
	env.do(t, http.MethodGet, base+"/content", nil, &content)
	require.True(t, content.Success, content.Error)
	assert.Equal(t, "https://example.com", content.Data["url"])

	var shot session.ActionResponse
	env.do(t, http.MethodPost, base+"/screenshot", nil, &shot)
	require.True(t, shot.Success, shot.Error)
	assert.Equal(t, "png", shot.Data["format"])

	var got session.Session
	env.do(t, http.MethodGet, base, nil, &got)
	assert.Equal(t, "https://example.com", got.CurrentURL)

	var stopped session.Session
	rec = env.do(t, http.MethodPost, base+"/stop", nil, &stopped)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusClosed, stopped.Status)
	assert.Equal(t, 0, env.launcher.Open())

	rec = env.do(t, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeSessionNotFound, errorCode(t, rec))
}

func TestExecuteAction(t *testing.T) {
	env := newTestEnv(t, nil)

	created := env.sessions.Create("s1", "", nil, nil)
	base := "/api/browser/sessions/" + created.ID

	// A closed session is a failed action, not an HTTP error
	var resp session.ActionResponse
	rec := env.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "get_title"}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	_, ok := env.sessions.Start(t.Context(), created.ID)
	require.True(t, ok)
	env.launcher.LastPage().SetResult("1 + 1", float64(2))

	resp = session.ActionResponse{}
	env.do(t, http.MethodPost, base+"/execute", ExecuteJSRequest{Script: "1 + 1"}, &resp)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, float64(2), resp.Data["result"])

	// Action names are matched loosely
	resp = session.ActionResponse{}
	env.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "GetTitle"}, &resp)
	assert.True(t, resp.Success, resp.Error)

	resp = session.ActionResponse{}
	env.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "fly"}, &resp)
	assert.False(t, resp.Success)

	rec = env.do(t, http.MethodPost, base+"/actions", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/navigate", NavigateRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionOnUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/actions", "/navigate", "/execute", "/screenshot", "/start", "/stop"} {
		rec := env.do(t, http.MethodPost, "/api/browser/sessions/sess_missing"+path,
			map[string]any{"action": "get_title", "url": "https://example.com", "script": "1"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, ErrCodeSessionNotFound, errorCode(t, rec), path)
	}

	rec := env.do(t, http.MethodDelete, "/api/browser/sessions/sess_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	var cfg gateway.ServerConfig
	env.do(t, http.MethodGet, "/api/mcp/server/config", nil, &cfg)
	assert.False(t, cfg.IsEnabled)
	assert.Equal(t, gateway.DefaultCapabilities, cfg.Capabilities)

	rec := env.do(t, http.MethodPut, "/api/mcp/server/config", gateway.ServerConfig{Port: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidRequest, errorCode(t, rec))

	port := freePort(t)
	rec = env.do(t, http.MethodPut, "/api/mcp/server/config", gateway.ServerConfig{Port: port, Capabilities: []string{"tools"}}, &cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, port, cfg.Port)
	assert.Equal(t, []string{"tools"}, cfg.Capabilities)

	rec = env.do(t, http.MethodPost, "/api/mcp/server/start", nil, &cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cfg.IsEnabled)

	var health HealthResponse
	env.do(t, http.MethodGet, "/healthz", nil, &health)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.MCPListening)

	// Reconfiguring a running listener conflicts
	rec = env.do(t, http.MethodPut, "/api/mcp/server/config", gateway.ServerConfig{Port: port}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ErrCodeConflict, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/mcp/server/stop", nil, &cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, cfg.IsEnabled)
}

func TestConnectionsCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/mcp/connections", gateway.ConnectionSpec{Name: "peer", URI: "http://example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var c gateway.Connection
	rec = env.do(t, http.MethodPost, "/api/mcp/connections", gateway.ConnectionSpec{Name: "peer", URI: "mcp://127.0.0.1:4100"}, &c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, gateway.StatusDisconnected, c.Status)
	assert.Equal(t, gateway.TypeClient, c.Type)

	path := "/api/mcp/connections/" + c.ID

	rec = env.do(t, http.MethodPut, path, gateway.ConnectionSpec{Name: "renamed", URI: "mcp://127.0.0.1:4200"}, &c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", c.Name)

	var list ListConnectionsResponse
	env.do(t, http.MethodGet, "/api/mcp/connections", nil, &list)
	assert.Equal(t, 1, list.Count)

	rec = env.do(t, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, path+"/connect", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectUnreachablePeer(t *testing.T) {
	env := newTestEnv(t, nil)

	c, err := env.gateway.CreateConnection(gateway.ConnectionSpec{
		Name: "nobody",
		URI:  fmt.Sprintf("mcp://127.0.0.1:%d", freePort(t)),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/mcp/connections/"+c.ID+"/connect", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ErrCodeResourceFault, errorCode(t, rec))

	got, ok := env.gateway.GetConnection(c.ID)
	require.True(t, ok)
	assert.Equal(t, gateway.StatusError, got.Status)
}

func TestConnectToPeer(t *testing.T) {
	env := newTestEnv(t, nil)

	peer := gateway.NewManager(gateway.Options{
		Config: gateway.ServerConfig{Port: freePort(t)},
		Host:   "127.0.0.1",
		Info:   mcp.Implementation{Name: "peer", Version: "test"},
		Logger: discardLogger(),
	})
	require.NoError(t, peer.StartListening())
	t.Cleanup(func() { _ = peer.Close() })

	c, err := env.gateway.CreateConnection(gateway.ConnectionSpec{
		Name: "peer",
		URI:  fmt.Sprintf("mcp://127.0.0.1:%d", peer.Config().Port),
	})
	require.NoError(t, err)
	path := "/api/mcp/connections/" + c.ID

	rec := env.do(t, http.MethodPost, path+"/connect", nil, &c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, gateway.StatusConnected, c.Status)
	assert.NotNil(t, c.LastConnected)

	rec = env.do(t, http.MethodPost, path+"/connect", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, path+"/disconnect", nil, &c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gateway.StatusDisconnected, c.Status)
}

func TestMessages(t *testing.T) {
	env := newTestEnv(t, nil)

	c, err := env.gateway.CreateConnection(gateway.ConnectionSpec{Name: "peer", URI: "mcp://127.0.0.1:4100"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/mcp/messages", map[string]any{"connectionId": c.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "method is required")

	rec = env.do(t, http.MethodPost, "/api/mcp/messages", map[string]any{"connectionId": "missing", "method": "ping"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var sent gateway.Message
	rec = env.do(t, http.MethodPost, "/api/mcp/messages", map[string]any{
		"connectionId": c.ID,
		"method":       "chat",
		"type":         "request",
		"content":      map[string]string{"text": "hello"},
	}, &sent)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, gateway.TypeRequest, sent.Type)
	assert.Equal(t, gateway.Outbound, sent.Direction)

	var list ListMessagesResponse
	env.do(t, http.MethodGet, "/api/mcp/messages?connectionId="+c.ID+"&limit=10", nil, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, sent.ID, list.Messages[0].ID)

	env.do(t, http.MethodGet, "/api/mcp/messages?connectionId=other", nil, &list)
	assert.Equal(t, 0, list.Count)

	rec = env.do(t, http.MethodGet, "/api/mcp/messages?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/mcp/messages?limit=5000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, nil)

	var resp ToolsResponse
	rec := env.do(t, http.MethodGet, "/api/mcp/tools", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Tools, len(gateway.DefaultTools()))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/browser/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "api_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	env := newTestEnv(t, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_test_total 1")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, errorCode(t, rec))
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	handler := LoggingMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTeapot, "TEAPOT", "short and stout")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "TEAPOT", errorCode(t, rec))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReportsRedis(t *testing.T) {
	var down bool
	env := newTestEnvWith(t, Deps{Redis: pingerFunc(func(context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	})})

	var health HealthResponse
	rec := env.do(t, http.MethodGet, "/healthz", nil, &health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health.Redis)

	down = true
	health = HealthResponse{}
	rec = env.do(t, http.MethodGet, "/healthz", nil, &health)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Redis)
}
