package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/tunnelguard/internal/daemon"
	"github.com/user/tunnelguard/internal/engine"
	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/netmon"
	"github.com/user/tunnelguard/internal/reconnect"
	"github.com/user/tunnelguard/internal/stats"
)

type stubEngine struct{ running bool }

func (s *stubEngine) IsRunning() bool { return s.running }

func (s *stubEngine) Uptime() time.Duration { return time.Minute }

func (s *stubEngine) Counters(ctx context.Context) (engine.Counters, error) {
	return engine.Counters{BytesReceived: 1000, BytesSent: 200}, nil
}

func (s *stubEngine) Start(configJSON string) bool { return true }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	em := event.NewEmitter()
	eng := &stubEngine{running: true}

	enumerate := func() ([]model.InterfaceInfo, error) {
		return []model.InterfaceInfo{
			{Name: "wlan0", Connected: true, HasInternet: true, IsWifi: true, IPAddress: "192.168.1.5"},
		}, nil
	}
	network := netmon.NewMonitor(enumerate, time.Hour, func(ctx context.Context) bool { return true }, em)
	network.Start()
	t.Cleanup(network.Stop)

	reconnector := reconnect.NewEngine(eng, reconnect.DefaultPolicy(), em)
	checker := netmon.NewChecker(eng, reconnector, netmon.CheckerOptions{
		Probe: func(ctx context.Context) bool { return true },
	}, em)
	checker.CheckNow()

	collector := stats.NewCollector(eng, time.Second, em)

	return &Handlers{
		status: func() (interface{}, error) {
			return &daemon.Status{Running: true, PID: 42, Health: "Good"}, nil
		},
		collector:   collector,
		network:     network,
		checker:     checker,
		reconnector: reconnector,
	}
}

func get(t *testing.T, h *Handlers, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestAPIGetStatus(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status daemon.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, 42, status.PID)
	assert.Equal(t, "Good", status.Health)
}

func TestAPIGetInterfaces(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/interfaces")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		State      string                `json:"state"`
		Active     *model.InterfaceInfo  `json:"active"`
		Interfaces []model.InterfaceInfo `json:"interfaces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Connected (WiFi)", payload.State)
	require.Len(t, payload.Interfaces, 1)
	assert.Equal(t, "wlan0", payload.Interfaces[0].Name)
	require.NotNil(t, payload.Active)
	assert.Equal(t, "wlan0", payload.Active.Name)
}

func TestAPIGetHealth(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Health string `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Good", payload.Health)
}

func TestAPIGetStats(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]model.StatsSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "raw")
	assert.Contains(t, payload, "smoothed")
}

func TestAPIGetAttemptsEmpty(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/attempts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAPIGetErrorsEmpty(t *testing.T) {
	rec := get(t, newTestHandlers(t), "/api/errors")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
