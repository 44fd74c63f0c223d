package proxyserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestDashboardServesHTML(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "Cortex Dashboard")
}

func TestDashboardStatusSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status dashboardStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.Proxy.Healthy)
	require.Equal(t, "fallback", status.Planner.Mode)
	require.True(t, status.RMVM.Healthy)
	require.Equal(t, "demo", status.Brain.Selected)
	require.Equal(t, "in-process", status.RateLimit.Backend)
	require.Equal(t, "none", status.AuditExport.Kind)
}

func TestDashboardStatusRateLimitRemainingForBearer(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/status", nil)
	req.Header.Set("Authorization", "Bearer sk-test")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var status dashboardStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.RateLimit.Remaining)
}

func TestNewRejectsUnknownPlannerMode(t *testing.T) {
	srv, store := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)
	cfg := srv.cfg
	cfg.PlannerMode = "oracle"

	_, err := New(cfg, store, &fakeKernel{}, Options{
		Limiter: srv.limiter, Telemetry: srv.tel, Logger: srv.logger,
	})
	require.Error(t, err)
}
