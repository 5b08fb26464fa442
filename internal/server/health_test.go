package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHealthServer_WithConfig(t *testing.T) {
	s := NewHealthServer(&HealthConfig{Version: "1.0.0"})
	if s.version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %s", s.version)
	}
	if s.ready {
		t.Fatal("expected not ready initially")
	}
	if !s.live {
		t.Fatal("expected live initially")
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec, resp
}

func TestHealthz_AllHealthy(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("metadata", StoreHealthChecker("postgres", func(context.Context) error { return nil }))
	s.RegisterCheck("index", StoreHealthChecker("qdrant", func(context.Context) error { return nil }))

	rec, resp := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
	if len(resp.Checks) != 2 || resp.Checks[0].Name != "index" {
		t.Fatalf("expected checks in name order, got %+v", resp.Checks)
	}
	if resp.Checks[1].Details["backend"] != "postgres" {
		t.Fatalf("expected backend detail, got %+v", resp.Checks[1].Details)
	}
}

func TestHealthz_StoreDown(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("index", StoreHealthChecker("qdrant", func(context.Context) error {
		return errors.New("connection refused")
	}))

	rec, resp := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if resp.Status != HealthStatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", resp.Status)
	}
}

func TestHealthz_TemporalDegrades(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("temporal", TemporalHealthChecker(func(context.Context) error {
		return errors.New("no frontend")
	}))

	rec, resp := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded, got %d", rec.Code)
	}
	if resp.Status != HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
}

func TestReadyz(t *testing.T) {
	s := NewHealthServer(nil)
	down := false
	s.RegisterCheck("metadata", StoreHealthChecker("memory", func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}))

	if rec, _ := get(t, s.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before SetReady, got %d", rec.Code)
	}

	s.SetReady(true)
	if rec, _ := get(t, s.Handler(), "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec.Code)
	}

	down = true
	if rec, _ := get(t, s.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a store is down, got %d", rec.Code)
	}
}

func TestLivez(t *testing.T) {
	s := NewHealthServer(nil)
	mux := http.NewServeMux()
	s.Mount(mux)

	if rec, _ := get(t, mux, "/livez"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	s.SetLive(false)
	if rec, _ := get(t, mux, "/livez"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
