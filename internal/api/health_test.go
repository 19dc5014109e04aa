package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/go-chi/chi/v5"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct {
	fail atomic.Bool
}

func (p *fakePinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("storage down")
	}
	return nil
}

func TestHealth(t *testing.T) {
	pinger := &fakePinger{}
	h := NewHealthHandler(pinger, &config.Config{Timeout: config.TimeoutConfig{HealthCheck: time.Second}})
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	pinger.fail.Store(true)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
}

func TestGRPCHealthFollowsPing(t *testing.T) {
	pinger := &fakePinger{}
	h := NewHealthHandler(pinger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := h.GRPCHealth(ctx, 10*time.Millisecond)
	resp, err := srv.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Expected SERVING, got %v", resp.GetStatus())
	}

	pinger.fail.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = srv.Check(ctx, &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected NOT_SERVING after the ping starts failing")
}
