package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pinger Pinger
	cfg    *config.Config
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(pinger Pinger, cfg *config.Config) *HealthHandler {
	return &HealthHandler{pinger: pinger, cfg: cfg}
}

func (h *HealthHandler) timeout() time.Duration {
	if h.cfg != nil && h.cfg.Timeout.HealthCheck > 0 {
		return h.cfg.Timeout.HealthCheck
	}
	return 5 * time.Second
}

func (h *HealthHandler) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()
	return h.pinger.Ping(ctx)
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.check(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["storage"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["storage"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// GRPCHealth returns a gRPC health server whose overall status follows the
// storage ping. It is checked once immediately and then every interval until
// ctx ends, when it is marked NOT_SERVING.
func (h *HealthHandler) GRPCHealth(ctx context.Context, interval time.Duration) *health.Server {
	srv := health.NewServer()
	h.refresh(ctx, srv)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				srv.Shutdown()
				return
			case <-ticker.C:
				h.refresh(ctx, srv)
			}
		}
	}()
	return srv
}

func (h *HealthHandler) refresh(ctx context.Context, srv *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.check(ctx); err != nil {
		slog.Warn("gRPC health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
}
