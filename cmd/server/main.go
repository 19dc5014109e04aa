// AutoML Assistant - project workflow and agent relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/automl-assistant/internal/agent"
	"github.com/ashureev/automl-assistant/internal/api"
	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/ashureev/automl-assistant/internal/identity"
	"github.com/ashureev/automl-assistant/internal/middleware"
	"github.com/ashureev/automl-assistant/internal/project"
	"github.com/ashureev/automl-assistant/internal/shared"
	"github.com/ashureev/automl-assistant/internal/store"
	"github.com/ashureev/automl-assistant/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize persistence.
	persister, err := store.Open(ctx, cfg.Store, shared.RetryPolicy{
		MaxAttempts: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:   cfg.Retry.DatabaseRetryBaseDelay,
	})
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := persister.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	if err := persister.Ping(ctx); err != nil {
		slog.Error("Storage health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Storage connected", "backend", cfg.Store.Backend)

	projects, err := project.Open(ctx, persister, project.WithLogger(logger))
	if err != nil {
		slog.Error("Failed to load projects", "error", err)
		os.Exit(1)
	}
	slog.Info("Projects loaded", "count", len(projects.Projects()))

	// Initialize agent relay.
	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	registry, err := agent.NewRegistry(cfg.Agent.ClientCacheSize, func() *agent.Client {
		return agent.NewClient(cfg.Agent.BaseURL, agent.WithLogger(logger))
	})
	if err != nil {
		slog.Error("Failed to initialize agent registry", "error", err)
		os.Exit(1)
	}
	agentHandler := agent.NewHandler(registry, conversationLogger, cfg, logger)
	defer agentHandler.Close()
	slog.Info("Agent relay configured", "base_url", cfg.Agent.BaseURL)

	// Initialize handlers.
	projectHandler := api.NewHandler(projects, logger)
	projectHandler.SetWatch(api.NewWatchHandler(projects, cfg.FrontendURL, cfg.IsDevelopment(), logger))
	healthHandler := api.NewHealthHandler(persister, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	projectHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE and watch connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h2c.NewHandler(r, &http2.Server{}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthHandler.GRPCHealth(ctx, cfg.Timeout.HealthInterval))
		go func() {
			slog.Info("gRPC health server listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
