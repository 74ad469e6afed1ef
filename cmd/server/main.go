// Fleet guard server: the natural-language operator assistant for the fleet database.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/fleetguard/internal/agent"
	"github.com/ashureev/fleetguard/internal/api"
	"github.com/ashureev/fleetguard/internal/config"
	"github.com/ashureev/fleetguard/internal/executor"
	"github.com/ashureev/fleetguard/internal/guard"
	"github.com/ashureev/fleetguard/internal/identity"
	"github.com/ashureev/fleetguard/internal/middleware"
	"github.com/ashureev/fleetguard/internal/scope"
	"github.com/ashureev/fleetguard/internal/session"
	"github.com/ashureev/fleetguard/internal/shared"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/ashureev/fleetguard/internal/vision"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if cfg.DBSeed {
		if err := repo.Seed(context.Background()); err != nil {
			slog.Error("Failed to seed database", "error", err)
			os.Exit(1)
		}
	}

	scopes, err := scope.Load(cfg.PageScopesPath)
	if err != nil {
		slog.Error("Failed to load page scopes", "error", err)
		os.Exit(1)
	}
	slog.Info("Page scopes loaded", "pages", scopes.Pages(), "fallback", scopes.Fallback())

	exec := executor.New(repo, executor.Config{
		Backoff:        shared.Backoff{Attempts: cfg.Executor.MaxRetries, BaseDelay: cfg.Executor.BaseDelay},
		AttemptTimeout: cfg.DBQueryTimeout,
	}, logger)
	g := guard.New(scopes, repo, exec, guard.Config{
		MaxAttempts:  cfg.ConfirmMaxAttempts,
		QueryTimeout: cfg.DBQueryTimeout,
	}, logger)

	// Image input (optional).
	var images agent.VisionResolver
	if cfg.VisionEnabled() {
		client := vision.NewOllamaClient(vision.Config{
			Endpoint:   cfg.Vision.Endpoint,
			Model:      cfg.Vision.Model,
			Timeout:    cfg.Vision.Timeout,
			MaxRetries: cfg.Vision.MaxRetries,
		}, logger)
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if !client.Available(checkCtx) {
			slog.Warn("Vision endpoint not reachable yet, images will be reported as unreadable until it is", "endpoint", cfg.Vision.Endpoint)
		}
		cancel()
		images = vision.NewResolver(client, g.Resolver(), logger)
		slog.Info("Image input enabled", "endpoint", cfg.Vision.Endpoint, "model", cfg.Vision.Model)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Model service (optional). Without it the agent routes stay unregistered.
	var agentHandler *agent.Handler
	var modelHealth api.HealthChecker
	if cfg.AgentEnabled() {
		slog.Info("Connecting to model service via gRPC", "address", cfg.Model.Addr)
		grpcClient, err := agent.NewGrpcClient(agent.GrpcClientConfig{
			Address:        cfg.Model.Addr,
			ConnectTimeout: cfg.Model.ConnectTimeout,
			RequestTimeout: cfg.Model.Timeout,
		}, logger)
		if err != nil {
			slog.Warn("Failed to connect to model service, agent routes will be disabled", "error", err)
		} else {
			modelHealth = grpcClient

			conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
				Enabled:       cfg.ConversationLog.Enabled,
				Dir:           cfg.ConversationLog.Dir,
				GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
				GlobalPath:    cfg.ConversationLog.GlobalPath,
				QueueSize:     cfg.ConversationLog.QueueSize,
			}, logger)
			if err != nil {
				slog.Error("Failed to initialize conversation logger", "error", err)
				os.Exit(1)
			}

			sessions := session.NewStore()
			service := agent.NewService(sessions, scopes, g, grpcClient, images, conversationLogger, agent.ServiceConfig{
				ModelTimeout: cfg.Model.Timeout,
			}, logger)
			agentHandler = agent.NewHandler(service, agent.HandlerConfig{
				RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
				Window:            cfg.RateLimit.WindowDuration,
				MaxRequestBody:    cfg.MaxRequestBody,
				OriginPatterns:    originPatterns(cfg),
			}, logger)
			defer agentHandler.Close()

			session.StartSweeper(ctx, sessions, cfg.SessionTTL, cfg.SessionSweepInterval, agentHandler.CloseSession)
		}
	}
	if agentHandler == nil {
		slog.Info("Agent disabled (MODEL_ADDR not set or connection failed)")
	}

	apiHandler := api.NewHandler(repo, scopes, modelHealth, cfg.DBQueryTimeout, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	if agentHandler != nil {
		agentHandler.RegisterRoutes(r)
	}

	// Turns wait on the model, so WriteTimeout stays above MODEL_TIMEOUT;
	// WebSocket connections are hijacked and not bound by it.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Model.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// originPatterns lists the hosts allowed to open cross-origin WebSockets.
func originPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(cfg.FrontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
