package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/robothub/transport-server/internal/v1/config"
	"github.com/robothub/transport-server/internal/v1/health"
	"github.com/robothub/transport-server/internal/v1/logging"
	"github.com/robothub/transport-server/internal/v1/middleware"
	"github.com/robothub/transport-server/internal/v1/ratelimit"
	"github.com/robothub/transport-server/internal/v1/robotics"
	"github.com/robothub/transport-server/internal/v1/tracing"
	"github.com/robothub/transport-server/internal/v1/video"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Tracing (optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(context.Background(), "transport-server", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Rate limiting ---
	limiter, err := ratelimit.New(cfg.RateLimitAPI, cfg.RateLimitWS)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Service cores ---
	// Each service is a process-wide singleton owning its own registry,
	// connection table, and sweeper.
	roboticsCore := robotics.NewCore(cfg.InactivityTimeout, cfg.SweepInterval)
	videoCore := video.NewCore(cfg.InactivityTimeout, cfg.SweepInterval)

	sweeperCtx, stopSweepers := context.WithCancel(context.Background())
	roboticsCore.StartSweeper(sweeperCtx)
	videoCore.StartSweeper(sweeperCtx)

	allowedOrigins := cfg.AllowedOriginList([]string{"http://localhost:3000"})

	// --- Set up server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OTLPEndpoint != "" {
		router.Use(otelgin.Middleware("transport-server"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(limiter.Middleware())

	// Routing
	roboticsHandler := robotics.NewHandler(roboticsCore, limiter, allowedOrigins)
	roboticsHandler.RegisterRoutes(router)

	videoHandler := video.NewHandler(videoCore, limiter, allowedOrigins)
	videoHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(map[string]health.ServiceReporter{
		"robotics": roboticsCore,
		"video":    videoCore,
	})
	router.GET("/health", healthHandler.Root)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Optional static front-end
	if cfg.ServeFrontend {
		router.Static("/static", cfg.FrontendDir)
	}

	// Start the server.
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	// --- Graceful shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Transport server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the sweepers, then close all rooms and their connections.
	stopSweepers()
	roboticsCore.Shutdown(ctx)
	videoCore.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	slog.Info("Server exiting")
}
