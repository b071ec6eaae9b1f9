package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/common/logger"
	"callrelay.app/relay/common/otel"
	"callrelay.app/relay/core/config"
	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/deferred"
	"callrelay.app/relay/internal/http/middleware"
	httprouter "callrelay.app/relay/internal/http/router"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/store"
)

// drainTimeout bounds how long shutdown waits for deferred work. Workflow
// actions retry with backoff, so this is longer than the HTTP drain.
const drainTimeout = 60 * time.Second

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		// Can't use slog yet: OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	if cfg.DB.Migrate {
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "migrations applied")
	}

	redisClient := connectRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	stores := store.NewStores(database.Querier())
	pool := deferred.NewPool(cfg.Automation.DeferredConcurrency)
	services := service.NewServices(stores, cfg, redisClient, pool)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, redisClient)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the call stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// Acknowledged webhooks still owe their follow-up work.
	drainCtx, cancelDrain := context.WithTimeout(ctx, drainTimeout)
	defer cancelDrain()
	if err := pool.Shutdown(drainCtx); err != nil {
		slog.ErrorContext(drainCtx, "deferred work did not drain", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// server then runs without realtime updates and with process-local dedupe.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		slog.InfoContext(ctx, "redis disabled (no url configured)")
		return nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.WarnContext(ctx, "redis unreachable, continuing without it", "error", err)
		_ = client.Close()
		return nil
	}
	slog.InfoContext(ctx, "redis connected", "stream_prefix", cfg.BroadcastStreamPrefix)
	return client
}

func setupRouter(cfg config.Config, services *service.Services, redisClient *redis.Client) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health"))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		AdminAPIKey:  cfg.AdminAPIKey,
		StreamPrefix: cfg.Redis.BroadcastStreamPrefix,
		Redis:        redisClient,
	})

	return router
}

const banner = `
  ___ __ _| | |_ __ ___| | __ _ _   _
 / __/ _' | | | '__/ _ \ |/ _' | | | |
| (_| (_| | | | | |  __/ | (_| | |_| |
 \___\__,_|_|_|_|  \___|_|\__,_|\__, |
                                |___/
`
