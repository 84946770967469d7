// Package main is the entrypoint for the licensegate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/api"
	"github.com/kiranshivaraju/licensegate/internal/api/handler"
	mw "github.com/kiranshivaraju/licensegate/internal/api/middleware"
	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/audit"
	"github.com/kiranshivaraju/licensegate/internal/cache"
	"github.com/kiranshivaraju/licensegate/internal/config"
	"github.com/kiranshivaraju/licensegate/internal/license"
	"github.com/kiranshivaraju/licensegate/internal/metrics"
	"github.com/kiranshivaraju/licensegate/internal/store"
)

const serviceName = "licensegate"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout    = 30 * time.Second
	healthCheckTimeout = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "port", cfg.Server.Port, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied", "dir", cfg.Database.MigrationsDir)

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store, recorder and license service
	pgStore := store.NewPostgresStore(pool)
	m := metrics.New()
	svc := license.NewService(pgStore, redisCache, audit.NewStoreRecorder(pgStore, cfg.Database.QueryTimeout), license.Options{
		QueryTimeout:   cfg.Database.QueryTimeout,
		StatusCacheTTL: cfg.Redis.StatusCacheTTL,
		ActiveWindow:   cfg.License.ActiveServerWindow,
		Metrics:        m,
	})

	// 6. Build router with dependencies
	deps := api.Dependencies{
		AdminAuth: mw.NewAdminAuth(cfg.Admin),

		RootHandler:    handler.NewRootHandler(serviceName, version),
		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: m.Handler(),

		GenerateKeyHandler:   handler.NewGenerateKeyHandler(svc),
		VerifyHandler:        handler.NewVerifyHandler(svc),
		ListKeysHandler:      handler.NewListKeysHandler(svc),
		ActivateKeyHandler:   handler.NewActivateKeyHandler(svc),
		DeactivateKeyHandler: handler.NewDeactivateKeyHandler(svc),
		DeleteKeyHandler:     handler.NewDeleteKeyHandler(svc),

		ValidateHandler: handler.NewValidateHandler(svc),
		CheckHandler:    handler.NewCheckHandler(svc),

		AdminCreateHandler:   handler.NewAdminCreateHandler(svc),
		AdminDisableHandler:  handler.NewAdminDisableHandler(svc),
		AdminActivateHandler: handler.NewAdminActivateHandler(svc),
		AdminListHandler:     handler.NewAdminListHandler(svc),
		AdminGetHandler:      handler.NewAdminGetHandler(svc),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is the subset of store.Store and cache.Cache the health check uses.
type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Cache    string    `json:"cache"`
	Time     time.Time `json:"time"`
}

// healthHandler checks database and cache connectivity. A database outage is
// unhealthy (500); a cache outage only reports degraded.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{
			Status:   "healthy",
			Database: "connected",
			Cache:    "connected",
			Time:     time.Now().UTC(),
		}

		if err := c.Ping(ctx); err != nil {
			slog.Warn("health check: cache unreachable", "error", err)
			resp.Cache = "disconnected"
			resp.Status = "degraded"
		}
		if err := db.Ping(ctx); err != nil {
			slog.Error("health check: database unreachable", "error", err)
			resp.Database = "disconnected"
			resp.Status = "unhealthy"
			response.Status(w, http.StatusInternalServerError, resp)
			return
		}

		response.JSON(w, resp)
	}
}
