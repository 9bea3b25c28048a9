package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyav/anymessage/internal/app/migrate"
	"github.com/Tyav/anymessage/internal/billing"
	"github.com/Tyav/anymessage/internal/config"
	httpx "github.com/Tyav/anymessage/internal/http"
	"github.com/Tyav/anymessage/internal/repository/postgres"
	"github.com/Tyav/anymessage/internal/service/auth"
	"github.com/Tyav/anymessage/internal/service/integration"
	"github.com/Tyav/anymessage/internal/service/team"
	"github.com/Tyav/anymessage/pkg/logger"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slogFatal("invalid configuration", err)
	}
	log := logger.New("api", cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.Postgres, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	billingClient := billing.New(cfg.Billing, log)

	authSvc := auth.New(repo, log, cfg.Auth)
	teamSvc := team.New(repo, repo, billingClient, log)
	integrationSvc := integration.New(repo, log, cfg.Crypto)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, teamSvc, integrationSvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.ServerAddr())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func slogFatal(msg string, err error) {
	logger.New("api", "error").Error(msg, "error", err)
	os.Exit(1)
}
