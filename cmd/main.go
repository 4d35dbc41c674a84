// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/config"
	"github.com/Shivanand-hulikatti/layergate/internal/database"
	"github.com/Shivanand-hulikatti/layergate/internal/handler"
	"github.com/Shivanand-hulikatti/layergate/internal/logger"
	"github.com/Shivanand-hulikatti/layergate/internal/notify"
	"github.com/Shivanand-hulikatti/layergate/internal/passcode"
	"github.com/Shivanand-hulikatti/layergate/internal/ratelimit"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

const (
	notifyTimeout   = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL and Redis ────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := database.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	sealer, err := cipher.NewSealer(cfg.Cipher.SealingKey)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}
	store := repository.New(pool)
	notifier := notify.NewAsync(dispatcher(rdb, cfg, log), log, notifyTimeout)
	defer notifier.Wait()

	members := service.NewMemberService(store, store)
	h := handler.New(handler.Services{
		Events:    service.NewEventService(store, store, members, cfg.RevealWindow, log),
		Admission: service.NewAdmissionService(store, store, store, members, passcode.NewSigner(cfg.PassSigningKey), notifier, log),
		Cipher:    service.NewCipherService(store, cfg.Cipher.Policy(), sealer, log),
		Members:   members,
		Store:     store,
	}, log)

	// ── 3. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h.Router(recoveryLimiter(rdb, cfg)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// dispatcher publishes to Redis when it is configured and logs otherwise.
func dispatcher(rdb *redis.Client, cfg config.Config, log *zap.Logger) notify.Dispatcher {
	if rdb == nil {
		return notify.NewLog(log)
	}
	return notify.NewRedis(rdb, cfg.NotifyChannel)
}

// recoveryLimiter shares the budget across instances when Redis is
// available.
func recoveryLimiter(rdb *redis.Client, cfg config.Config) ratelimit.Limiter {
	if rdb == nil {
		return ratelimit.NewMemory(cfg.RecoveryLimit, cfg.RecoveryWindow)
	}
	return ratelimit.NewRedis(rdb, cfg.AppName+":recover", cfg.RecoveryLimit, cfg.RecoveryWindow)
}
