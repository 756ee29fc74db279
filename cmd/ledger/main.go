// Package main запускает HTTP-сервер сервиса инвестиционного учёта.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/invest-ledger/internal/config"
	"github.com/mmeshcher/invest-ledger/internal/handler"
	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/repository"
	"github.com/mmeshcher/invest-ledger/internal/service"
	"github.com/mmeshcher/invest-ledger/internal/voucher"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.StoreTimeout)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, repo, logger, service.WithLocation(cfg.TimeLocation()))
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AdminLogin != "" && cfg.AdminPassword != "" {
		if err := svc.EnsureAdmin(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
			sugar.Fatalw("admin bootstrap error", "error", err.Error())
		}
	}

	var vouchers handler.VoucherStore
	if cfg.S3.Enabled() {
		store, err := voucher.NewS3Store(ctx, cfg.S3)
		if err != nil {
			sugar.Fatalw("voucher storage initialization error", "error", err.Error())
		}
		vouchers = store
	} else {
		sugar.Warn("voucher storage is not configured, file uploads are disabled")
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("auth secret is not set, tokens will not survive restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, vouchers, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Пересчёт доходности и дозачисление реферальных бонусов
	g.Go(func() error {
		svc.StartEarningsUpdates(ctx, cfg.RecomputeInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting ledger server", "addr", cfg.RunAddress, "location", cfg.Location)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
