// Package main запускает HTTP-сервер сервиса приёма заявок.
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

	"github.com/mmeshcher/admissions-system/internal/config"
	"github.com/mmeshcher/admissions-system/internal/handler"
	"github.com/mmeshcher/admissions-system/internal/middleware"
	"github.com/mmeshcher/admissions-system/internal/repository"
	"github.com/mmeshcher/admissions-system/internal/selector"
	"github.com/mmeshcher/admissions-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	sel, err := selector.New(cfg.SelectionPolicy)
	if err != nil {
		sugar.Fatalw("selection policy error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, sel, logger, cfg.AdmissionInterval)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое проведение приёма по конвокаториям с истёкшим сроком
	g.Go(func() error {
		svc.StartAdmissionScheduler(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting admissions server",
			"addr", cfg.RunAddress,
			"policy", cfg.SelectionPolicy,
			"admissionInterval", cfg.AdmissionInterval.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
