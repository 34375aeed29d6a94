package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/payops/internal/api"
	"github.com/punchamoorthee/payops/internal/app"
	"github.com/punchamoorthee/payops/internal/config"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/ratelimit"
	"github.com/punchamoorthee/payops/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("start-up failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.AllowUnverifiedWebhooks() {
		logger.Warn("webhook signature verification is disabled", "event_type", "security")
	}

	// Events published by any instance reach this instance's sockets
	go func() {
		if err := notify.Forward(ctx, a.Redis, a.Hub); err != nil {
			logger.Warn("event relay stopped", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Store:         a.Store,
		Engine:        a.Engine,
		Settlement:    a.Settlement,
		Withdrawals:   a.Withdrawals,
		Webhooks:      webhook.NewProcessor(a.Store, a.Settlement, logger, cfg.AllowUnverifiedWebhooks()),
		Auth:          a.Auth,
		Limiter:       ratelimit.NewLimiter(a.Redis, a.Store, logger),
		Hub:           a.Hub,
		Logger:        logger,
		SettleTimeout: cfg.SettlementTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "providers", a.Registry.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SettlementTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
