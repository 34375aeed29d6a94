// Package app assembles the components shared by the server and the
// operator CLI from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/payops/internal/auth"
	"github.com/punchamoorthee/payops/internal/config"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/routing"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       store.Store
	Redis       *redis.Client
	Registry    *provider.Registry
	Engine      *routing.Engine
	Dispatcher  *notify.Dispatcher
	Hub         *notify.Hub
	Settlement  *service.SettlementService
	Withdrawals *service.WithdrawalService
	Auth        *auth.Authenticator
}

// OpenStore connects to the configured store. Postgres schemas are migrated
// when migrate is true.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemory(), nil
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// NewRegistry registers the configured providers in fallback order.
func NewRegistry(cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	baseURLs := map[string]string{
		provider.Paystack:    cfg.PaystackBaseURL,
		provider.Flutterwave: cfg.FlutterwaveBaseURL,
	}
	for _, name := range cfg.Providers {
		factory, ok := provider.Builtin(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, name)
		}
		reg.Register(name, factory, provider.Options{BaseURL: baseURLs[name], Timeout: cfg.ProviderTimeout})
	}
	for _, name := range cfg.DisabledProviders {
		if err := reg.Disable(name); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// New wires every component. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// counters fail open and events stay local until Redis is back
		logger.Warn("redis unreachable at start-up", "addr", cfg.RedisAddr, "error", err)
	}

	hub := notify.NewHub(logger)
	dispatcher := notify.NewDispatcher(logger,
		notify.LogChannel{Logger: logger},
		notify.NewRedisPublisher(rdb),
	)
	engine := routing.NewEngine(reg, st, logger)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Redis:       rdb,
		Registry:    reg,
		Engine:      engine,
		Dispatcher:  dispatcher,
		Hub:         hub,
		Settlement:  service.NewSettlementService(st, cfg.CommissionRate, cfg.PlatformAccount, dispatcher, logger),
		Withdrawals: service.NewWithdrawalService(st, engine, cfg.WithdrawalFee, cfg.PlatformAccount, dispatcher, logger),
		Auth:        auth.NewAuthenticator(st, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)),
	}, nil
}

func (a *App) Close() {
	a.Dispatcher.Wait()
	a.Redis.Close()
	a.Store.Close()
}
