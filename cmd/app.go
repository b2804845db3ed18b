package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/aggregate"
	"github.com/leadsignal/intent-cli/internal/alerting"
	"github.com/leadsignal/intent-cli/internal/cache"
	"github.com/leadsignal/intent-cli/internal/predictor"
	"github.com/leadsignal/intent-cli/internal/store"
)

// appEnv bundles the wired subsystems shared by the commands.
type appEnv struct {
	Store      store.Store
	Aggregates *aggregate.Provider
	Predictor  *predictor.Service
	Cache      *cache.PredictionCache
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intent.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	provider := aggregate.NewProvider(st,
		time.Duration(cfg.Scoring.AggregateMaxAgeHours)*time.Hour,
		cfg.Scoring.RefreshPerMinute,
		cfg.Scoring.RefreshBurst,
	)

	// Assign through the interface only when a webhook is configured; a
	// typed nil pointer would dodge the predictor's nil check.
	var notifier predictor.Notifier
	if wn := alerting.NewWebhookNotifier(cfg.Alert.WebhookURL,
		time.Duration(cfg.Alert.TimeoutSecs)*time.Second); wn != nil {
		notifier = wn
	}

	env := &appEnv{
		Store:      st,
		Aggregates: provider,
		Predictor:  predictor.NewService(provider, st, notifier),
	}

	if cfg.Cache.Enabled {
		pc, err := cache.New(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			// The cache is an optimization; a dead Redis must not stop
			// the service from coming up.
			zap.L().Warn("prediction cache unavailable, serving from store", zap.Error(err))
		} else {
			env.Cache = pc
		}
	}

	return env, nil
}

func (e *appEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
