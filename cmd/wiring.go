package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/fx"
	"github.com/recoup-labs/recovery-cli/internal/store"
)

// openStore opens the configured result store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DSN, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DSN)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// eventsPool connects to the event warehouse.
func eventsPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Events.DSN == "" {
		return nil, eris.New("events.dsn is not configured")
	}
	pool, err := pgxpool.New(ctx, cfg.Events.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "connect event warehouse")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping event warehouse")
	}
	return pool, nil
}

// fxResolver builds the four-tier exchange-rate resolver: in-process memory
// cache, optional Redis, the durable store tier, then the live provider.
func fxResolver(s store.Store) *fx.Resolver {
	layers := []fx.Cache{fx.NewMemoryCache()}
	if cfg.FX.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.FX.RedisAddr,
			Password: cfg.FX.RedisPassword,
			DB:       cfg.FX.RedisDB,
		})
		ttl := time.Duration(cfg.FX.CacheTTLHours) * time.Hour
		layers = append(layers, fx.NewRedisCache(client, ttl))
	}
	if s != nil {
		layers = append(layers, store.RateCache{S: s})
	}

	var client fx.LiveClient
	if cfg.FX.ProviderURL != "" {
		client = fx.NewHTTPClient(cfg.FX.ProviderURL,
			time.Duration(cfg.FX.TimeoutSecs)*time.Second,
			cfg.FX.RatePerSecond)
	}

	return fx.NewResolver(fx.NewLayered(layers...), client,
		time.Duration(cfg.FX.TimeoutSecs)*time.Second)
}

// calibrator builds the TTL'd confidence calibrator over the store.
func calibrator(s store.Store) *calibration.Calibrator {
	ttl := time.Duration(cfg.Calibration.CacheTTLMinutes) * time.Minute
	return calibration.New(s, ttl)
}
