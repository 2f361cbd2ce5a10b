package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/internal/config"
	"github.com/vitalvas/tofusig/internal/logger"
	"github.com/vitalvas/tofusig/internal/metrics"
	"github.com/vitalvas/tofusig/verifier"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	resolver *directory.Resolver
	verifier *verifier.Verifier

	closers []func() error
}

func newApp(ctx context.Context, configPath, envFile string) (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, Version: version})

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}

	opts := []directory.Option{
		directory.WithStore(store),
		directory.WithLogger(log.Named("directory")),
		directory.WithTimeout(config.Duration(cfg.Resolver.Timeout)),
		directory.WithUserAgent(cfg.Resolver.UserAgent),
	}

	if bc := cfg.BreakerConfig(); bc != nil {
		opts = append(opts, directory.WithBreaker(*bc))
	}

	a.resolver = directory.NewResolver(opts...)

	a.verifier, err = verifier.New(a.resolver,
		verifier.WithLogger(log.Named("verifier")),
		verifier.WithBatchLimit(cfg.Verify.BatchLimit),
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *app) store(ctx context.Context) (directory.Store, error) {
	if a.cfg.Cache.Kind != config.CacheRedis {
		return directory.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Cache.Redis.Addr,
		DB:       a.cfg.Cache.Redis.DB,
		Password: a.cfg.Cache.Redis.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", a.cfg.Cache.Redis.Addr, err)
	}

	a.closers = append(a.closers, client.Close)

	a.log.Info("using redis directory cache", zap.String("addr", a.cfg.Cache.Redis.Addr))

	return directory.NewRedisStore(client, a.cfg.Cache.Redis.Prefix), nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("close failed", logger.Err(err))
		}
	}

	_ = a.log.Sync()
}
