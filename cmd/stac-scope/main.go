package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wayfinder-foundry/stac-scope/internal/api"
	"github.com/wayfinder-foundry/stac-scope/internal/cache/redisstore"
	"github.com/wayfinder-foundry/stac-scope/internal/cache/searchcache"
	"github.com/wayfinder-foundry/stac-scope/internal/catalog"
	"github.com/wayfinder-foundry/stac-scope/internal/core/config"
	"github.com/wayfinder-foundry/stac-scope/internal/core/httpclient"
	"github.com/wayfinder-foundry/stac-scope/internal/estimate"
	"github.com/wayfinder-foundry/stac-scope/internal/invalidation/kafkaconsumer"
	"github.com/wayfinder-foundry/stac-scope/internal/logger"
	"github.com/wayfinder-foundry/stac-scope/internal/probe"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "stac-scope",
	}, os.Stdout)
	slog.SetDefault(logger.NewSlog(&zl))

	zl.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("catalog", cfg.CatalogURL).
		Msg("starting stac-scope")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := catalog.RetryPolicy{
		MaxAttempts:   cfg.RetryAttempts,
		Base:          cfg.RetryBase,
		Multiplier:    2,
		MaxWait:       cfg.RetryMaxWait,
		RetryAfterCap: cfg.RetryAfterCap,
	}
	exec := catalog.NewExecutor(&zl, httpclient.NewOutbound(), policy, cfg.DefaultHeaders)

	client, err := catalog.NewClient(&zl, exec, cfg.CatalogURL, catalog.Options{
		MaxLimit:            cfg.MaxLimit,
		Timeout:             cfg.RequestTimeout,
		CollectionCacheSize: cfg.Cache.LRUSize,
	})
	if err != nil {
		zl.Error().Err(err).Msg("catalog client init failed")
		return 1
	}

	pool, err := probe.New(&zl, httpclient.NewProbe(), cfg.DefaultHeaders, cfg.ProbeTimeout, cfg.ProbeWorkers)
	if err != nil {
		zl.Error().Err(err).Msg("probe pool init failed")
		return 1
	}

	sampler := estimate.NewSampler(&zl, httpclient.NewProbe(), cfg.DefaultHeaders, estimate.SampleBudget{
		MaxBytesPerAsset: cfg.NoDataMaxSampleBytes,
		MaxAssets:        cfg.NoDataMaxAssets,
	}, cfg.ProbeTimeout)

	var search api.Searcher = client
	if cfg.Cache.Enabled {
		store, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			zl.Error().Err(err).Msg("redis init failed")
			return 1
		}
		defer func() { _ = store.Close() }()
		sc := searchcache.New(&zl, client, store, cfg.Cache.TTL, cfg.Cache.OpTimeout)
		search = sc

		if cfg.Invalidation.Enabled {
			consumer := kafkaconsumer.New(
				kafkaconsumer.DefaultConfig(
					strings.Split(cfg.Invalidation.Brokers, ","),
					cfg.Invalidation.Topic,
					cfg.Invalidation.GroupID,
				),
				&zl, sc,
			)
			go func() {
				if err := consumer.Start(ctx); err != nil {
					zl.Error().Err(err).Msg("invalidation consumer stopped")
				}
			}()
		}
	}

	engine := estimate.NewEngine(&zl, search, pool, sampler)
	handlers := api.NewHandlers(&zl, client, search, engine)

	if err := api.Run(ctx, cfg.Addr, &zl, api.NewRouter(&zl, handlers)); err != nil {
		zl.Error().Err(err).Msg("server error")
		return 1
	}
	return 0
}
