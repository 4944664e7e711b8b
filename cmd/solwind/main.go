package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/helio/solwind/internal/alerts"
	"github.com/helio/solwind/internal/api"
	"github.com/helio/solwind/internal/auth"
	"github.com/helio/solwind/internal/cache"
	"github.com/helio/solwind/internal/config"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/metrics"
	"github.com/helio/solwind/internal/propagation"
	"github.com/helio/solwind/internal/stream"
	"github.com/helio/solwind/internal/swpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	store := donki.NewStore()
	snapshots := donki.NewCache(cfg.DONKI.CacheDir, cfg.DONKI.CacheMaxFiles)

	// Attempt to load a cached catalog snapshot on startup so the service
	// is useful before the first network fetch completes.
	if data, ts, err := snapshots.LoadLatest(); err != nil {
		logger.Info("no catalog snapshot found, starting empty", "error", err)
	} else {
		events, err := donki.Parse(bytes.NewReader(data), logger)
		if err != nil {
			logger.Warn("failed to parse cached catalog snapshot", "error", err)
		} else if len(events) > 0 {
			store.Set(donki.NewDataset("cache", ts, events))
			metrics.SetCMEDatasetCount(len(events))
			logger.Info("loaded catalog from snapshot", "count", len(events), "cached_at", ts.Format(time.RFC3339))
		}
	}

	fetcher := donki.NewFetcher(cfg.DONKI.BaseURL, cfg.DONKI.APIKey, cfg.DONKI.Window)
	refresher := donki.NewRefresher(fetcher, store, snapshots, cfg.DONKI.RefreshInterval, logger)

	var conditions *swpc.Client
	if cfg.SWPC.Enabled {
		conditions = swpc.NewClient(cfg.SWPC.BaseURL, logger)
	}

	workers := cfg.Propagation.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	propCfg := propagation.PropConfig{
		Workers: workers,
		Step:    cfg.Cache.Step,
		Horizon: cfg.Cache.Horizon,
	}
	prop := propagation.NewPropagator(store, propCfg, logger)
	metrics.SetPropagationWorkersActive(propCfg.Workers)

	kfCache := cache.NewKeyframeCache(cache.Config{
		Step:        cfg.Cache.Step,
		Horizon:     cfg.Cache.Horizon,
		GracePeriod: cfg.Cache.GracePeriod,
		Buffer:      cfg.Cache.Buffer,
	}, prop, store, logger)

	streamHandler := stream.NewHandler(kfCache, store, conditions, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		BandwidthLimit:     cfg.Stream.BandwidthLimit,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		TrustProxy:         cfg.Server.TrustProxy,
	}, logger)

	var evaluator *alerts.Evaluator
	if conditions != nil {
		evaluator = alerts.NewEvaluator(store, conditions, logger)
	} else {
		evaluator = alerts.NewEvaluator(store, nil, logger)
	}

	authCfg := auth.Config{
		Enabled: cfg.Auth.Token != "",
		Token:   cfg.Auth.Token,
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Store:      store,
		Conditions: conditions,
		Alerts:     evaluator,
		Streams:    streamHandler,
	}, authCfg, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go refresher.Run(ctx)
	go kfCache.Start(ctx)
	go evaluator.Run(ctx, cfg.Alerts.Interval)

	if conditions != nil {
		go conditions.Run(ctx, cfg.SWPC.PollInterval)
	}

	// Catalog age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetCMEDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.Addr,
			"auth_enabled", authCfg.Enabled,
			"swpc_enabled", cfg.SWPC.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
