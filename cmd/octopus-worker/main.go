package main

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"octopus/internal/cli"
	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
	"octopus/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	logger.Info("Starting octopus-worker", applog.FieldOperation, applog.OpStartup)

	if cfg.Username == "" || cfg.Password == "" {
		logger.Error("OCTOPUS_USERNAME and OCTOPUS_PASSWORD are required for the worker")
		os.Exit(1)
	}
	backend, err := core.ParseDomain(cfg.AuthBackend)
	if err != nil {
		logger.Error("Invalid auth backend", applog.FieldError, err)
		os.Exit(1)
	}

	var running atomic.Pointer[worker.RefreshWorker]
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		refresher := running.Load()
		if refresher == nil {
			return
		}
		if err := refresher.Stop(ctx); err != nil {
			logger.Warn("Refresh worker did not stop cleanly", applog.FieldError, err)
		}
	})

	store, cacheManager := cli.InitSnapshotStore(ctx, logger, cfg)
	defer store.Close()
	defer cacheManager.Stop()

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	a := cli.NewApp(logger, cfg, metrics.New(), store, amqpClient, cli.InitSummaryWriter(ctx, logger, cfg))
	if err := a.Login(ctx, cfg.Username, cfg.Password, backend); err != nil {
		logger.Error("Login failed", applog.FieldBackend, backend, applog.FieldError, err)
		os.Exit(1)
	}

	wcfg := worker.DefaultConfig()
	wcfg.Interval = cfg.RefreshInterval
	// Login already loaded both domains.
	wcfg.ReloadOnStart = false

	var consumer worker.ReloadConsumer
	if amqpClient != nil {
		consumer = amqpClient
	}
	refresher := worker.NewRefreshWorker(a, consumer, wcfg, logger)
	if err := refresher.Start(ctx); err != nil {
		logger.Error("Failed to start refresh worker", applog.FieldError, err)
		os.Exit(1)
	}
	running.Store(refresher)

	cli.WaitForShutdown(ctx, done)
}
