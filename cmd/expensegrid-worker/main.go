package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensegrid/internal/amqp"
	"expensegrid/internal/backend"
	"expensegrid/internal/cache"
	"expensegrid/internal/cli"
	"expensegrid/internal/log"
	"expensegrid/internal/services"
	"expensegrid/internal/worker"
)

const (
	categoryCacheSize    = 256
	cacheCleanupInterval = 5 * time.Minute
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(nil, log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the mirror worker")
		os.Exit(1)
	}

	logger.Info("Starting expensegrid-worker", "backend", cfg.DataBackend)

	ctx, stop := cli.SignalContext()
	defer stop()

	storeResult := cli.OpenStore(ctx, logger, cfg)
	defer func() {
		if err := storeResult.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()
	svc := services.NewExpenseService(storeResult.Store, logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	mirror, err := backend.NewFactory(logger).CreateMirror(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize sheets mirror", log.FieldError, err)
		os.Exit(1)
	}

	names := cache.NewLRUCache[string](categoryCacheSize, cfg.CategoryCacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	cacheManager.Register(names)
	cacheManager.StartCleanup(cacheCleanupInterval)
	defer cacheManager.Stop()

	amqpClient, err := amqp.NewClient(ctx, amqp.Config{
		URL:            cfg.AMQPURL,
		Exchange:       cfg.AMQPExchange,
		Queue:          cfg.AMQPQueue,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirrorWorker := worker.NewMirrorWorker(svc, mirror, names, logger)

	// Months changed while the worker was down are re-rendered once.
	logger.Info("Performing startup resync", log.FieldOperation, log.OpStartup)
	if err := mirrorWorker.StartupResync(ctx); err != nil {
		logger.Error("Startup resync failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeMonthChanged(gctx, mirrorWorker.HandleMonthChanged)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
