package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensegrid/internal/amqp"
	"expensegrid/internal/cli"
	apphttp "expensegrid/internal/http"
	"expensegrid/internal/log"
	"expensegrid/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, stop := cli.SignalContext()
	defer stop()

	storeResult := cli.OpenStore(ctx, logger, cfg)
	defer func() {
		if err := storeResult.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()

	opts := []services.Option{services.WithPublishTimeout(cfg.PublishTimeout)}
	if cfg.AMQPURL != "" {
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
		opts = append(opts, services.WithPublisher(amqpClient))
		logger.Info("AMQP publisher enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, month changes will not be mirrored")
	}

	svc := services.NewExpenseService(storeResult.Store, logger, opts...)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expensegrid server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
