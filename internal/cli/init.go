// Package cli provides common initialization for the expensegrid
// commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"expensegrid/internal/backend"
	"expensegrid/internal/config"
	"expensegrid/internal/log"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logCfg := log.DefaultConfig()
	if cfg != nil {
		logCfg = log.ConfigFromStrings(cfg.LogLevel, cfg.LogFormat)
	}
	logCfg.Component = component
	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Configuration could not be loaded", log.FieldError, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the configured storage backend.
// Returns the store or exits the process on failure.
func OpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.StoreResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateStore(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return result
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
