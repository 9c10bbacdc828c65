package backend

import (
	"context"
	"fmt"

	"expensegrid/internal/log"
	"expensegrid/internal/sheets"
	gsheet "expensegrid/internal/sheets/google"
	memmirror "expensegrid/internal/sheets/memory"
	"expensegrid/internal/storage/memory"
	"expensegrid/internal/storage/postgres"
	"expensegrid/internal/storage/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateStore implements Factory.CreateStore
func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteStore(config)
	case PostgresBackend:
		return f.createPostgresStore(ctx, config)
	case MemoryBackend:
		return f.createMemoryStore(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteStore(config Config) (*StoreResult, error) {
	store, err := sqlite.New(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &StoreResult{Store: store, Cleanup: store.Close}, nil
}

func (f *DefaultFactory) createPostgresStore(ctx context.Context, config Config) (*StoreResult, error) {
	store, err := postgres.New(ctx, postgres.Config{URL: config.DatabaseURL}, f.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
	}
	f.logger.Info("Initialized Postgres backend")
	return &StoreResult{Store: store, Cleanup: store.Close}, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) (*StoreResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store := memory.NewFromFiles(dataDir)
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return &StoreResult{Store: store, Cleanup: store.Close}, nil
}

// CreateMirror implements Factory.CreateMirror
func (f *DefaultFactory) CreateMirror(ctx context.Context, config Config) (sheets.MonthMirror, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Warn("No spreadsheet configured, mirroring to memory only")
		return memmirror.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		ServiceAccountFile: config.GoogleServiceAccountFile,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
	}, f.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets mirror: %w", err)
	}
	f.logger.Info("Initialized Google Sheets mirror", "spreadsheet_id", config.GoogleSpreadsheetID)
	return client, nil
}
