// Package backend builds the storage and mirror implementations selected
// by configuration.
package backend

import (
	"context"

	"expensegrid/internal/sheets"
	"expensegrid/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store instance and optional cleanup function
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory creates stores and mirrors based on configuration
type Factory interface {
	// CreateStore opens the expense store selected by config.Type.
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)

	// CreateMirror returns the Google Sheets mirror when a spreadsheet is
	// configured and an in-memory mirror otherwise.
	CreateMirror(ctx context.Context, config Config) (sheets.MonthMirror, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	DatabaseURL string

	// Memory backend specific
	DataDirectory string

	// Google Sheets mirror
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
