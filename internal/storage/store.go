// Package storage defines the persistence contract shared by the SQLite,
// Postgres and in-memory backends.
package storage

import (
	"context"
	"errors"

	"expensegrid/internal/core"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// PlannedRow is one validated row of a batch. Pending keys are inserted,
// Identified keys are updated in place.
type PlannedRow struct {
	Key    core.RowKey
	Fields core.ExpenseFields
	// Label names the row in NotFoundError messages.
	Label string
}

// Batch is a validated bulk save. Deletions run first; ids that do not exist
// are ignored.
type Batch struct {
	Rows    []PlannedRow
	Deleted []int64
}

// Empty reports whether applying the batch would change nothing.
func (b Batch) Empty() bool {
	return len(b.Rows) == 0 && len(b.Deleted) == 0
}

// BatchResult reports what a Reconcile call persisted.
type BatchResult struct {
	// Saved holds the persisted rows in the order of Batch.Rows.
	Saved []core.SavedExpense
	// Deleted holds the expenses that existed and were removed.
	Deleted []core.Expense
	// Replaced holds the previous version of every updated row.
	Replaced []core.Expense
}

type CategoryStore interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	GetCategory(ctx context.Context, id int64) (core.Category, error)
	// CreateCategory returns ErrConflict when the name is taken.
	CreateCategory(ctx context.Context, name string) (core.Category, error)
}

type ExpenseStore interface {
	// ListExpenses returns the expenses matching q, ordered as q says, each
	// with its category resolved.
	ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error)
	UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) (core.Expense, error)
	// MonthlyTotals sums amounts per calendar month, newest month first.
	MonthlyTotals(ctx context.Context) ([]core.MonthTotal, error)
	// Reconcile applies a batch atomically. When an Identified row does not
	// exist it returns a *core.NotFoundError and nothing is written.
	Reconcile(ctx context.Context, b Batch) (BatchResult, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	CategoryStore
	ExpenseStore
	Ping(ctx context.Context) error
	Close() error
}
