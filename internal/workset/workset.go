// Package workset holds the client side state of the expense grid: the
// rows being edited, the ids deleted since the last save and the month
// currently shown.
package workset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"expensegrid/internal/core"
)

// Reconciler persists a batch of grid rows and deletions atomically.
type Reconciler interface {
	Reconcile(ctx context.Context, rows []core.ExpenseInput, deletedIDs []int64) ([]core.SavedExpense, error)
}

// Lister fetches the canonical expense list.
type Lister interface {
	ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error)
}

// Field names an editable grid column.
type Field string

const (
	FieldTitle      Field = "title"
	FieldAmount     Field = "amount"
	FieldCategoryID Field = "categoryId"
	FieldDay        Field = "day"
	FieldYear       Field = "year"
	FieldMonth      Field = "month"
)

var (
	ErrUnknownRow   = errors.New("unknown row")
	ErrUnknownField = errors.New("unknown field")
)

// Filter selects the month shown in the grid.
type Filter struct {
	Year  int
	Month int
}

// matches compares the row's year and month as numbers, so "04" and " 4"
// both select April. Rows whose cells do not parse match no filter.
func (f Filter) matches(row core.ExpenseInput) bool {
	year, err := strconv.Atoi(strings.TrimSpace(row.Year))
	if err != nil {
		return false
	}
	month, err := strconv.Atoi(strings.TrimSpace(row.Month))
	if err != nil {
		return false
	}
	return year == f.Year && month == f.Month
}

// Store is the working set of one editing session. Rows stay as text until
// Save, so edits are never rejected locally.
type Store struct {
	mu               sync.Mutex
	reconciler       Reconciler
	lister           Lister
	filter           Filter
	rows             []core.ExpenseInput
	pendingDeletions []int64
	newKey           func() string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyGenerator replaces the uuid based local key generator.
func WithKeyGenerator(f func() string) Option {
	return func(s *Store) { s.newKey = f }
}

// New returns an empty store showing filter.
func New(r Reconciler, l Lister, filter Filter, opts ...Option) *Store {
	s := &Store{
		reconciler: r,
		lister:     l,
		filter:     filter,
		newKey:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFilter changes the month shown. It does not fetch anything.
func (s *Store) SetFilter(year, month int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = Filter{Year: year, Month: month}
}

func (s *Store) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Load replaces the working set with the canonical list and forgets
// pending deletions.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.pendingDeletions = nil
	return nil
}

// AddBlankRow appends an unsaved row dated in the current filter month and
// returns its key.
func (s *Store) AddBlankRow() core.RowKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.Pending(s.newKey())
	s.rows = append(s.rows, core.ExpenseInput{
		Key:   key,
		Year:  strconv.Itoa(s.filter.Year),
		Month: strconv.Itoa(s.filter.Month),
	})
	return key
}

// DeleteRow removes a row. Persisted rows are remembered so the next Save
// deletes them on the server.
func (s *Store) DeleteRow(key core.RowKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(key)
	if i < 0 {
		return fmt.Errorf("delete %s: %w", key, ErrUnknownRow)
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	if id, ok := key.ID(); ok {
		s.pendingDeletions = append(s.pendingDeletions, id)
	}
	return nil
}

// EditCell replaces one cell of a row. The value is not validated.
func (s *Store) EditCell(key core.RowKey, field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(key)
	if i < 0 {
		return fmt.Errorf("edit %s: %w", key, ErrUnknownRow)
	}
	row := &s.rows[i]
	switch field {
	case FieldTitle:
		row.Title = value
	case FieldAmount:
		row.Amount = value
	case FieldCategoryID:
		row.CategoryID = value
	case FieldDay:
		row.Day = value
	case FieldYear:
		row.Year = value
	case FieldMonth:
		row.Month = value
	default:
		return fmt.Errorf("edit %s: %w %q", key, ErrUnknownField, field)
	}
	return nil
}

// Save sends every row and pending deletion in one batch. On success the
// working set is reloaded from the server and pending deletions are
// cleared; on failure nothing changes and the error is returned.
func (s *Store) Save(ctx context.Context) ([]core.SavedExpense, error) {
	s.mu.Lock()
	rows := make([]core.ExpenseInput, len(s.rows))
	for i, row := range s.rows {
		if row.Day == "" {
			row.Day = "1"
		}
		rows[i] = row
	}
	deleted := append([]int64(nil), s.pendingDeletions...)
	s.mu.Unlock()

	saved, err := s.reconciler.Reconcile(ctx, rows, deleted)
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	fresh, err := s.fetch(ctx)
	if err != nil {
		// The batch is committed; fall back to the rows the server echoed so
		// pending rows are not created twice.
		fresh = make([]core.ExpenseInput, 0, len(saved))
		for _, e := range saved {
			fresh = append(fresh, core.InputFromExpense(e.Expense))
		}
		s.mu.Lock()
		s.rows = fresh
		s.pendingDeletions = nil
		s.mu.Unlock()
		return saved, fmt.Errorf("reload after save: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = fresh
	s.pendingDeletions = nil
	return saved, nil
}

// Visible returns copies of the rows in the filter month, in working set
// order.
func (s *Store) Visible() []core.ExpenseInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExpenseInput, 0, len(s.rows))
	for _, row := range s.rows {
		if s.filter.matches(row) {
			out = append(out, row)
		}
	}
	return out
}

// Rows returns a copy of the whole working set.
func (s *Store) Rows() []core.ExpenseInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ExpenseInput(nil), s.rows...)
}

// PendingDeletions returns the ids that the next Save will delete.
func (s *Store) PendingDeletions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.pendingDeletions...)
}

// Dirty reports whether the working set has unsaved rows or deletions.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingDeletions) > 0 {
		return true
	}
	for _, row := range s.rows {
		if row.Key.IsPending() {
			return true
		}
	}
	return false
}

func (s *Store) fetch(ctx context.Context) ([]core.ExpenseInput, error) {
	expenses, err := s.lister.ListExpenses(ctx, core.ExpenseQuery{})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	rows := make([]core.ExpenseInput, 0, len(expenses))
	for _, e := range expenses {
		rows = append(rows, core.InputFromExpense(e))
	}
	return rows, nil
}

func (s *Store) index(key core.RowKey) int {
	for i, row := range s.rows {
		if row.Key == key {
			return i
		}
	}
	return -1
}
