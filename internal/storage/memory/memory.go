// Package memory is an in-process storage.Store used for tests and local
// runs without a database file.
package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"expensegrid/internal/core"
	"expensegrid/internal/storage"
)

type state struct {
	cats     []core.Category
	expenses map[int64]core.ExpenseFields
	nextCat  int64
	nextExp  int64
}

func (st *state) clone() *state {
	c := &state{
		cats:     append([]core.Category(nil), st.cats...),
		expenses: make(map[int64]core.ExpenseFields, len(st.expenses)),
		nextCat:  st.nextCat,
		nextExp:  st.nextExp,
	}
	for id, f := range st.expenses {
		c.expenses[id] = f
	}
	return c
}

type Store struct {
	mu sync.RWMutex
	st *state
}

var _ storage.Store = (*Store)(nil)

// New returns a store seeded with the given category names.
func New(categories ...string) *Store {
	s := &Store{st: &state{expenses: map[int64]core.ExpenseFields{}}}
	for _, name := range dedupe(categories) {
		s.st.nextCat++
		s.st.cats = append(s.st.cats, core.Category{ID: s.st.nextCat, Name: name})
	}
	return s
}

// NewFromFiles seeds categories from base/seed_categories.txt, one per line.
// Blank lines and lines starting with # are skipped.
func NewFromFiles(base string) *Store {
	return New(readLines(filepath.Join(base, "seed_categories.txt"))...)
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) ListCategories(context.Context) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Category(nil), s.st.cats...), nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.category(id)
	if !ok {
		return core.Category{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCategory(_ context.Context, name string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.st.cats {
		if c.Name == name {
			return core.Category{}, storage.ErrConflict
		}
	}
	s.st.nextCat++
	c := core.Category{ID: s.st.nextCat, Name: name}
	s.st.cats = append(s.st.cats, c)
	return c, nil
}

func (s *Store) ListExpenses(_ context.Context, q core.ExpenseQuery) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Expense, 0, len(s.st.expenses))
	for id := range s.st.expenses {
		e := s.st.expense(id)
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return q.Less(out[i], out[j]) })
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.st.expenses[id]; !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	return s.st.expense(id), nil
}

func (s *Store) CreateExpense(_ context.Context, f core.ExpenseFields) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.create(f)
}

func (s *Store) UpdateExpense(_ context.Context, id int64, f core.ExpenseFields) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.update(id, f)
}

func (s *Store) DeleteExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.delete(id)
}

func (s *Store) MonthlyTotals(context.Context) ([]core.MonthTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := map[core.Period]decimal.Decimal{}
	for _, f := range s.st.expenses {
		p := core.PeriodOf(f.Date)
		sums[p] = sums[p].Add(f.Amount)
	}
	out := make([]core.MonthTotal, 0, len(sums))
	for p, total := range sums {
		out = append(out, core.MonthTotal{Year: p.Year, Month: p.Month, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, nil
}

// Reconcile applies the batch to a staged copy of the store and swaps it in
// only when every step succeeded.
func (s *Store) Reconcile(_ context.Context, b storage.Batch) (storage.BatchResult, error) {
	result := storage.BatchResult{Saved: make([]core.SavedExpense, 0, len(b.Rows))}
	if b.Empty() {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.st.clone()

	for _, id := range b.Deleted {
		e, err := staged.delete(id)
		if err != nil {
			continue
		}
		result.Deleted = append(result.Deleted, e)
	}

	for _, row := range b.Rows {
		var (
			saved core.Expense
			err   error
		)
		if id, ok := row.Key.ID(); ok {
			if _, exists := staged.expenses[id]; !exists {
				return storage.BatchResult{}, &core.NotFoundError{Entity: "expense", ID: id, Row: row.Label}
			}
			result.Replaced = append(result.Replaced, staged.expense(id))
			saved, err = staged.update(id, row.Fields)
		} else {
			saved, err = staged.create(row.Fields)
		}
		if err != nil {
			return storage.BatchResult{}, err
		}
		result.Saved = append(result.Saved, core.SavedExpense{Expense: saved, LocalKey: row.Key.LocalKey()})
	}

	s.st = staged
	return result, nil
}

func (st *state) category(id int64) (core.Category, bool) {
	for _, c := range st.cats {
		if c.ID == id {
			return c, true
		}
	}
	return core.Category{}, false
}

// expense resolves a stored row with its category. The caller checks that
// id exists.
func (st *state) expense(id int64) core.Expense {
	f := st.expenses[id]
	c, _ := st.category(f.CategoryID)
	return core.Expense{
		ID:         id,
		Date:       f.Date,
		Title:      f.Title,
		Amount:     f.Amount,
		CategoryID: f.CategoryID,
		Category:   c,
	}
}

func (st *state) create(f core.ExpenseFields) (core.Expense, error) {
	if _, ok := st.category(f.CategoryID); !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	st.nextExp++
	st.expenses[st.nextExp] = f
	return st.expense(st.nextExp), nil
}

func (st *state) update(id int64, f core.ExpenseFields) (core.Expense, error) {
	if _, ok := st.expenses[id]; !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	if _, ok := st.category(f.CategoryID); !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	st.expenses[id] = f
	return st.expense(id), nil
}

func (st *state) delete(id int64) (core.Expense, error) {
	if _, ok := st.expenses[id]; !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	e := st.expense(id)
	delete(st.expenses, id)
	return e, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
