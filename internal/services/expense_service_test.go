package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/storage"
	"expensegrid/internal/storage/memory"
	"expensegrid/internal/storage/sqlite"
)

type published struct {
	Year   int
	Month  int
	Reason string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) PublishMonthChanged(_ context.Context, year, month int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{year, month, reason})
	return p.err
}

func (p *recordingPublisher) Events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type backend struct {
	name string
	open func(t *testing.T) storage.Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) storage.Store { return memory.New() }},
		{"sqlite", func(t *testing.T) storage.Store {
			s, err := sqlite.New(filepath.Join(t.TempDir(), "expenses.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func newTestService(t *testing.T, store storage.Store) (*ExpenseService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	logger := log.New(log.Config{Output: io.Discard})
	return NewExpenseService(store, logger, WithPublisher(pub)), pub
}

func mustCategory(t *testing.T, svc *ExpenseService, name string) core.Category {
	t.Helper()
	c, err := svc.CreateCategory(context.Background(), name)
	require.NoError(t, err)
	return c
}

func mustFields(t *testing.T, date, title, amount string, categoryID int64) core.ExpenseFields {
	t.Helper()
	d, err := core.ParseDate(date)
	require.NoError(t, err)
	return core.ExpenseFields{Date: d, Title: title, Amount: decimal.RequireFromString(amount), CategoryID: categoryID}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, svc *ExpenseService, pub *recordingPublisher)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			svc, pub := newTestService(t, b.open(t))
			fn(t, svc, pub)
		})
	}
}

func TestCreateCategory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()

		c, err := svc.CreateCategory(ctx, "  Groceries ")
		require.NoError(t, err)
		require.Equal(t, "Groceries", c.Name)

		_, err = svc.CreateCategory(ctx, "Groceries")
		require.True(t, core.IsValidation(err), "duplicate should be a validation error, got %v", err)
		require.Contains(t, err.Error(), "already exists")

		_, err = svc.CreateCategory(ctx, "   ")
		require.True(t, core.IsValidation(err))

		long := make([]byte, 101)
		for i := range long {
			long[i] = 'x'
		}
		_, err = svc.CreateCategory(ctx, string(long))
		require.True(t, core.IsValidation(err))

		list, err := svc.ListCategories(ctx)
		require.NoError(t, err)
		require.Equal(t, []core.Category{c}, list)
	})
}

func TestExpenseCRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")

		e, err := svc.CreateExpense(ctx, mustFields(t, "2025-03-10", "Lunch", "12.5", food.ID))
		require.NoError(t, err)
		require.Equal(t, food, e.Category)

		updated, err := svc.UpdateExpense(ctx, e.ID, mustFields(t, "2025-04-01", "Dinner", "20", food.ID))
		require.NoError(t, err)
		require.Equal(t, "Dinner", updated.Title)
		require.Equal(t, "2025-04-01", updated.Date.String())

		require.NoError(t, svc.DeleteExpense(ctx, e.ID))

		_, err = svc.GetExpense(ctx, e.ID)
		require.True(t, core.IsNotFound(err))

		require.Equal(t, []published{
			{2025, 3, "create"},
			{2025, 3, "update"},
			{2025, 4, "update"},
			{2025, 4, "delete"},
		}, pub.Events())
	})
}

func TestExpenseCRUD_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")

		_, err := svc.CreateExpense(ctx, mustFields(t, "2025-03-10", "Lunch", "1", 999))
		require.True(t, core.IsValidation(err), "unknown category: %v", err)

		_, err = svc.UpdateExpense(ctx, 4242, mustFields(t, "2025-03-10", "Lunch", "1", food.ID))
		require.True(t, core.IsNotFound(err), "update missing: %v", err)

		err = svc.DeleteExpense(ctx, 4242)
		require.True(t, core.IsNotFound(err), "delete missing: %v", err)

		_, err = svc.CreateExpense(ctx, core.ExpenseFields{Title: "No date", CategoryID: food.ID})
		require.True(t, core.IsValidation(err))

		require.Empty(t, pub.Events())
	})
}

func TestReconcile_CreatesPendingRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")

		saved, err := svc.Reconcile(ctx, []core.ExpenseInput{{
			Key:        core.Pending("tmp-1"),
			Year:       "2025",
			Month:      "4",
			Day:        "5",
			Title:      "Coffee",
			Amount:     "4.5",
			CategoryID: "1",
		}}, nil)
		require.NoError(t, err)
		require.Len(t, saved, 1)

		got := saved[0]
		require.NotZero(t, got.ID)
		require.Equal(t, "tmp-1", got.LocalKey)
		require.Equal(t, "2025-04-05", got.Date.String())
		require.True(t, got.Amount.Equal(decimal.RequireFromString("4.5")))
		require.Equal(t, food.ID, got.CategoryID)
		require.Equal(t, "Food", got.Category.Name)

		require.Equal(t, []published{{2025, 4, "reconcile"}}, pub.Events())
	})
}

func TestReconcile_ValidationPersistsNothing(t *testing.T) {
	tests := []struct {
		name    string
		row     core.ExpenseInput
		wantMsg string
	}{
		{
			name:    "non numeric category",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "4", Title: "Taxi", Amount: "9", CategoryID: "abc"},
			wantMsg: "Taxi",
		},
		{
			name:    "unknown category",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "4", Title: "Taxi", Amount: "9", CategoryID: "77"},
			wantMsg: "category 77 does not exist",
		},
		{
			name:    "impossible date",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "2", Day: "30", Title: "Leap", Amount: "9", CategoryID: "1"},
			wantMsg: "Leap",
		},
		{
			name:    "blank amount",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "4", Title: "Nothing", Amount: " ", CategoryID: "1"},
			wantMsg: "amount",
		},
		{
			name:    "malformed amount",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "4", Title: "Weird", Amount: "12abc", CategoryID: "1"},
			wantMsg: "amount",
		},
		{
			name:    "amount beyond storable range",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "2025", Month: "4", Title: "Huge", Amount: "100000000000000000000", CategoryID: "1"},
			wantMsg: "out of range",
		},
		{
			name:    "five digit year",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "10000", Month: "1", Title: "Future", Amount: "9", CategoryID: "1"},
			wantMsg: "Future",
		},
		{
			name:    "year zero",
			row:     core.ExpenseInput{Key: core.Pending("b"), Year: "0", Month: "1", Title: "Past", Amount: "9", CategoryID: "1"},
			wantMsg: "Past",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
				ctx := context.Background()
				food := mustCategory(t, svc, "Food")
				existing, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-01", "Rent", "500", food.ID))
				require.NoError(t, err)

				valid := core.ExpenseInput{Key: core.Pending("a"), Year: "2025", Month: "4", Day: "2", Title: "Bread", Amount: "2", CategoryID: "1"}
				_, err = svc.Reconcile(ctx, []core.ExpenseInput{valid, tt.row}, []int64{existing.ID})
				require.Error(t, err)
				require.True(t, core.IsValidation(err), "got %T: %v", err, err)
				require.Contains(t, err.Error(), tt.wantMsg)

				list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
				require.NoError(t, err)
				require.Len(t, list, 1)
				require.Equal(t, existing.ID, list[0].ID)
				require.Len(t, pub.Events(), 1, "only the setup create is published")
			})
		})
	}
}

func TestAmountLimits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")

		_, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-05", "Huge", "1000000000000", food.ID))
		var ve *core.ValidationError
		require.ErrorAs(t, err, &ve)
		require.Equal(t, "amount", ve.Field)

		saved, err := svc.Reconcile(ctx, []core.ExpenseInput{
			{Key: core.Pending("max"), Year: "2025", Month: "4", Day: "5", Title: "Max", Amount: "999999999999.99", CategoryID: "1"},
		}, nil)
		require.NoError(t, err)
		require.Len(t, saved, 1)

		list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "999999999999.99", core.FormatAmount(list[0].Amount))
	})
}

func TestReconcile_UpdateOfMissingRowRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		keep, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-01", "Rent", "500", food.ID))
		require.NoError(t, err)

		_, err = svc.Reconcile(ctx, []core.ExpenseInput{
			{Key: core.Pending("new"), Year: "2025", Month: "4", Title: "Bread", Amount: "2", CategoryID: "1"},
			{Key: core.Identified(9999), Year: "2025", Month: "4", Title: "Ghost", Amount: "1", CategoryID: "1"},
		}, []int64{keep.ID})
		require.True(t, core.IsNotFound(err), "got %v", err)
		require.Contains(t, err.Error(), "Ghost")

		list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "Rent", list[0].Title)
	})
}

func TestReconcile_MixedBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		fun := mustCategory(t, svc, "Fun")
		a, err := svc.CreateExpense(ctx, mustFields(t, "2025-03-31", "A", "1", food.ID))
		require.NoError(t, err)
		b, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-02", "B", "2", food.ID))
		require.NoError(t, err)
		c, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-03", "C", "3", food.ID))
		require.NoError(t, err)

		rows := []core.ExpenseInput{
			{Key: core.Pending("x"), Year: "2025", Month: "4", Day: "10", Title: "X", Amount: "10", CategoryID: "2"},
			{Key: core.Identified(b.ID), Year: "2025", Month: "4", Day: "2", Title: "B2", Amount: "2,5", CategoryID: "2"},
			{Key: core.Pending("y"), Year: "2025", Month: "4", Title: "Y", Amount: "7", CategoryID: "1"},
		}
		saved, err := svc.Reconcile(ctx, rows, []int64{a.ID, c.ID, 12345})
		require.NoError(t, err)
		require.Len(t, saved, 3)

		require.Equal(t, "x", saved[0].LocalKey)
		require.Equal(t, b.ID, saved[1].ID)
		require.Empty(t, saved[1].LocalKey)
		require.Equal(t, "B2", saved[1].Title)
		require.Equal(t, "2.50", core.FormatAmount(saved[1].Amount))
		require.Equal(t, fun, saved[1].Category)
		require.Equal(t, "2025-04-01", saved[2].Date.String())

		list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
		require.NoError(t, err)
		ids := map[int64]bool{}
		for _, e := range list {
			ids[e.ID] = true
		}
		require.False(t, ids[a.ID])
		require.False(t, ids[c.ID])
		for _, s := range saved {
			require.True(t, ids[s.ID], "saved row %d missing from list", s.ID)
		}
		require.Len(t, list, 3)

		events := pub.Events()
		require.Equal(t, []published{{2025, 3, "reconcile"}, {2025, 4, "reconcile"}}, events[len(events)-2:])
	})
}

func TestReconcile_DeletionsAreIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		e, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-01", "Rent", "500", food.ID))
		require.NoError(t, err)

		saved, err := svc.Reconcile(ctx, nil, []int64{e.ID, e.ID})
		require.NoError(t, err)
		require.Empty(t, saved)

		_, err = svc.Reconcile(ctx, nil, []int64{e.ID})
		require.NoError(t, err)

		list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
		require.NoError(t, err)
		require.Empty(t, list)
	})
}

func TestReconcile_EmptyBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, pub *recordingPublisher) {
		saved, err := svc.Reconcile(context.Background(), nil, nil)
		require.NoError(t, err)
		require.NotNil(t, saved)
		require.Empty(t, saved)
		require.Empty(t, pub.Events())
	})
}

func TestReconcile_PublishFailureDoesNotFailSave(t *testing.T) {
	store := memory.New("Food")
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewExpenseService(store, log.New(log.Config{Output: io.Discard}), WithPublisher(pub))

	saved, err := svc.Reconcile(context.Background(), []core.ExpenseInput{
		{Key: core.Pending("k"), Year: "2025", Month: "1", Title: "Tea", Amount: "3", CategoryID: "1"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Len(t, pub.Events(), 1)
}

func TestListExpenses_Query(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		fun := mustCategory(t, svc, "Fun")
		for _, f := range []core.ExpenseFields{
			mustFields(t, "2025-01-15", "Pizza", "9", food.ID),
			mustFields(t, "2025-02-01", "Cinema", "12", fun.ID),
			mustFields(t, "2025-02-20", "Bread", "2", food.ID),
		} {
			_, err := svc.CreateExpense(ctx, f)
			require.NoError(t, err)
		}

		list, err := svc.ListExpenses(ctx, core.ExpenseQuery{})
		require.NoError(t, err)
		require.Equal(t, []string{"Bread", "Cinema", "Pizza"}, titles(list))

		list, err = svc.ListExpenses(ctx, core.ExpenseQuery{CategoryName: "Food", SortBy: core.SortByAmount})
		require.NoError(t, err)
		require.Equal(t, []string{"Bread", "Pizza"}, titles(list))

		list, err = svc.ListExpenses(ctx, core.ExpenseQuery{Year: 2025, Month: 2, SortBy: core.SortByTitle, Order: core.Desc})
		require.NoError(t, err)
		require.Equal(t, []string{"Cinema", "Bread"}, titles(list))

		list, err = svc.ListExpenses(ctx, core.ExpenseQuery{CategoryName: "Nope"})
		require.NoError(t, err)
		require.NotNil(t, list)
		require.Empty(t, list)

		_, err = svc.ListExpenses(ctx, core.ExpenseQuery{Month: 2})
		require.True(t, core.IsValidation(err))
	})
}

func titles(list []core.Expense) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Title)
	}
	return out
}

func TestMonthlyReport(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		for _, f := range []core.ExpenseFields{
			mustFields(t, "2024-12-31", "NYE", "50", food.ID),
			mustFields(t, "2025-01-01", "Brunch", "20.25", food.ID),
			mustFields(t, "2025-01-31", "Snack", "1.75", food.ID),
		} {
			_, err := svc.CreateExpense(ctx, f)
			require.NoError(t, err)
		}

		report, err := svc.MonthlyReport(ctx)
		require.NoError(t, err)
		require.Len(t, report, 2)
		require.Equal(t, 2025, report[0].Year)
		require.Equal(t, 1, report[0].Month)
		require.Equal(t, "22.00", core.FormatAmount(report[0].Total))
		require.Equal(t, 2024, report[1].Year)
		require.Equal(t, "50.00", core.FormatAmount(report[1].Total))
	})
}

func TestDashboard(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *ExpenseService, _ *recordingPublisher) {
		ctx := context.Background()
		food := mustCategory(t, svc, "Food")
		mustCategory(t, svc, "Transport")
		_, err := svc.CreateExpense(ctx, mustFields(t, "2025-04-12", "Groceries", "10", food.ID))
		require.NoError(t, err)
		_, err = svc.CreateExpense(ctx, mustFields(t, "2025-05-01", "Later", "99", food.ID))
		require.NoError(t, err)

		overview, err := svc.Dashboard(ctx, 2025, 4)
		require.NoError(t, err)
		require.Equal(t, "10.00", core.FormatAmount(overview.Total))

		per := overview.PerCategory()
		require.Len(t, per, 2)
		require.Equal(t, "10.00", core.FormatAmount(per["Food"]))
		require.True(t, per["Transport"].IsZero())

		_, err = svc.Dashboard(ctx, 2025, 13)
		require.True(t, core.IsValidation(err))
	})
}

type failingStore struct {
	storage.Store
}

func (failingStore) ListExpenses(context.Context, core.ExpenseQuery) ([]core.Expense, error) {
	return nil, errors.New("disk I/O error")
}

func (failingStore) ListCategories(context.Context) ([]core.Category, error) {
	return nil, errors.New("disk I/O error")
}

func TestPersistenceErrorsAreOpaque(t *testing.T) {
	svc := NewExpenseService(failingStore{memory.New()}, log.New(log.Config{Output: io.Discard}))

	_, err := svc.ListExpenses(context.Background(), core.ExpenseQuery{})
	require.True(t, core.IsPersistence(err))
	require.Equal(t, "list expenses failed", err.Error())
	require.ErrorContains(t, errors.Unwrap(err), "disk I/O error")

	_, err = svc.Reconcile(context.Background(), []core.ExpenseInput{
		{Key: core.Pending("k"), Year: "2025", Month: "1", Title: "Tea", Amount: "3", CategoryID: "1"},
	}, nil)
	require.True(t, core.IsPersistence(err))
}

// slowReportStore holds MonthlyTotals until release is closed or the query
// context ends.
type slowReportStore struct {
	*memory.Store
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *slowReportStore) MonthlyTotals(ctx context.Context) ([]core.MonthTotal, error) {
	s.calls.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
		return s.Store.MonthlyTotals(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestMonthlyReport_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &slowReportStore{
		Store:   memory.New("Food"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc := NewExpenseService(store, log.New(log.Config{Output: io.Discard}))
	_, err := svc.CreateExpense(context.Background(), mustFields(t, "2025-04-05", "Bread", "2.50", 1))
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.MonthlyReport(ctxA)
		errA <- err
	}()
	<-store.started

	type result struct {
		totals []core.MonthTotal
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		totals, err := svc.MonthlyReport(context.Background())
		resB <- result{totals, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(store.release)
	got := <-resB
	require.NoError(t, got.err)
	require.Len(t, got.totals, 1)
	require.Equal(t, "2.50", core.FormatAmount(got.totals[0].Total))
	require.LessOrEqual(t, store.calls.Load(), int32(2))
}

func TestUniquePeriods(t *testing.T) {
	got := uniquePeriods([]core.Period{{Year: 2025, Month: 4}, {Year: 2024, Month: 12}, {Year: 2025, Month: 4}, {Year: 2025, Month: 1}})
	require.Equal(t, []core.Period{{Year: 2024, Month: 12}, {Year: 2025, Month: 1}, {Year: 2025, Month: 4}}, got)
}
