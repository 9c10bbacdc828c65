// Package storagetest holds the behavioral checks every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expensegrid/internal/core"
	"expensegrid/internal/storage"
)

// Factory returns an empty, migrated store. The store is closed by the
// caller's cleanup.
type Factory func(t *testing.T) storage.Store

// Run exercises a backend against the shared contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("Categories", func(t *testing.T) { testCategories(t, newStore(t)) })
	t.Run("ExpenseCRUD", func(t *testing.T) { testExpenseCRUD(t, newStore(t)) })
	t.Run("ListOrderingAndFilters", func(t *testing.T) { testListing(t, newStore(t)) })
	t.Run("MonthlyTotals", func(t *testing.T) { testMonthlyTotals(t, newStore(t)) })
	t.Run("AmountLimits", func(t *testing.T) { testAmountLimits(t, newStore(t)) })
	t.Run("ReconcileApplies", func(t *testing.T) { testReconcileApplies(t, newStore(t)) })
	t.Run("ReconcileIsAtomic", func(t *testing.T) { testReconcileAtomic(t, newStore(t)) })
	t.Run("ReconcileEmpty", func(t *testing.T) { testReconcileEmpty(t, newStore(t)) })
}

func fields(t *testing.T, date string, title, amount string, categoryID int64) core.ExpenseFields {
	t.Helper()
	d, err := core.ParseDate(date)
	require.NoError(t, err)
	return core.ExpenseFields{Date: d, Title: title, Amount: decimal.RequireFromString(amount), CategoryID: categoryID}
}

func seedCategories(t *testing.T, s storage.Store, names ...string) []core.Category {
	t.Helper()
	out := make([]core.Category, 0, len(names))
	for _, n := range names {
		c, err := s.CreateCategory(context.Background(), n)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func testCategories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food", "Rent")
	require.NotZero(t, cats[0].ID)
	require.NotEqual(t, cats[0].ID, cats[1].ID)

	_, err := s.CreateCategory(ctx, "Food")
	require.ErrorIs(t, err, storage.ErrConflict)

	list, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Equal(t, cats, list)

	got, err := s.GetCategory(ctx, cats[1].ID)
	require.NoError(t, err)
	require.Equal(t, "Rent", got.Name)

	_, err = s.GetCategory(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// testAmountLimits stores the largest amounts core.ParseAmount accepts and
// expects them back unchanged.
func testAmountLimits(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food")

	for _, amount := range []string{"999999999999.99", "-999999999999.99"} {
		parsed, err := core.ParseAmount(amount)
		require.NoError(t, err)

		created, err := s.CreateExpense(ctx, core.ExpenseFields{
			Date:       core.NewDate(2025, 4, 5),
			Title:      "Limit",
			Amount:     parsed,
			CategoryID: cats[0].ID,
		})
		require.NoError(t, err)
		require.Equal(t, amount, core.FormatAmount(created.Amount))

		got, err := s.GetExpense(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, amount, core.FormatAmount(got.Amount))
	}

	totals, err := s.MonthlyTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.Equal(t, "0.00", core.FormatAmount(totals[0].Total))
}

func testExpenseCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food", "Fun")

	created, err := s.CreateExpense(ctx, fields(t, "2025-03-04", "Lunch", "12.50", cats[0].ID))
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, "2025-03-04", created.Date.String())
	require.Equal(t, "12.50", core.FormatAmount(created.Amount))
	require.Equal(t, cats[0], created.Category)

	updated, err := s.UpdateExpense(ctx, created.ID, fields(t, "2025-03-05", "Dinner", "-3", cats[1].ID))
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "Dinner", updated.Title)
	require.Equal(t, "-3.00", core.FormatAmount(updated.Amount))
	require.Equal(t, "Fun", updated.Category.Name)

	_, err = s.UpdateExpense(ctx, 9999, fields(t, "2025-03-05", "x", "1", cats[0].ID))
	require.ErrorIs(t, err, storage.ErrNotFound)

	deleted, err := s.DeleteExpense(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Dinner", deleted.Title)

	_, err = s.GetExpense(ctx, created.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.DeleteExpense(ctx, created.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testListing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food", "Rent")
	mk := func(date, title, amount string, cat int64) int64 {
		e, err := s.CreateExpense(ctx, fields(t, date, title, amount, cat))
		require.NoError(t, err)
		return e.ID
	}
	a := mk("2025-03-01", "b", "5", cats[0].ID)
	b := mk("2025-03-01", "a", "700", cats[1].ID)
	c := mk("2025-04-09", "c", "1", cats[0].ID)
	d := mk("2024-12-31", "d", "2", cats[1].ID)

	ids := func(q core.ExpenseQuery) []int64 {
		q, err := q.Normalize()
		require.NoError(t, err)
		list, err := s.ListExpenses(ctx, q)
		require.NoError(t, err)
		out := make([]int64, 0, len(list))
		for _, e := range list {
			require.Equal(t, e.CategoryID, e.Category.ID)
			out = append(out, e.ID)
		}
		return out
	}

	require.Equal(t, []int64{c, b, a, d}, ids(core.ExpenseQuery{}))
	require.Equal(t, []int64{c, d, a, b}, ids(core.ExpenseQuery{SortBy: core.SortByAmount}))
	require.Equal(t, []int64{b, a, d, c}, ids(core.ExpenseQuery{SortBy: core.SortByAmount, Order: core.Desc}))
	require.Equal(t, []int64{b, a, c, d}, ids(core.ExpenseQuery{SortBy: core.SortByTitle}))
	require.Equal(t, []int64{a, c}, ids(core.ExpenseQuery{SortBy: core.SortByID, CategoryName: "Food"}))
	require.Equal(t, []int64{a, b}, ids(core.ExpenseQuery{SortBy: core.SortByID, Year: 2025, Month: 3}))
	require.Equal(t, []int64{a, b, c}, ids(core.ExpenseQuery{SortBy: core.SortByID, Year: 2025}))
	require.Empty(t, ids(core.ExpenseQuery{CategoryName: "Nope"}))
}

func testMonthlyTotals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food")
	for _, f := range []core.ExpenseFields{
		fields(t, "2025-03-01", "", "0.10", cats[0].ID),
		fields(t, "2025-03-31", "", "0.20", cats[0].ID),
		fields(t, "2025-01-15", "", "7", cats[0].ID),
		fields(t, "2024-11-02", "", "-1", cats[0].ID),
	} {
		_, err := s.CreateExpense(ctx, f)
		require.NoError(t, err)
	}

	totals, err := s.MonthlyTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 3)
	require.Equal(t, 2025, totals[0].Year)
	require.Equal(t, 3, totals[0].Month)
	require.Equal(t, "0.30", core.FormatAmount(totals[0].Total))
	require.Equal(t, 1, totals[1].Month)
	require.Equal(t, 2024, totals[2].Year)
	require.Equal(t, "-1.00", core.FormatAmount(totals[2].Total))
}

func testReconcileApplies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food")
	keep, err := s.CreateExpense(ctx, fields(t, "2025-02-01", "keep", "1", cats[0].ID))
	require.NoError(t, err)
	gone, err := s.CreateExpense(ctx, fields(t, "2025-02-02", "gone", "2", cats[0].ID))
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, storage.Batch{
		Rows: []storage.PlannedRow{
			{Key: core.Pending("tmp-1"), Fields: fields(t, "2025-02-10", "new", "3", cats[0].ID), Label: "new"},
			{Key: core.Identified(keep.ID), Fields: fields(t, "2025-02-03", "kept", "4", cats[0].ID), Label: "kept"},
		},
		Deleted: []int64{gone.ID, 424242},
	})
	require.NoError(t, err)
	require.Len(t, res.Saved, 2)
	require.Equal(t, "tmp-1", res.Saved[0].LocalKey)
	require.Equal(t, "new", res.Saved[0].Title)
	require.NotZero(t, res.Saved[0].ID)
	require.Equal(t, keep.ID, res.Saved[1].ID)
	require.Empty(t, res.Saved[1].LocalKey)
	require.Len(t, res.Deleted, 1)
	require.Equal(t, gone.ID, res.Deleted[0].ID)
	require.Len(t, res.Replaced, 1)
	require.Equal(t, "2025-02-01", res.Replaced[0].Date.String())

	list, err := s.ListExpenses(ctx, core.ExpenseQuery{SortBy: core.SortByID, Order: core.Asc})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "kept", list[0].Title)
	require.Equal(t, "new", list[1].Title)
}

func testReconcileAtomic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cats := seedCategories(t, s, "Food")
	victim, err := s.CreateExpense(ctx, fields(t, "2025-02-01", "victim", "1", cats[0].ID))
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, storage.Batch{
		Rows: []storage.PlannedRow{
			{Key: core.Pending("tmp"), Fields: fields(t, "2025-02-10", "new", "3", cats[0].ID), Label: "new"},
			{Key: core.Identified(1736412345678), Fields: fields(t, "2025-02-10", "ghost", "3", cats[0].ID), Label: "ghost"},
		},
		Deleted: []int64{victim.ID},
	})
	require.Error(t, err)
	require.True(t, core.IsNotFound(err), "got %v", err)
	require.Contains(t, err.Error(), "ghost")

	list, err := s.ListExpenses(ctx, core.ExpenseQuery{SortBy: core.SortByID, Order: core.Asc})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, victim.ID, list[0].ID)
}

func testReconcileEmpty(t *testing.T, s storage.Store) {
	res, err := s.Reconcile(context.Background(), storage.Batch{})
	require.NoError(t, err)
	require.Empty(t, res.Saved)
	require.Empty(t, res.Deleted)
}
