package storage

import "expensegrid/internal/core"

// PeriodBounds returns the half-open date range [from, to) selected by the
// year and month filters of q. ok is false when q has no period filter.
func PeriodBounds(q core.ExpenseQuery) (from, to core.Date, ok bool) {
	switch {
	case q.Year != 0 && q.Month != 0:
		from = core.NewDate(q.Year, q.Month, 1)
		return from, core.Date{Time: from.AddDate(0, 1, 0)}, true
	case q.Year != 0:
		from = core.NewDate(q.Year, 1, 1)
		return from, core.Date{Time: from.AddDate(1, 0, 0)}, true
	default:
		return core.Date{}, core.Date{}, false
	}
}

// SortColumn maps a sort field to the column expression used by the SQL
// backends. amountColumn differs between them.
func SortColumn(field core.SortField, amountColumn string) string {
	switch field {
	case core.SortByID:
		return "e.id"
	case core.SortByTitle:
		return "e.title"
	case core.SortByAmount:
		return amountColumn
	case core.SortByCategoryID:
		return "e.category_id"
	default:
		return "e.date"
	}
}

// OrderBy renders the ORDER BY clause for q, breaking ties by id in the
// same direction.
func OrderBy(q core.ExpenseQuery, amountColumn string) string {
	dir := "ASC"
	if q.Order == core.Desc {
		dir = "DESC"
	}
	col := SortColumn(q.SortBy, amountColumn)
	if col == "e.id" {
		return " ORDER BY e.id " + dir
	}
	return " ORDER BY " + col + " " + dir + ", e.id " + dir
}
