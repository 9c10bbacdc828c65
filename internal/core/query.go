package core

import (
	"fmt"
	"strings"
)

// SortField is an expense attribute the list can be ordered by.
type SortField string

const (
	SortByID         SortField = "id"
	SortByDate       SortField = "date"
	SortByTitle      SortField = "title"
	SortByAmount     SortField = "amount"
	SortByCategoryID SortField = "categoryId"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// ExpenseQuery selects and orders expenses. The zero value lists everything
// by date, newest first.
type ExpenseQuery struct {
	CategoryName string
	SortBy       SortField
	Order        SortOrder
	Year         int
	Month        int
}

// ParseSort validates user supplied sort parameters. Without a field the
// default ordering (date desc) applies; with a field the order defaults to
// ascending.
func ParseSort(field, order string) (SortField, SortOrder, error) {
	field = strings.TrimSpace(field)
	order = strings.ToLower(strings.TrimSpace(order))
	if field == "" {
		if order != "" {
			return "", "", NewValidationError("order", "requires sortBy")
		}
		return SortByDate, Desc, nil
	}
	f := SortField(field)
	switch f {
	case SortByID, SortByDate, SortByTitle, SortByAmount, SortByCategoryID:
	default:
		return "", "", NewValidationError("sortBy", fmt.Sprintf("unknown field %q", field))
	}
	switch SortOrder(order) {
	case "":
		return f, Asc, nil
	case Asc, Desc:
		return f, SortOrder(order), nil
	default:
		return "", "", NewValidationError("order", fmt.Sprintf("must be asc or desc, got %q", order))
	}
}

// Normalize fills defaults and checks the period filter.
func (q ExpenseQuery) Normalize() (ExpenseQuery, error) {
	if q.SortBy == "" {
		q.SortBy, q.Order = SortByDate, Desc
	}
	if q.Order == "" {
		q.Order = Asc
	}
	if q.Month != 0 {
		if q.Year == 0 {
			return q, NewValidationError("month", "requires year")
		}
		if q.Month < 1 || q.Month > 12 {
			return q, NewValidationError("month", "must be between 1 and 12")
		}
	}
	return q, nil
}

// Matches reports whether e passes the category and period filters.
func (q ExpenseQuery) Matches(e Expense) bool {
	if q.CategoryName != "" && e.Category.Name != q.CategoryName {
		return false
	}
	if q.Year != 0 && e.Date.Year() != q.Year {
		return false
	}
	if q.Month != 0 && e.Date.Month() != q.Month {
		return false
	}
	return true
}

// Less orders two expenses under q, breaking ties by id in the same
// direction.
func (q ExpenseQuery) Less(a, b Expense) bool {
	c := compareExpenses(q.SortBy, a, b)
	if c == 0 {
		c = cmpInt64(a.ID, b.ID)
	}
	if q.Order == Desc {
		return c > 0
	}
	return c < 0
}

func compareExpenses(field SortField, a, b Expense) int {
	switch field {
	case SortByID:
		return cmpInt64(a.ID, b.ID)
	case SortByTitle:
		return strings.Compare(a.Title, b.Title)
	case SortByAmount:
		return a.Amount.Cmp(b.Amount)
	case SortByCategoryID:
		return cmpInt64(a.CategoryID, b.CategoryID)
	default:
		return a.Date.Compare(b.Date.Time)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
