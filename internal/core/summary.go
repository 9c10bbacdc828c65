package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Total      decimal.Decimal
	ByCategory []CategoryAmount
}

// PerCategory maps category names to their subtotal.
func (o MonthOverview) PerCategory() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(o.ByCategory))
	for _, c := range o.ByCategory {
		out[c.Name] = c.Amount
	}
	return out
}

// MonthTotal is one row of the monthly report.
type MonthTotal struct {
	Year  int
	Month int
	Total decimal.Decimal
}

// Summarize computes the dashboard for one month. Every category is listed,
// in the given order, with a zero subtotal when nothing was spent on it.
func Summarize(expenses []Expense, categories []Category, month, year int) MonthOverview {
	overview := MonthOverview{
		Year:       year,
		Month:      month,
		Total:      decimal.Zero,
		ByCategory: make([]CategoryAmount, 0, len(categories)),
	}

	byID := make(map[int64]decimal.Decimal, len(categories))
	for _, e := range expenses {
		if !e.Date.InPeriod(year, month) {
			continue
		}
		overview.Total = overview.Total.Add(e.Amount)
		byID[e.CategoryID] = byID[e.CategoryID].Add(e.Amount)
	}

	for _, c := range categories {
		overview.ByCategory = append(overview.ByCategory, CategoryAmount{
			Name:   c.Name,
			Amount: byID[c.ID],
		})
	}
	return overview
}

// Period is a (year, month) pair.
type Period struct {
	Year  int
	Month int
}

// PeriodOf returns the period a date falls in.
func PeriodOf(d Date) Period {
	return Period{Year: d.Year(), Month: d.Month()}
}
