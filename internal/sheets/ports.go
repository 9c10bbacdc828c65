// Package sheets renders a month of expenses as a spreadsheet tab. The
// concrete mirrors live in the google and memory subpackages.
package sheets

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"expensegrid/internal/core"
)

// Row is one expense line of a mirrored month.
type Row struct {
	Date     core.Date
	Title    string
	Category string
	Amount   decimal.Decimal
}

// Ports for outbound adapters.
type (
	// MonthMirror replaces the whole rendering of one month.
	MonthMirror interface {
		ReplaceMonth(ctx context.Context, year, month int, rows []Row) error
	}
)

// Header is the first line of every month tab.
var Header = []any{"Date", "Title", "Category", "Amount"}

// TabName returns the tab a month is mirrored to, e.g. "2025-04".
func TabName(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// Values lays out a month tab: the header, one line per row and a trailing
// total. Amounts are written as two-decimal strings.
func Values(rows []Row) [][]any {
	out := make([][]any, 0, len(rows)+2)
	out = append(out, Header)
	total := decimal.Zero
	for _, r := range rows {
		out = append(out, []any{r.Date.String(), r.Title, r.Category, core.FormatAmount(r.Amount)})
		total = total.Add(r.Amount)
	}
	out = append(out, []any{"Total", "", "", core.FormatAmount(total)})
	return out
}
