package sheets

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"expensegrid/internal/core"
)

func TestTabName(t *testing.T) {
	tests := []struct {
		year, month int
		want        string
	}{
		{2025, 4, "2025-04"},
		{2024, 12, "2024-12"},
		{999, 1, "0999-01"},
	}
	for _, tt := range tests {
		if got := TabName(tt.year, tt.month); got != tt.want {
			t.Errorf("TabName(%d, %d) = %q, want %q", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestValues(t *testing.T) {
	rows := []Row{
		{Date: core.NewDate(2025, 4, 5), Title: "Coffee", Category: "Food", Amount: decimal.RequireFromString("4.5")},
		{Date: core.NewDate(2025, 4, 6), Title: "Bus", Category: "Transport", Amount: decimal.RequireFromString("2")},
	}

	got := Values(rows)
	want := [][]any{
		{"Date", "Title", "Category", "Amount"},
		{"2025-04-05", "Coffee", "Food", "4.50"},
		{"2025-04-06", "Bus", "Transport", "2.00"},
		{"Total", "", "", "6.50"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}
}

func TestValuesEmptyMonth(t *testing.T) {
	got := Values(nil)
	if len(got) != 2 {
		t.Fatalf("len = %d, want header and total", len(got))
	}
	if got[1][3] != "0.00" {
		t.Errorf("total = %v, want 0.00", got[1][3])
	}
}
