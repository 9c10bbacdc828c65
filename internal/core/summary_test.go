package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarize(t *testing.T) {
	cats := []Category{{ID: 1, Name: "Food"}, {ID: 2, Name: "Rent"}, {ID: 3, Name: "Fun"}}
	expenses := []Expense{
		{ID: 1, Date: NewDate(2025, 3, 1), Amount: amt("10.10"), CategoryID: 1},
		{ID: 2, Date: NewDate(2025, 3, 15), Amount: amt("0.20"), CategoryID: 1},
		{ID: 3, Date: NewDate(2025, 3, 31), Amount: amt("800"), CategoryID: 2},
		{ID: 4, Date: NewDate(2025, 4, 1), Amount: amt("99"), CategoryID: 3},
		{ID: 5, Date: NewDate(2024, 3, 1), Amount: amt("1"), CategoryID: 3},
	}

	got := Summarize(expenses, cats, 3, 2025)
	if got.Year != 2025 || got.Month != 3 {
		t.Fatalf("unexpected period %d-%d", got.Year, got.Month)
	}
	if FormatAmount(got.Total) != "810.30" {
		t.Fatalf("total = %s", FormatAmount(got.Total))
	}
	if len(got.ByCategory) != 3 {
		t.Fatalf("expected every category, got %d", len(got.ByCategory))
	}
	per := got.PerCategory()
	want := map[string]string{"Food": "10.30", "Rent": "800.00", "Fun": "0.00"}
	for name, w := range want {
		if FormatAmount(per[name]) != w {
			t.Fatalf("%s = %s, want %s", name, FormatAmount(per[name]), w)
		}
	}
	if got.ByCategory[0].Name != "Food" || got.ByCategory[2].Name != "Fun" {
		t.Fatalf("category order not preserved: %+v", got.ByCategory)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil, nil, 1, 2025)
	if !got.Total.IsZero() || len(got.ByCategory) != 0 {
		t.Fatalf("expected empty overview, got %+v", got)
	}
}

func TestSummarizeNegativeAmounts(t *testing.T) {
	cats := []Category{{ID: 1, Name: "Refunds"}}
	expenses := []Expense{
		{Date: NewDate(2025, 5, 2), Amount: amt("20"), CategoryID: 1},
		{Date: NewDate(2025, 5, 3), Amount: amt("-25.50"), CategoryID: 1},
	}
	got := Summarize(expenses, cats, 5, 2025)
	if FormatAmount(got.Total) != "-5.50" {
		t.Fatalf("total = %s", FormatAmount(got.Total))
	}
}
