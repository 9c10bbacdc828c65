package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// fixedAmount serializes as a string with two decimals and accepts either a
// JSON string or number.
type fixedAmount decimal.Decimal

func (a fixedAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatAmount(decimal.Decimal(a)))
}

func (a *fixedAmount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*a = fixedAmount(d)
	return nil
}

// expenseJSON is the wire form of an Expense. Year, month and day are derived
// from the date so clients can filter without parsing it.
type expenseJSON struct {
	ID         int64       `json:"id"`
	Date       Date        `json:"date"`
	Year       int         `json:"year"`
	Month      int         `json:"month"`
	Day        int         `json:"day"`
	Title      string      `json:"title"`
	Amount     fixedAmount `json:"amount"`
	CategoryID int64       `json:"categoryId"`
	Category   *Category   `json:"category,omitempty"`
}

func (e Expense) MarshalJSON() ([]byte, error) {
	out := expenseJSON{
		ID:         e.ID,
		Date:       e.Date,
		Year:       e.Date.Year(),
		Month:      e.Date.Month(),
		Day:        e.Date.Day(),
		Title:      e.Title,
		Amount:     fixedAmount(e.Amount),
		CategoryID: e.CategoryID,
	}
	if e.Category.ID != 0 {
		c := e.Category
		out.Category = &c
	}
	return json.Marshal(out)
}

func (e *Expense) UnmarshalJSON(data []byte) error {
	var in expenseJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Expense{
		ID:         in.ID,
		Date:       in.Date,
		Title:      in.Title,
		Amount:     decimal.Decimal(in.Amount),
		CategoryID: in.CategoryID,
	}
	if in.Category != nil {
		e.Category = *in.Category
	}
	return nil
}

// SavedExpense is a reconciled row. LocalKey echoes the key of rows that
// were Pending before the save.
type SavedExpense struct {
	Expense
	LocalKey string
}

func (s SavedExpense) MarshalJSON() ([]byte, error) {
	raw, err := s.Expense.MarshalJSON()
	if err != nil || s.LocalKey == "" {
		return raw, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	key, _ := json.Marshal(s.LocalKey)
	m["localKey"] = key
	return json.Marshal(m)
}

func (s *SavedExpense) UnmarshalJSON(data []byte) error {
	if err := s.Expense.UnmarshalJSON(data); err != nil {
		return err
	}
	var k struct {
		LocalKey string `json:"localKey"`
	}
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	s.LocalKey = k.LocalKey
	return nil
}

// Cell decodes a JSON string, number or null into text. Grid cells
// arrive in any of these forms.
type Cell string

func (l *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Cell(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*l = Cell(n.String())
	}
	return nil
}

type expenseInputJSON struct {
	ID         *int64 `json:"id"`
	LocalKey   string `json:"localKey,omitempty"`
	Year       Cell   `json:"year"`
	Month      Cell   `json:"month"`
	Day        Cell   `json:"day"`
	Title      string `json:"title"`
	Amount     Cell   `json:"amount"`
	CategoryID Cell   `json:"categoryId"`
}

func (in ExpenseInput) MarshalJSON() ([]byte, error) {
	out := struct {
		ID         *int64 `json:"id"`
		LocalKey   string `json:"localKey,omitempty"`
		Year       string `json:"year"`
		Month      string `json:"month"`
		Day        string `json:"day"`
		Title      string `json:"title"`
		Amount     string `json:"amount"`
		CategoryID string `json:"categoryId"`
	}{
		LocalKey:   in.Key.LocalKey(),
		Year:       in.Year,
		Month:      in.Month,
		Day:        in.Day,
		Title:      in.Title,
		Amount:     in.Amount,
		CategoryID: in.CategoryID,
	}
	if id, ok := in.Key.ID(); ok {
		out.ID = &id
	}
	return json.Marshal(out)
}

func (in *ExpenseInput) UnmarshalJSON(data []byte) error {
	var raw expenseInputJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key := Pending(raw.LocalKey)
	if raw.ID != nil {
		key = Identified(*raw.ID)
	}
	*in = ExpenseInput{
		Key:        key,
		Year:       string(raw.Year),
		Month:      string(raw.Month),
		Day:        string(raw.Day),
		Title:      raw.Title,
		Amount:     string(raw.Amount),
		CategoryID: string(raw.CategoryID),
	}
	return nil
}

func (m MonthTotal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Month string `json:"month"`
		Total string `json:"total"`
	}{
		Month: fmt.Sprintf("%04d-%02d", m.Year, m.Month),
		Total: FormatAmount(m.Total),
	})
}

func (m *MonthTotal) UnmarshalJSON(data []byte) error {
	var in struct {
		Month string      `json:"month"`
		Total fixedAmount `json:"total"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Month) != 7 || in.Month[4] != '-' {
		return fmt.Errorf("invalid month %q", in.Month)
	}
	year, err := strconv.Atoi(in.Month[:4])
	if err != nil {
		return fmt.Errorf("invalid month %q", in.Month)
	}
	month, err := strconv.Atoi(in.Month[5:])
	if err != nil {
		return fmt.Errorf("invalid month %q", in.Month)
	}
	*m = MonthTotal{Year: year, Month: month, Total: decimal.Decimal(in.Total)}
	return nil
}

type monthOverviewJSON struct {
	Year       int                  `json:"year"`
	Month      int                  `json:"month"`
	Total      fixedAmount          `json:"total"`
	ByCategory []categoryAmountJSON `json:"byCategory"`
}

type categoryAmountJSON struct {
	Name   string      `json:"name"`
	Amount fixedAmount `json:"amount"`
}

func (o MonthOverview) MarshalJSON() ([]byte, error) {
	out := monthOverviewJSON{
		Year:       o.Year,
		Month:      o.Month,
		Total:      fixedAmount(o.Total),
		ByCategory: make([]categoryAmountJSON, 0, len(o.ByCategory)),
	}
	for _, c := range o.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryAmountJSON{Name: c.Name, Amount: fixedAmount(c.Amount)})
	}
	return json.Marshal(out)
}

func (o *MonthOverview) UnmarshalJSON(data []byte) error {
	var in monthOverviewJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*o = MonthOverview{Year: in.Year, Month: in.Month, Total: decimal.Decimal(in.Total)}
	for _, c := range in.ByCategory {
		o.ByCategory = append(o.ByCategory, CategoryAmount{Name: c.Name, Amount: decimal.Decimal(c.Amount)})
	}
	return nil
}
