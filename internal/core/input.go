package core

import (
	"errors"
	"strconv"
	"strings"
)

// ExpenseInput is one row of a bulk save as edited in the month grid. Cell
// values stay text until Fields parses them.
type ExpenseInput struct {
	Key        RowKey
	Year       string
	Month      string
	Day        string
	Title      string
	Amount     string
	CategoryID string
}

// Label names the row in error messages.
func (in ExpenseInput) Label() string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	return in.Key.String()
}

// Fields parses the row into writable expense columns. A blank day means the
// first of the month.
func (in ExpenseInput) Fields() (ExpenseFields, error) {
	row := in.Label()

	categoryID, err := strconv.ParseInt(strings.TrimSpace(in.CategoryID), 10, 64)
	if err != nil || categoryID <= 0 {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "categoryId", Msg: "must be an integer category id"}
	}

	year, err := strconv.Atoi(strings.TrimSpace(in.Year))
	if err != nil {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "date", Msg: "year is not a number"}
	}
	month, err := strconv.Atoi(strings.TrimSpace(in.Month))
	if err != nil {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "date", Msg: "month is not a number"}
	}
	day := 1
	if v := strings.TrimSpace(in.Day); v != "" {
		if day, err = strconv.Atoi(v); err != nil {
			return ExpenseFields{}, &ValidationError{Row: row, Field: "date", Msg: "day is not a number"}
		}
	}
	date, err := DateFromParts(year, month, day)
	if err != nil {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "date", Msg: err.Error()}
	}

	amount, err := ParseAmount(in.Amount)
	if errors.Is(err, ErrAmountOutOfRange) {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "amount", Msg: err.Error()}
	}
	if err != nil {
		return ExpenseFields{}, &ValidationError{Row: row, Field: "amount", Msg: "must be a decimal number"}
	}

	f := ExpenseFields{
		Date:       date,
		Title:      strings.TrimSpace(in.Title),
		Amount:     amount,
		CategoryID: categoryID,
	}
	if err := f.Validate(); err != nil {
		return ExpenseFields{}, &ValidationError{Row: row, Msg: err.Error()}
	}
	return f, nil
}

// InputFromExpense converts a persisted expense back into a grid row.
func InputFromExpense(e Expense) ExpenseInput {
	return ExpenseInput{
		Key:        Identified(e.ID),
		Year:       strconv.Itoa(e.Date.Year()),
		Month:      strconv.Itoa(e.Date.Month()),
		Day:        strconv.Itoa(e.Date.Day()),
		Title:      e.Title,
		Amount:     FormatAmount(e.Amount),
		CategoryID: strconv.FormatInt(e.CategoryID, 10),
	}
}
