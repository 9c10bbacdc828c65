package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Dates outside these years do not fit the YYYY-MM-DD layout.
const (
	minYear = 1
	maxYear = 9999
)

type (
	// Date is a calendar date. The wrapped time is always midnight UTC.
	Date struct {
		time.Time
	}

	Category struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	// Expense is a persisted expense together with its resolved category.
	Expense struct {
		ID         int64
		Date       Date
		Title      string
		Amount     decimal.Decimal
		CategoryID int64
		Category   Category
	}

	// ExpenseFields holds the writable columns of an expense.
	ExpenseFields struct {
		Date       Date
		Title      string
		Amount     decimal.Decimal
		CategoryID int64
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAmountOutOfRange = errors.New("amount out of range (must be below 1000000000000 in magnitude)")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrTitleTooLong     = errors.New("title too long (max 200 characters)")
	ErrEmptyName        = errors.New("empty category name")
	ErrNameTooLong      = errors.New("category name too long (max 100 characters)")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	year, month, day := d.Date()
	if year < minYear || year > maxYear {
		return ErrInvalidDate
	}
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// InPeriod reports whether the date falls in the given year and month.
func (d Date) InPeriod(year, month int) bool {
	return d.Year() == year && d.Month() == month
}

// NewDate creates a new Date from year, month, day. Out of range values are
// normalized the way time.Date does; use DateFromParts to reject them.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateFromParts builds a Date and rejects dates that do not exist on the
// calendar, such as February 30th.
func DateFromParts(year, month, day int) (Date, error) {
	if year < minYear || year > maxYear {
		return Date{}, ErrInvalidDate
	}
	if month < 1 || month > 12 {
		return Date{}, ErrInvalidMonth
	}
	if day < 1 || day > 31 {
		return Date{}, ErrInvalidDay
	}
	d := NewDate(year, month, day)
	if d.Year() != year || d.Month() != month || d.Day() != day {
		return Date{}, ErrInvalidDate
	}
	return d, nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp. Timestamps are
// converted to UTC before the calendar date is taken.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func (f ExpenseFields) Validate() error {
	if err := f.Date.Validate(); err != nil {
		return err
	}
	if len(f.Title) > 200 {
		return ErrTitleTooLong
	}
	if err := checkAmountRange(f.Amount); err != nil {
		return err
	}
	if f.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	return nil
}

// Fields returns the writable columns of a persisted expense.
func (e Expense) Fields() ExpenseFields {
	return ExpenseFields{
		Date:       e.Date,
		Title:      e.Title,
		Amount:     e.Amount,
		CategoryID: e.CategoryID,
	}
}

// NormalizeCategoryName trims the name and checks its length.
func NormalizeCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if len(name) > 100 {
		return "", ErrNameTooLong
	}
	return name, nil
}
