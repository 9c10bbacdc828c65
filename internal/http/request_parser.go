// This file implements utilities for decoding and validating request data:
// JSON bodies with a size cap and strict fields, struct tag validation and
// query parameter parsing.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"expensegrid/internal/core"
)

// maxBodyBytes caps request bodies at 1 MiB.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// expenseRequest is the body of POST /api/expenses and PUT /api/expenses/{id}.
type expenseRequest struct {
	Date       string    `json:"date" validate:"required"`
	Title      string    `json:"title" validate:"max=200"`
	Amount     core.Cell `json:"amount" validate:"required"`
	CategoryID core.Cell `json:"categoryId" validate:"required"`
}

// Fields parses the request into writable expense columns.
func (req expenseRequest) Fields() (core.ExpenseFields, error) {
	categoryID, err := strconv.ParseInt(strings.TrimSpace(string(req.CategoryID)), 10, 64)
	if err != nil || categoryID <= 0 {
		return core.ExpenseFields{}, core.NewValidationError("categoryId", "must be an integer category id")
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.ExpenseFields{}, core.NewValidationError("date", "must be YYYY-MM-DD or RFC 3339")
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if errors.Is(err, core.ErrAmountOutOfRange) {
		return core.ExpenseFields{}, core.NewValidationError("amount", err.Error())
	}
	if err != nil {
		return core.ExpenseFields{}, core.NewValidationError("amount", "must be a decimal number")
	}
	return core.ExpenseFields{
		Date:       date,
		Title:      sanitizeInput(req.Title),
		Amount:     amount,
		CategoryID: categoryID,
	}, nil
}

// bulkSaveRequest is the body of POST /api/expenses/bulk-save.
type bulkSaveRequest struct {
	Expenses    []core.ExpenseInput `json:"expenses" validate:"max=5000"`
	DeletedRows []int64             `json:"deletedRows" validate:"max=5000,dive,gt=0"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// decodeJSON reads a single JSON value from the request body into dst and
// validates it. Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return core.NewValidationError("body", "request body is empty")
		default:
			return &core.ValidationError{Msg: "malformed JSON: " + err.Error()}
		}
	}
	if dec.More() {
		return &core.ValidationError{Msg: "request body must contain a single JSON object"}
	}
	return validateStruct(dst)
}

// validateStruct runs the validator tags and reports the first failure as
// a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &core.ValidationError{Msg: err.Error()}
	}
	fe := fieldErrs[0]
	return core.NewValidationError(fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// parseExpenseQuery builds the list query from category, sortBy, order,
// year and month parameters.
func parseExpenseQuery(query url.Values) (core.ExpenseQuery, error) {
	sortBy, order, err := core.ParseSort(query.Get("sortBy"), query.Get("order"))
	if err != nil {
		return core.ExpenseQuery{}, err
	}
	q := core.ExpenseQuery{
		CategoryName: strings.TrimSpace(query.Get("category")),
		SortBy:       sortBy,
		Order:        order,
	}
	if q.Year, err = optionalInt(query, "year"); err != nil {
		return core.ExpenseQuery{}, err
	}
	if q.Month, err = optionalInt(query, "month"); err != nil {
		return core.ExpenseQuery{}, err
	}
	return q, nil
}

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// month of now as default. Non-numeric values are validation errors.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	now = now.UTC()
	params := MonthParams{Year: now.Year(), Month: int(now.Month())}

	year, err := optionalInt(query, "year")
	if err != nil {
		return MonthParams{}, err
	}
	if year != 0 {
		params.Year = year
	}
	month, err := optionalInt(query, "month")
	if err != nil {
		return MonthParams{}, err
	}
	if month != 0 {
		params.Month = month
	}
	return params, nil
}

func optionalInt(query url.Values, key string) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.NewValidationError(key, fmt.Sprintf("%q is not a number", v))
	}
	return n, nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError("id", fmt.Sprintf("%q is not a valid expense id", raw))
	}
	return id, nil
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s))
}
