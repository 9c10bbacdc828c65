// Package client is a typed REST client for the expensegrid API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"expensegrid/internal/core"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsValidation reports a 400 response.
func (e *APIError) IsValidation() bool { return e.StatusCode == http.StatusBadRequest }

// IsNotFound reports a 404 response.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// AsAPIError unwraps err to an *APIError when it carries one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// Client calls the API at a base URL. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil httpClient gets a default one
// with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Ping succeeds when the server reports ready.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("build readyz request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("readyz request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c *Client) ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error) {
	values := url.Values{}
	if q.CategoryName != "" {
		values.Set("category", q.CategoryName)
	}
	if q.SortBy != "" {
		values.Set("sortBy", string(q.SortBy))
	}
	if q.Order != "" && q.SortBy != "" {
		values.Set("order", string(q.Order))
	}
	if q.Year != 0 {
		values.Set("year", strconv.Itoa(q.Year))
	}
	if q.Month != 0 {
		values.Set("month", strconv.Itoa(q.Month))
	}
	path := "/api/expenses"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}

	var out []core.Expense
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type expenseBody struct {
	Date       string `json:"date"`
	Title      string `json:"title"`
	Amount     string `json:"amount"`
	CategoryID int64  `json:"categoryId"`
}

func newExpenseBody(f core.ExpenseFields) expenseBody {
	return expenseBody{
		Date:       f.Date.String(),
		Title:      f.Title,
		Amount:     core.FormatAmount(f.Amount),
		CategoryID: f.CategoryID,
	}
}

func (c *Client) CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error) {
	var out core.Expense
	err := c.do(ctx, http.MethodPost, "/api/expenses", newExpenseBody(f), &out)
	return out, err
}

func (c *Client) UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error) {
	var out core.Expense
	err := c.do(ctx, http.MethodPut, "/api/expenses/"+strconv.FormatInt(id, 10), newExpenseBody(f), &out)
	return out, err
}

func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/expenses/"+strconv.FormatInt(id, 10), nil, nil)
}

// Reconcile sends a bulk save and returns the persisted rows in input order.
func (c *Client) Reconcile(ctx context.Context, rows []core.ExpenseInput, deletedIDs []int64) ([]core.SavedExpense, error) {
	if rows == nil {
		rows = []core.ExpenseInput{}
	}
	if deletedIDs == nil {
		deletedIDs = []int64{}
	}
	body := struct {
		Expenses    []core.ExpenseInput `json:"expenses"`
		DeletedRows []int64             `json:"deletedRows"`
	}{rows, deletedIDs}

	var out []core.SavedExpense
	if err := c.do(ctx, http.MethodPost, "/api/expenses/bulk-save", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var out []core.Category
	if err := c.do(ctx, http.MethodGet, "/api/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	var out core.Category
	err := c.do(ctx, http.MethodPost, "/api/categories", map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) MonthlyReport(ctx context.Context) ([]core.MonthTotal, error) {
	var out []core.MonthTotal
	if err := c.do(ctx, http.MethodGet, "/api/reports/monthly", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dashboard fetches the overview of one month. Zero year and month ask the
// server for the current month.
func (c *Client) Dashboard(ctx context.Context, year, month int) (core.MonthOverview, error) {
	path := "/api/dashboard"
	if year != 0 || month != 0 {
		path += "?" + url.Values{
			"year":  {strconv.Itoa(year)},
			"month": {strconv.Itoa(month)},
		}.Encode()
	}
	var out core.MonthOverview
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// do sends one request. in, when non-nil, is encoded as the JSON body; out,
// when non-nil, receives the decoded 2xx response.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
