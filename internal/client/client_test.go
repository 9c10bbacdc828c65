package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"expensegrid/internal/core"
	api "expensegrid/internal/http"
	"expensegrid/internal/log"
	"expensegrid/internal/services"
	"expensegrid/internal/storage/memory"
	"expensegrid/internal/workset"
)

var (
	_ api.ExpenseAPI     = (*Client)(nil)
	_ workset.Reconciler = (*Client)(nil)
	_ workset.Lister     = (*Client)(nil)
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger := log.New(log.Config{Output: io.Discard})
	svc := services.NewExpenseService(memory.New("Food", "Transport"), logger)
	srv := api.NewServer(api.Config{RateLimitPerMinute: 10000}, svc, logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return New(ts.URL+"/", ts.Client())
}

func fields(t *testing.T, date, title, amount string, categoryID int64) core.ExpenseFields {
	t.Helper()
	d, err := core.ParseDate(date)
	require.NoError(t, err)
	a, err := core.ParseAmount(amount)
	require.NoError(t, err)
	return core.ExpenseFields{Date: d, Title: title, Amount: a, CategoryID: categoryID}
}

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Ping(ctx))

	cats, err := c.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)

	rent, err := c.CreateCategory(ctx, "Rent")
	require.NoError(t, err)
	require.Equal(t, int64(3), rent.ID)

	e, err := c.CreateExpense(ctx, fields(t, "2024-03-05", "Lunch", "9.50", 1))
	require.NoError(t, err)
	require.Equal(t, "Food", e.Category.Name)

	e, err = c.UpdateExpense(ctx, e.ID, fields(t, "2024-03-06", "Lunch", "10", 1))
	require.NoError(t, err)
	require.Equal(t, "2024-03-06", e.Date.String())

	_, err = c.CreateExpense(ctx, fields(t, "2024-04-01", "Rent", "800", rent.ID))
	require.NoError(t, err)

	list, err := c.ListExpenses(ctx, core.ExpenseQuery{SortBy: core.SortByAmount, Order: core.Desc})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Rent", list[0].Title)

	list, err = c.ListExpenses(ctx, core.ExpenseQuery{CategoryName: "Food", Year: 2024, Month: 3})
	require.NoError(t, err)
	require.Len(t, list, 1)

	report, err := c.MonthlyReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)
	require.Equal(t, 4, report[0].Month)

	overview, err := c.Dashboard(ctx, 2024, 4)
	require.NoError(t, err)
	require.Equal(t, "800", overview.PerCategory()["Rent"].String())

	require.NoError(t, c.DeleteExpense(ctx, e.ID))
	err = c.DeleteExpense(ctx, e.ID)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok, "got %v", err)
	require.True(t, apiErr.IsNotFound())
}

func TestClientReconcile(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	saved, err := c.Reconcile(ctx, nil, nil)
	require.NoError(t, err)
	require.Empty(t, saved)

	rows := []core.ExpenseInput{{
		Key: core.Pending("tmp-1"), Year: "2024", Month: "5", Day: "2",
		Title: "Coffee", Amount: "3.50", CategoryID: "1",
	}}
	saved, err = c.Reconcile(ctx, rows, nil)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, "tmp-1", saved[0].LocalKey)

	rows[0].CategoryID = "abc"
	_, err = c.Reconcile(ctx, rows, nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.True(t, apiErr.IsValidation())
	require.Contains(t, apiErr.Message, `row "Coffee"`)
}

func TestWorksetOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	s := workset.New(c, c, workset.Filter{Year: 2024, Month: 6})
	require.NoError(t, s.Load(ctx))
	key := s.AddBlankRow()
	require.NoError(t, s.EditCell(key, workset.FieldTitle, "Train"))
	require.NoError(t, s.EditCell(key, workset.FieldAmount, "12"))
	require.NoError(t, s.EditCell(key, workset.FieldCategoryID, "2"))

	_, err := s.Save(ctx)
	require.NoError(t, err)
	visible := s.Visible()
	require.Len(t, visible, 1)
	require.False(t, visible[0].Key.IsPending())

	require.NoError(t, s.DeleteRow(visible[0].Key))
	_, err = s.Save(ctx)
	require.NoError(t, err)
	require.Empty(t, s.Rows())
}

func TestAPIErrorDecoding(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json body", http.StatusBadRequest, `{"error":"invalid amount"}`, "invalid amount"},
		{"plain body", http.StatusBadGateway, "upstream down\n", "upstream down"},
		{"empty body", http.StatusInternalServerError, "", "500 Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := New(ts.URL, ts.Client()).ListCategories(context.Background())
			apiErr, ok := AsAPIError(err)
			require.True(t, ok, "got %v", err)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestTransportAndDecodeErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	c := New(ts.URL, ts.Client())

	_, err := c.ListCategories(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode GET /api/categories response")
	_, isAPI := AsAPIError(err)
	require.False(t, isAPI)

	ts.Close()
	_, err = c.ListCategories(context.Background())
	require.Error(t, err)
	_, isAPI = AsAPIError(err)
	require.False(t, isAPI)
}
