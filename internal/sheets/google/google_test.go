package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	gsheet "google.golang.org/api/sheets/v4"

	"expensegrid/internal/core"
	ports "expensegrid/internal/sheets"
)

// fakeSheets records the API calls made against one spreadsheet.
type fakeSheets struct {
	mu          sync.Mutex
	tabs        []string
	calls       []string
	written     [][]any
	failUpdates int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/v4/spreadsheets/sid"):
		f.calls = append(f.calls, "get")
		doc := gsheet.Spreadsheet{SpreadsheetId: "sid"}
		for _, t := range f.tabs {
			doc.Sheets = append(doc.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: t}})
		}
		json.NewEncoder(w).Encode(doc)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		title := req.Requests[0].AddSheet.Properties.Title
		f.tabs = append(f.tabs, title)
		f.calls = append(f.calls, "add "+title)
		fmt.Fprint(w, `{"spreadsheetId":"sid"}`)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear "+path[strings.Index(path, "/values/")+len("/values/"):])
		fmt.Fprint(w, `{"spreadsheetId":"sid"}`)

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		if f.failUpdates > 0 {
			f.failUpdates--
			f.calls = append(f.calls, "update 429")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded"}}`)
			return
		}
		var vr gsheet.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		f.calls = append(f.calls, "update "+path[strings.Index(path, "/values/")+len("/values/"):])
		fmt.Fprint(w, `{"spreadsheetId":"sid"}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"code":404,"message":"unexpected %s %s"}}`, r.Method, path)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewWithHTTPClient(context.Background(), srv.Client(), srv.URL+"/",
		Config{SpreadsheetID: "sid", RetryAttempts: 3, RetryDelay: time.Millisecond}, logger)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	return c
}

func sampleRows() []ports.Row {
	return []ports.Row{
		{Date: core.NewDate(2025, 4, 5), Title: "Coffee", Category: "Food", Amount: decimal.RequireFromString("4.5")},
	}
}

func TestReplaceMonth_CreatesMissingTab(t *testing.T) {
	fake := &fakeSheets{tabs: []string{"2025-03"}}
	c := newTestClient(t, fake)

	if err := c.ReplaceMonth(context.Background(), 2025, 4, sampleRows()); err != nil {
		t.Fatalf("ReplaceMonth: %v", err)
	}

	want := []string{"get", "add 2025-04", "clear '2025-04'!A:D", "update '2025-04'!A1"}
	if strings.Join(fake.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
	if len(fake.written) != 3 {
		t.Fatalf("written %d lines, want 3", len(fake.written))
	}
	if got := fmt.Sprint(fake.written[1]); got != "[2025-04-05 Coffee Food 4.50]" {
		t.Errorf("expense line = %s", got)
	}
}

func TestReplaceMonth_ReusesExistingTab(t *testing.T) {
	fake := &fakeSheets{tabs: []string{"2025-04"}}
	c := newTestClient(t, fake)

	if err := c.ReplaceMonth(context.Background(), 2025, 4, nil); err != nil {
		t.Fatalf("ReplaceMonth: %v", err)
	}
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "add") {
			t.Errorf("unexpected %q for an existing tab", call)
		}
	}
}

func TestReplaceMonth_RetriesRateLimit(t *testing.T) {
	fake := &fakeSheets{tabs: []string{"2025-04"}, failUpdates: 2}
	c := newTestClient(t, fake)

	if err := c.ReplaceMonth(context.Background(), 2025, 4, sampleRows()); err != nil {
		t.Fatalf("ReplaceMonth: %v", err)
	}
	if fake.written == nil {
		t.Error("month was not written after retries")
	}
}

func TestReplaceMonth_GivesUp(t *testing.T) {
	fake := &fakeSheets{tabs: []string{"2025-04"}, failUpdates: 10}
	c := newTestClient(t, fake)

	err := c.ReplaceMonth(context.Background(), 2025, 4, sampleRows())
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429 googleapi error", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 503}), true},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_MissingConfig(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error for missing spreadsheet id")
	}
	_, err := New(context.Background(), Config{SpreadsheetID: "sid"}, nil)
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("err = %v, want missing credentials", err)
	}
}
