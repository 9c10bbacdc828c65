// Package google mirrors months to a Google Sheets spreadsheet, one tab per
// month.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "expensegrid/internal/sheets"
)

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	SpreadsheetID      string
	ServiceAccountFile string
	ServiceAccountJSON string

	// RetryAttempts and RetryDelay bound the retries of rate limited or
	// failed API calls.
	RetryAttempts uint
	RetryDelay    time.Duration
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	attempts      uint
	delay         time.Duration
	logger        *slog.Logger
}

// Ensure interface conformance
var _ ports.MonthMirror = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	credentials, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentials),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newClient(svc, cfg, logger), nil
}

// NewWithHTTPClient creates a client that talks to endpoint through
// httpClient without adding credentials.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, endpoint string, cfg Config, logger *slog.Logger) (*Client, error) {
	svc, err := gsheet.NewService(ctx,
		goption.WithHTTPClient(httpClient),
		goption.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newClient(svc, cfg, logger), nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		attempts:      cfg.RetryAttempts,
		delay:         cfg.RetryDelay,
		logger:        logger,
	}
}

// credentialsJSON reads inline JSON first, then the file, then
// GOOGLE_APPLICATION_CREDENTIALS.
func credentialsJSON(cfg Config) ([]byte, error) {
	if v := strings.TrimSpace(cfg.ServiceAccountJSON); v != "" {
		return []byte(v), nil
	}
	path := strings.TrimSpace(cfg.ServiceAccountFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

// ReplaceMonth creates the month tab when missing, clears it and writes the
// month from the top.
func (c *Client) ReplaceMonth(ctx context.Context, year, month int, rows []ports.Row) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab := ports.TabName(year, month)

	if err := c.ensureTab(ctx, tab); err != nil {
		return err
	}

	err := c.do(ctx, "clear "+tab, func() error {
		_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, a1(tab, "A:D"), &gsheet.ClearValuesRequest{}).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", tab, err)
	}

	vr := &gsheet.ValueRange{Values: ports.Values(rows)}
	err = c.do(ctx, "write "+tab, func() error {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(tab, "A1"), vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", tab, err)
	}

	c.logger.InfoContext(ctx, "Month mirrored to sheet",
		"tab", tab,
		"rows", len(rows))
	return nil
}

func (c *Client) ensureTab(ctx context.Context, tab string) error {
	var doc *gsheet.Spreadsheet
	err := c.do(ctx, "read spreadsheet", func() error {
		var err error
		doc, err = c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	if hasTab(doc, tab) {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	err = c.do(ctx, "add tab "+tab, func() error {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("add tab %s: %w", tab, err)
	}
	c.logger.InfoContext(ctx, "Created month tab", "tab", tab)
	return nil
}

// do runs call, retrying rate limits and server errors.
func (c *Client) do(ctx context.Context, op string, call func() error) error {
	return retry.Do(
		call,
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WarnContext(ctx, "Sheets call failed, will retry",
				"operation", op,
				"attempt", n+1,
				"error", err)
		}),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}

func hasTab(doc *gsheet.Spreadsheet, tab string) bool {
	if doc == nil {
		return false
	}
	for _, s := range doc.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return true
		}
	}
	return false
}

// a1 quotes the tab name since month tabs contain a dash.
func a1(tab, cells string) string {
	return fmt.Sprintf("'%s'!%s", tab, cells)
}
