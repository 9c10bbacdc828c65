// Package worker consumes month_changed events and mirrors the affected
// month to a spreadsheet.
package worker

import (
	"context"
	"fmt"
	"strconv"

	"expensegrid/internal/amqp"
	"expensegrid/internal/cache"
	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/sheets"
)

// ExpenseSource is the read side of the expense service used by the worker.
type ExpenseSource interface {
	ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	MonthlyReport(ctx context.Context) ([]core.MonthTotal, error)
}

// MirrorWorker re-renders whole months into a sheets.MonthMirror.
type MirrorWorker struct {
	source ExpenseSource
	mirror sheets.MonthMirror
	names  cache.Cache[string]
	logger *log.Logger
}

func NewMirrorWorker(source ExpenseSource, mirror sheets.MonthMirror, names cache.Cache[string], logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorWorker{
		source: source,
		mirror: mirror,
		names:  names,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleMonthChanged processes a single month_changed message from AMQP.
// A returned error makes the consumer requeue the message.
func (w *MirrorWorker) HandleMonthChanged(ctx context.Context, msg *amqp.MonthChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing month changed message",
		log.FieldYear, msg.Year,
		log.FieldMonth, msg.Month,
		"reason", msg.Reason)

	return w.MirrorMonth(ctx, msg.Year, msg.Month)
}

// MirrorMonth reads the month from the store and replaces its tab.
func (w *MirrorWorker) MirrorMonth(ctx context.Context, year, month int) error {
	expenses, err := w.source.ListExpenses(ctx, core.ExpenseQuery{
		Year:   year,
		Month:  month,
		SortBy: core.SortByDate,
		Order:  core.Asc,
	})
	if err != nil {
		return fmt.Errorf("list expenses for %s: %w", sheets.TabName(year, month), err)
	}

	rows := make([]sheets.Row, 0, len(expenses))
	for _, e := range expenses {
		name, err := w.categoryName(ctx, e)
		if err != nil {
			return err
		}
		rows = append(rows, sheets.Row{
			Date:     e.Date,
			Title:    e.Title,
			Category: name,
			Amount:   e.Amount,
		})
	}

	if err := w.mirror.ReplaceMonth(ctx, year, month, rows); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mirror month",
			log.NewFields().
				WithOperation(log.OpMirror).
				WithPeriod(year, month).
				WithError(err).
				ToSlice()...)
		return fmt.Errorf("mirror %s: %w", sheets.TabName(year, month), err)
	}

	w.logger.InfoContext(ctx, "Successfully mirrored month",
		log.FieldYear, year,
		log.FieldMonth, month,
		"rows", len(rows))
	return nil
}

// StartupResync mirrors every month that has expenses. It recovers events
// lost while the worker was down; per-month failures are logged and skipped.
func (w *MirrorWorker) StartupResync(ctx context.Context) error {
	totals, err := w.source.MonthlyReport(ctx)
	if err != nil {
		return fmt.Errorf("monthly report for startup resync: %w", err)
	}

	if len(totals) == 0 {
		w.logger.InfoContext(ctx, "No months to mirror on startup")
		return nil
	}

	successCount := 0
	errorCount := 0
	for _, t := range totals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.MirrorMonth(ctx, t.Year, t.Month); err != nil {
			errorCount++
			continue
		}
		successCount++
	}

	w.logger.InfoContext(ctx, "Startup resync completed",
		"total", len(totals),
		"synced", successCount,
		"errors", errorCount)
	return nil
}

// categoryName resolves a category id through the cache, reloading every
// category on a miss.
func (w *MirrorWorker) categoryName(ctx context.Context, e core.Expense) (string, error) {
	key := strconv.FormatInt(e.CategoryID, 10)
	if name, ok := w.names.Get(key); ok {
		return name, nil
	}

	categories, err := w.source.ListCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("list categories: %w", err)
	}
	for _, c := range categories {
		w.names.Set(strconv.FormatInt(c.ID, 10), c.Name)
	}

	if name, ok := w.names.Get(key); ok {
		return name, nil
	}
	// Category created after the reload; the expense carries its name.
	return e.Category.Name, nil
}
