// Package services holds the expense use cases shared by the HTTP API and
// the mirror worker: queries, single-row CRUD, bulk reconciliation and
// reports.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"expensegrid/internal/amqp"
	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/storage"
)

const (
	defaultPublishTimeout = 5 * time.Second
	reportTimeout         = 30 * time.Second
)

// Publisher announces that the expenses of a month changed.
type Publisher interface {
	PublishMonthChanged(ctx context.Context, year, month int, reason string) error
}

// ExpenseService orchestrates expense operations across the store and the
// change publisher.
type ExpenseService struct {
	store          storage.Store
	publisher      Publisher
	logger         *log.Logger
	publishTimeout time.Duration

	reports singleflight.Group
}

// Option configures an ExpenseService.
type Option func(*ExpenseService)

// WithPublisher enables month_changed events after writes.
func WithPublisher(p Publisher) Option {
	return func(s *ExpenseService) { s.publisher = p }
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *ExpenseService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func NewExpenseService(store storage.Store, logger *log.Logger, opts ...Option) *ExpenseService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &ExpenseService{
		store:          store,
		logger:         logger.WithComponent(log.ComponentExpense),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the store is reachable.
func (s *ExpenseService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListExpenses returns the expenses selected by q with their categories.
func (s *ExpenseService) ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListExpenses(ctx, q)
	if err != nil {
		return nil, s.persistence(ctx, "list expenses", err)
	}
	if out == nil {
		out = []core.Expense{}
	}
	return out, nil
}

func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Expense{}, &core.NotFoundError{Entity: "expense", ID: id}
	}
	if err != nil {
		return core.Expense{}, s.persistence(ctx, "get expense", err)
	}
	return e, nil
}

// ListCategories returns every category ordered by id.
func (s *ExpenseService) ListCategories(ctx context.Context) ([]core.Category, error) {
	out, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, s.persistence(ctx, "list categories", err)
	}
	if out == nil {
		out = []core.Category{}
	}
	return out, nil
}

// CreateCategory adds a category. Blank, overlong and duplicate names are
// validation errors.
func (s *ExpenseService) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	name, err := core.NormalizeCategoryName(name)
	if err != nil {
		return core.Category{}, core.NewValidationError("name", err.Error())
	}
	c, err := s.store.CreateCategory(ctx, name)
	if errors.Is(err, storage.ErrConflict) {
		return core.Category{}, core.NewValidationError("name", fmt.Sprintf("category %q already exists", name))
	}
	if err != nil {
		return core.Category{}, s.persistence(ctx, "create category", err)
	}
	s.logger.InfoContext(ctx, "Category created", "id", c.ID, "name", c.Name)
	return c, nil
}

func (s *ExpenseService) CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error) {
	if err := s.checkFields(ctx, f); err != nil {
		return core.Expense{}, err
	}
	e, err := s.store.CreateExpense(ctx, f)
	if err != nil {
		return core.Expense{}, s.persistence(ctx, "create expense", err)
	}

	s.logger.InfoContext(ctx, "Expense created",
		log.NewFields().WithOperation(log.OpCreate).WithExpense(e).ToSlice()...)
	s.publish(ctx, amqp.ReasonCreate, core.PeriodOf(e.Date))
	return e, nil
}

// UpdateExpense replaces the writable fields of an existing expense. Both the
// old and the new month are announced when the date moves.
func (s *ExpenseService) UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error) {
	if err := s.checkFields(ctx, f); err != nil {
		return core.Expense{}, err
	}
	prev, err := s.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	e, err := s.store.UpdateExpense(ctx, id, f)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Expense{}, &core.NotFoundError{Entity: "expense", ID: id}
	}
	if err != nil {
		return core.Expense{}, s.persistence(ctx, "update expense", err)
	}

	s.logger.InfoContext(ctx, "Expense updated",
		log.NewFields().WithOperation(log.OpUpdate).WithExpense(e).ToSlice()...)
	s.publish(ctx, amqp.ReasonUpdate, core.PeriodOf(prev.Date), core.PeriodOf(e.Date))
	return e, nil
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	e, err := s.store.DeleteExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &core.NotFoundError{Entity: "expense", ID: id}
	}
	if err != nil {
		return s.persistence(ctx, "delete expense", err)
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.NewFields().WithOperation(log.OpDelete).WithExpense(e).ToSlice()...)
	s.publish(ctx, amqp.ReasonDelete, core.PeriodOf(e.Date))
	return nil
}

// MonthlyReport sums expenses per calendar month, newest first. Concurrent
// calls share one store query, which outlives any single caller's
// cancellation; a cancelled caller stops waiting and gets ctx.Err().
func (s *ExpenseService) MonthlyReport(ctx context.Context) ([]core.MonthTotal, error) {
	ch := s.reports.DoChan("monthly", func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		return s.store.MonthlyTotals(qctx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, s.persistence(ctx, "monthly report", res.Err)
	}
	totals := res.Val.([]core.MonthTotal)
	if res.Shared {
		s.logger.DebugContext(ctx, "Monthly report shared with concurrent caller")
	}
	out := make([]core.MonthTotal, len(totals))
	copy(out, totals)
	return out, nil
}

// Dashboard summarizes one month over every category.
func (s *ExpenseService) Dashboard(ctx context.Context, year, month int) (core.MonthOverview, error) {
	if year < 1 {
		return core.MonthOverview{}, core.NewValidationError("year", "must be a positive number")
	}
	if month < 1 || month > 12 {
		return core.MonthOverview{}, core.NewValidationError("month", "must be between 1 and 12")
	}
	expenses, err := s.ListExpenses(ctx, core.ExpenseQuery{Year: year, Month: month})
	if err != nil {
		return core.MonthOverview{}, err
	}
	categories, err := s.ListCategories(ctx)
	if err != nil {
		return core.MonthOverview{}, err
	}
	return core.Summarize(expenses, categories, month, year), nil
}

// Close closes the underlying store.
func (s *ExpenseService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// checkFields validates f and checks that its category exists.
func (s *ExpenseService) checkFields(ctx context.Context, f core.ExpenseFields) error {
	if err := f.Validate(); err != nil {
		return core.NewValidationError(fieldOf(err), err.Error())
	}
	_, err := s.store.GetCategory(ctx, f.CategoryID)
	if errors.Is(err, storage.ErrNotFound) {
		return core.NewValidationError("categoryId", fmt.Sprintf("category %d does not exist", f.CategoryID))
	}
	if err != nil {
		return s.persistence(ctx, "get category", err)
	}
	return nil
}

// persistence hides storage details behind a PersistenceError. Domain errors
// raised by the store pass through unchanged.
func (s *ExpenseService) persistence(ctx context.Context, op string, err error) error {
	if core.IsValidation(err) || core.IsNotFound(err) || core.IsPersistence(err) {
		return err
	}
	s.logger.ErrorContext(ctx, "Storage operation failed",
		log.FieldOperation, op,
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeDatabase)
	return &core.PersistenceError{Op: op, Err: err}
}

func fieldOf(err error) string {
	switch {
	case errors.Is(err, core.ErrTitleTooLong):
		return "title"
	case errors.Is(err, core.ErrInvalidCategory):
		return "categoryId"
	case errors.Is(err, core.ErrAmountOutOfRange):
		return "amount"
	default:
		return "date"
	}
}
