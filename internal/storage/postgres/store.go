// Package postgres implements storage.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"expensegrid/internal/core"
	"expensegrid/internal/storage"
)

const selectExpense = `SELECT e.id, e.date, e.title, e.amount::text, e.category_id, c.name
FROM expenses e JOIN categories c ON c.id = e.category_id`

const uniqueViolation = "23505"

// Config holds the pool settings.
type Config struct {
	URL string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New connects to PostgreSQL, verifies the connection and applies the
// embedded migrations.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)

	if err := storage.RunPostgresMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Category, error) {
		var c core.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	c := core.Category{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT name FROM categories WHERE id = $1`, id).Scan(&c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Category{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	c := core.Category{Name: name}
	err := s.pool.QueryRow(ctx, `INSERT INTO categories (name) VALUES ($1) RETURNING id`, name).Scan(&c.ID)
	if isUniqueViolation(err) {
		return core.Category{}, storage.ErrConflict
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.logger.InfoContext(ctx, "category created", "id", c.ID, "name", name)
	return c, nil
}

func (s *Store) ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error) {
	var (
		where []string
		args  []any
	)
	if q.CategoryName != "" {
		args = append(args, q.CategoryName)
		where = append(where, fmt.Sprintf("c.name = $%d", len(args)))
	}
	if from, to, ok := storage.PeriodBounds(q); ok {
		args = append(args, from.Time, to.Time)
		where = append(where, fmt.Sprintf("e.date >= $%d AND e.date < $%d", len(args)-1, len(args)))
	}

	query := selectExpense
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += storage.OrderBy(q, "e.amount")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Expense, error) {
		return scanExpense(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

func (s *Store) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return getExpense(ctx, s.pool, id)
}

func (s *Store) CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error) {
	return createExpense(ctx, s.pool, f)
}

func (s *Store) UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error) {
	return updateExpense(ctx, s.pool, id, f)
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) (core.Expense, error) {
	return deleteExpense(ctx, s.pool, id)
}

func (s *Store) MonthlyTotals(ctx context.Context) ([]core.MonthTotal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT EXTRACT(YEAR FROM date)::int AS y, EXTRACT(MONTH FROM date)::int AS m, SUM(amount)::text
		FROM expenses
		GROUP BY y, m
		ORDER BY y DESC, m DESC`)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MonthTotal, error) {
		var (
			mt    core.MonthTotal
			total string
		)
		if err := row.Scan(&mt.Year, &mt.Month, &total); err != nil {
			return mt, err
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return mt, fmt.Errorf("malformed total %q: %w", total, err)
		}
		mt.Total = d
		return mt, nil
	})
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	return out, nil
}

// Reconcile applies the batch inside one transaction; any error rolls the
// whole batch back.
func (s *Store) Reconcile(ctx context.Context, b storage.Batch) (storage.BatchResult, error) {
	result := storage.BatchResult{Saved: make([]core.SavedExpense, 0, len(b.Rows))}
	if b.Empty() {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.BatchResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range b.Deleted {
		e, err := deleteExpense(ctx, tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return storage.BatchResult{}, err
		}
		result.Deleted = append(result.Deleted, e)
	}

	for _, row := range b.Rows {
		id, identified := row.Key.ID()
		if !identified {
			saved, err := createExpense(ctx, tx, row.Fields)
			if err != nil {
				return storage.BatchResult{}, err
			}
			result.Saved = append(result.Saved, core.SavedExpense{Expense: saved, LocalKey: row.Key.LocalKey()})
			continue
		}

		prev, err := getExpense(ctx, tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.BatchResult{}, &core.NotFoundError{Entity: "expense", ID: id, Row: row.Label}
		}
		if err != nil {
			return storage.BatchResult{}, err
		}
		saved, err := updateExpense(ctx, tx, id, row.Fields)
		if err != nil {
			return storage.BatchResult{}, err
		}
		result.Replaced = append(result.Replaced, prev)
		result.Saved = append(result.Saved, core.SavedExpense{Expense: saved, LocalKey: row.Key.LocalKey()})
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.BatchResult{}, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "batch reconciled",
		"saved", len(result.Saved),
		"deleted", len(result.Deleted))
	return result, nil
}

func getExpense(ctx context.Context, q querier, id int64) (core.Expense, error) {
	e, err := scanExpense(q.QueryRow(ctx, selectExpense+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

func createExpense(ctx context.Context, q querier, f core.ExpenseFields) (core.Expense, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO expenses (date, title, amount, category_id)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING id`,
		f.Date.Time, f.Title, core.FormatAmount(f.Amount), f.CategoryID).Scan(&id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	return getExpense(ctx, q, id)
}

func updateExpense(ctx context.Context, q querier, id int64, f core.ExpenseFields) (core.Expense, error) {
	tag, err := q.Exec(ctx, `
		UPDATE expenses
		SET date = $1, title = $2, amount = $3::numeric, category_id = $4, updated_at = NOW()
		WHERE id = $5`,
		f.Date.Time, f.Title, core.FormatAmount(f.Amount), f.CategoryID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.Expense{}, storage.ErrNotFound
	}
	return getExpense(ctx, q, id)
}

func deleteExpense(ctx context.Context, q querier, id int64) (core.Expense, error) {
	e, err := getExpense(ctx, q, id)
	if err != nil {
		return core.Expense{}, err
	}
	if _, err := q.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id); err != nil {
		return core.Expense{}, fmt.Errorf("delete expense %d: %w", id, err)
	}
	return e, nil
}

func scanExpense(row pgx.Row) (core.Expense, error) {
	var (
		e      core.Expense
		date   time.Time
		amount string
	)
	if err := row.Scan(&e.ID, &date, &e.Title, &amount, &e.CategoryID, &e.Category.Name); err != nil {
		return core.Expense{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d has malformed amount %q: %w", e.ID, amount, err)
	}
	e.Date = core.NewDate(date.Year(), int(date.Month()), date.Day())
	e.Amount = d
	e.Category.ID = e.CategoryID
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
