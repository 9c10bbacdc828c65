// Package sqlite implements storage.Store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"expensegrid/internal/core"
	"expensegrid/internal/storage"
)

const selectExpense = `SELECT e.id, e.date, e.title, e.amount_cents, e.category_id, c.name
FROM expenses e JOIN categories c ON c.id = e.category_id`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and applies the
// embedded migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	if err := storage.RunSQLiteMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	c := core.Category{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM categories WHERE id = ?`, id).Scan(&c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if isUniqueViolation(err) {
		return core.Category{}, storage.ErrConflict
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category id: %w", err)
	}
	slog.InfoContext(ctx, "Category created", "id", id, "name", name)
	return core.Category{ID: id, Name: name}, nil
}

func (s *Store) ListExpenses(ctx context.Context, q core.ExpenseQuery) ([]core.Expense, error) {
	var (
		where []string
		args  []any
	)
	if q.CategoryName != "" {
		where = append(where, "c.name = ?")
		args = append(args, q.CategoryName)
	}
	if from, to, ok := storage.PeriodBounds(q); ok {
		where = append(where, "e.date >= ? AND e.date < ?")
		args = append(args, from.String(), to.String())
	}

	query := selectExpense
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += storage.OrderBy(q, "e.amount_cents")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return getExpense(ctx, s.db, id)
}

func (s *Store) CreateExpense(ctx context.Context, f core.ExpenseFields) (core.Expense, error) {
	return createExpense(ctx, s.db, f)
}

func (s *Store) UpdateExpense(ctx context.Context, id int64, f core.ExpenseFields) (core.Expense, error) {
	return updateExpense(ctx, s.db, id, f)
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) (core.Expense, error) {
	e, err := getExpense(ctx, s.db, id)
	if err != nil {
		return core.Expense{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return core.Expense{}, fmt.Errorf("delete expense %d: %w", id, err)
	}
	return e, nil
}

func (s *Store) MonthlyTotals(ctx context.Context) ([]core.MonthTotal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT substr(date, 1, 7) AS ym, SUM(amount_cents)
FROM expenses GROUP BY ym ORDER BY ym DESC`)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	defer rows.Close()

	var out []core.MonthTotal
	for rows.Next() {
		var (
			ym    string
			cents int64
		)
		if err := rows.Scan(&ym, &cents); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		year, month, err := parseYearMonth(ym)
		if err != nil {
			return nil, err
		}
		out = append(out, core.MonthTotal{Year: year, Month: month, Total: core.FromCents(cents)})
	}
	return out, rows.Err()
}

// Reconcile applies the batch in a single transaction.
func (s *Store) Reconcile(ctx context.Context, b storage.Batch) (storage.BatchResult, error) {
	result := storage.BatchResult{Saved: make([]core.SavedExpense, 0, len(b.Rows))}
	if b.Empty() {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.BatchResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range b.Deleted {
		e, err := getExpense(ctx, tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return storage.BatchResult{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
			return storage.BatchResult{}, fmt.Errorf("delete expense %d: %w", id, err)
		}
		result.Deleted = append(result.Deleted, e)
	}

	for _, row := range b.Rows {
		var saved core.Expense
		if id, ok := row.Key.ID(); ok {
			prev, err := getExpense(ctx, tx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return storage.BatchResult{}, &core.NotFoundError{Entity: "expense", ID: id, Row: row.Label}
			}
			if err != nil {
				return storage.BatchResult{}, err
			}
			if saved, err = updateExpense(ctx, tx, id, row.Fields); err != nil {
				return storage.BatchResult{}, err
			}
			result.Replaced = append(result.Replaced, prev)
		} else {
			if saved, err = createExpense(ctx, tx, row.Fields); err != nil {
				return storage.BatchResult{}, err
			}
		}
		result.Saved = append(result.Saved, core.SavedExpense{Expense: saved, LocalKey: row.Key.LocalKey()})
	}

	if err := tx.Commit(); err != nil {
		return storage.BatchResult{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Batch reconciled",
		"saved", len(result.Saved),
		"deleted", len(result.Deleted))
	return result, nil
}

func getExpense(ctx context.Context, q querier, id int64) (core.Expense, error) {
	e, err := scanExpense(q.QueryRowContext(ctx, selectExpense+" WHERE e.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, storage.ErrNotFound
	}
	return e, err
}

func createExpense(ctx context.Context, q querier, f core.ExpenseFields) (core.Expense, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO expenses (date, title, amount_cents, category_id) VALUES (?, ?, ?, ?)`,
		f.Date.String(), f.Title, core.Cents(f.Amount), f.CategoryID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense id: %w", err)
	}
	return getExpense(ctx, q, id)
}

func updateExpense(ctx context.Context, q querier, id int64, f core.ExpenseFields) (core.Expense, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE expenses SET date = ?, title = ?, amount_cents = ?, category_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`,
		f.Date.String(), f.Title, core.Cents(f.Amount), f.CategoryID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", id, err)
	}
	if n == 0 {
		return core.Expense{}, storage.ErrNotFound
	}
	return getExpense(ctx, q, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (core.Expense, error) {
	var (
		e     core.Expense
		date  string
		cents int64
	)
	if err := row.Scan(&e.ID, &date, &e.Title, &cents, &e.CategoryID, &e.Category.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d has malformed date %q: %w", e.ID, date, err)
	}
	e.Date = d
	e.Amount = core.FromCents(cents)
	e.Category.ID = e.CategoryID
	return e, nil
}

func parseYearMonth(ym string) (int, int, error) {
	if len(ym) != 7 {
		return 0, 0, fmt.Errorf("malformed month %q", ym)
	}
	year, err := strconv.Atoi(ym[:4])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed month %q", ym)
	}
	month, err := strconv.Atoi(ym[5:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed month %q", ym)
	}
	return year, month, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
