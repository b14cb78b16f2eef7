// Package settings holds operator-editable defaults in a local SQLite
// file: the installment-count deduction rate table and the expense
// category list. The file lives next to the binary and survives restarts
// without needing the main database.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/example/clinic-finance/internal/fault"
)

// InstallmentRate maps an installment count to its deduction percentage.
type InstallmentRate struct {
	Installments int     `json:"installments"`
	Rate         float64 `json:"rate"`
}

// ExpenseCategory is one selectable expense bucket.
type ExpenseCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var defaultRates = []InstallmentRate{
	{Installments: 2, Rate: 5},
	{Installments: 3, Rate: 5},
	{Installments: 4, Rate: 7.5},
	{Installments: 5, Rate: 7.5},
	{Installments: 6, Rate: 9},
	{Installments: 9, Rate: 12},
	{Installments: 12, Rate: 15},
}

var defaultCategories = []string{"lab", "implant", "material", "misc"}

// Open opens or creates the settings database at path and seeds it on
// first use. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS installment_rates (
			installments INTEGER PRIMARY KEY,
			rate REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expense_categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate settings db: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM installment_rates`).Scan(&count); err != nil {
		return fmt.Errorf("count installment rates: %w", err)
	}
	if count == 0 {
		for _, r := range defaultRates {
			if _, err := s.db.Exec(
				`INSERT INTO installment_rates (installments, rate) VALUES (?, ?)`,
				r.Installments, r.Rate); err != nil {
				return fmt.Errorf("seed installment rates: %w", err)
			}
		}
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM expense_categories`).Scan(&count); err != nil {
		return fmt.Errorf("count expense categories: %w", err)
	}
	if count == 0 {
		for _, name := range defaultCategories {
			if _, err := s.db.Exec(
				`INSERT INTO expense_categories (name) VALUES (?)`, name); err != nil {
				return fmt.Errorf("seed expense categories: %w", err)
			}
		}
	}
	return nil
}

// InstallmentRate returns the configured rate for an installment count.
// The second return is false when no row is configured for that count.
func (s *Store) InstallmentRate(ctx context.Context, installments int) (float64, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rate float64
	err := s.db.QueryRowContext(queryCtx,
		`SELECT rate FROM installment_rates WHERE installments = ?`, installments).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup installment rate: %w", err)
	}
	return rate, true, nil
}

// ListInstallmentRates returns the whole rate table in installment order.
func (s *Store) ListInstallmentRates(ctx context.Context) ([]InstallmentRate, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx,
		`SELECT installments, rate FROM installment_rates ORDER BY installments ASC`)
	if err != nil {
		return nil, fmt.Errorf("list installment rates: %w", err)
	}
	defer rows.Close()

	var rates []InstallmentRate
	for rows.Next() {
		var r InstallmentRate
		if err := rows.Scan(&r.Installments, &r.Rate); err != nil {
			return nil, fmt.Errorf("scan installment rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// ReplaceInstallmentRates swaps the full rate table in one transaction.
func (s *Store) ReplaceInstallmentRates(ctx context.Context, rates []InstallmentRate) error {
	for _, r := range rates {
		if r.Installments < 2 {
			return fault.New(fault.Validation, "installment count must be at least 2, got %d", r.Installments)
		}
		if r.Rate < 0 || r.Rate > 100 {
			return fault.New(fault.Validation, "rate for %d installments must be in [0,100], got %.2f", r.Installments, r.Rate)
		}
	}

	txCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(txCtx, `DELETE FROM installment_rates`); err != nil {
		return fmt.Errorf("clear installment rates: %w", err)
	}
	for _, r := range rates {
		if _, err := tx.ExecContext(txCtx,
			`INSERT INTO installment_rates (installments, rate) VALUES (?, ?)`,
			r.Installments, r.Rate); err != nil {
			return fmt.Errorf("insert installment rate: %w", err)
		}
	}
	return tx.Commit()
}

// ListExpenseCategories returns all categories by name.
func (s *Store) ListExpenseCategories(ctx context.Context) ([]ExpenseCategory, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx,
		`SELECT id, name FROM expense_categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list expense categories: %w", err)
	}
	defer rows.Close()

	var categories []ExpenseCategory
	for rows.Next() {
		var c ExpenseCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan expense category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// AddExpenseCategory inserts a new category.
func (s *Store) AddExpenseCategory(ctx context.Context, name string) (*ExpenseCategory, error) {
	if name == "" {
		return nil, fault.New(fault.Validation, "category name is required")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(queryCtx,
		`INSERT INTO expense_categories (name) VALUES (?)`, name)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, fault.New(fault.Conflict, "expense category %q already exists", name)
		}
		return nil, fmt.Errorf("insert expense category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read category id: %w", err)
	}
	return &ExpenseCategory{ID: id, Name: name}, nil
}

// RemoveExpenseCategory deletes a category by id.
func (s *Store) RemoveExpenseCategory(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(queryCtx,
		`DELETE FROM expense_categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return fault.New(fault.NotFound, "expense category %d not found", id)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
