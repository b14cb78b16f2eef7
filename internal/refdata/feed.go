// Package refdata exposes the read-only clinical reference feed: the
// doctors, branches and raw patient collections synced in from the
// practice management system. Commission entry screens are prefilled
// from this feed; the engine itself never writes to it.
package refdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-finance/internal/pgerr"
)

// Doctor is one practitioner with their agreed commission rate.
type Doctor struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	BranchID       string  `json:"branch_id"`
	BranchName     string  `json:"branch_name"`
	CommissionRate float64 `json:"commission_rate"`
	Active         bool    `json:"active"`
}

// Branch is one clinic location.
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawCollection is one patient payment as recorded upstream, before any
// deduction processing.
type RawCollection struct {
	ID            int64   `json:"id"`
	DoctorID      string  `json:"doctor_id"`
	PatientID     string  `json:"patient_id"`
	PatientName   string  `json:"patient_name"`
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	Installments  int     `json:"installments"`
}

// Feed serves reference lookups. Implementations degrade to empty
// results when the upstream sync has never run.
type Feed interface {
	Doctors(ctx context.Context) ([]Doctor, error)
	Branches(ctx context.Context) ([]Branch, error)
	Collections(ctx context.Context, doctorID, start, end string) ([]RawCollection, error)
}

// PGFeed reads the reference tables the sync job maintains.
type PGFeed struct {
	Pool *pgxpool.Pool
}

// NewPGFeed creates a feed over the given pool.
func NewPGFeed(pool *pgxpool.Pool) *PGFeed {
	return &PGFeed{Pool: pool}
}

// Migrate creates the reference tables. The sync job owns their content.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ref_branches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ref_doctors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			branch_id TEXT NOT NULL DEFAULT '',
			branch_name TEXT NOT NULL DEFAULT '',
			commission_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS ref_collections (
			id BIGSERIAL PRIMARY KEY,
			doctor_id TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			patient_name TEXT NOT NULL DEFAULT '',
			collected_on DATE NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			installments INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ref_collections_doctor
			ON ref_collections (doctor_id, collected_on)`,
	}
	for i, stmt := range stmts {
		if _, err := pool.Exec(migrateCtx, stmt); err != nil {
			return fmt.Errorf("apply reference migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Doctors lists active practitioners by name.
func (f *PGFeed) Doctors(ctx context.Context) ([]Doctor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := f.Pool.Query(queryCtx, `
		SELECT id, name, branch_id, branch_name, commission_rate, active
		FROM ref_doctors
		WHERE active
		ORDER BY name ASC`)
	if err != nil {
		if pgerr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.BranchID, &d.BranchName, &d.CommissionRate, &d.Active); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}

// Branches lists clinic locations by name.
func (f *PGFeed) Branches(ctx context.Context) ([]Branch, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := f.Pool.Query(queryCtx,
		`SELECT id, name FROM ref_branches ORDER BY name ASC`)
	if err != nil {
		if pgerr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// Collections lists a doctor's raw payments in [start, end], oldest
// first. Both bounds are inclusive YYYY-MM-DD days.
func (f *PGFeed) Collections(ctx context.Context, doctorID, start, end string) ([]RawCollection, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := f.Pool.Query(queryCtx, `
		SELECT id, doctor_id, patient_id, patient_name, collected_on::text,
			amount, payment_method, installments
		FROM ref_collections
		WHERE doctor_id = $1 AND collected_on BETWEEN $2 AND $3
		ORDER BY collected_on ASC, id ASC`, doctorID, start, end)
	if err != nil {
		if pgerr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var collections []RawCollection
	for rows.Next() {
		var c RawCollection
		if err := rows.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.PatientName, &c.Date,
			&c.Amount, &c.PaymentMethod, &c.Installments); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}
