package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are idempotent so the schema can be applied on every start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		code TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		subkind TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS doctor_account_bindings (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		doctor_id TEXT NOT NULL,
		doctor_name TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL,
		branch_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (doctor_id, branch_id)
	)`,

	`CREATE TABLE IF NOT EXISTS commission_records (
		id BIGSERIAL PRIMARY KEY,
		doctor_id TEXT NOT NULL,
		doctor_name TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		commission_rate DOUBLE PRECISION NOT NULL,
		gross_collected DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_deduction DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_collected DOUBLE PRECISION NOT NULL DEFAULT 0,
		revenue_added DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_expense DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission_base DOUBLE PRECISION NOT NULL DEFAULT 0,
		entitlement_added DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS commission_collections (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		patient_id TEXT NOT NULL DEFAULT '',
		patient_name TEXT NOT NULL DEFAULT '',
		collected_on DATE NOT NULL,
		gross_amount DOUBLE PRECISION NOT NULL,
		payment_method TEXT NOT NULL,
		vat_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		vat_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		installment_count INTEGER NOT NULL DEFAULT 1,
		installment_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		installment_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		pos_commission DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_amount DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS commission_expenses (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS commission_revenue_additions (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS commission_entitlement_additions (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS commission_method_breakdowns (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		payment_method TEXT NOT NULL,
		gross_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		line_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS commission_notes (
		id BIGSERIAL PRIMARY KEY,
		commission_id BIGINT NOT NULL REFERENCES commission_records(id) ON DELETE CASCADE,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL DEFAULT 'manual',
		commission_id BIGINT REFERENCES commission_records(id) ON DELETE SET NULL,
		entry_date DATE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		credit DOUBLE PRECISION NOT NULL DEFAULT 0,
		debit DOUBLE PRECISION NOT NULL DEFAULT 0,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// Replay order for recompute.
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_replay
		ON ledger_entries (account_id, entry_date, id)`,

	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_commission
		ON ledger_entries (commission_id)`,

	`CREATE INDEX IF NOT EXISTS idx_commission_records_doctor
		ON commission_records (doctor_id, period_start, period_end)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'staff',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema. Statements are individually idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for i, stmt := range migrations {
		if _, err := pool.Exec(migrateCtx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
