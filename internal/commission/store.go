package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/pgerr"
)

// MethodBreakdown summarizes the collections of one record by payment
// method. Rebuilt from the lines on every save.
type MethodBreakdown struct {
	ID            int64   `json:"id,omitempty"`
	PaymentMethod string  `json:"payment_method"`
	GrossAmount   float64 `json:"gross_amount"`
	NetAmount     float64 `json:"net_amount"`
	LineCount     int     `json:"line_count"`
}

// Note is a free-form remark attached to a commission record.
type Note struct {
	ID        int64  `json:"id,omitempty"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Record is a fully materialized commission computation for one doctor
// and period, with every child row loaded.
type Record struct {
	ID          int64  `json:"id"`
	DoctorID    string `json:"doctor_id"`
	DoctorName  string `json:"doctor_name"`
	BranchID    string `json:"branch_id,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`

	Result

	Notes     string `json:"notes,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`

	Collections          []CollectionLine      `json:"collections,omitempty"`
	Expenses             []ExpenseLine         `json:"expenses,omitempty"`
	RevenueAdditions     []RevenueAddition     `json:"revenue_additions,omitempty"`
	EntitlementAdditions []EntitlementAddition `json:"entitlement_additions,omitempty"`
	MethodBreakdowns     []MethodBreakdown     `json:"method_breakdowns,omitempty"`
	NoteEntries          []Note                `json:"note_entries,omitempty"`
}

// Store persists commission records and their child rows.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const recordColumns = `id, doctor_id, doctor_name, branch_id, branch_name,
	period_start::text, period_end::text, commission_rate,
	gross_collected, total_deduction, net_collected, revenue_added,
	total_expense, commission_base, entitlement_added, commission_amount,
	notes, created_by, created_at::text`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.DoctorID, &r.DoctorName, &r.BranchID, &r.BranchName,
		&r.PeriodStart, &r.PeriodEnd, &r.CommissionRate,
		&r.GrossCollected, &r.TotalDeduction, &r.NetCollected, &r.RevenueAdded,
		&r.TotalExpense, &r.CommissionBase, &r.EntitlementAdded, &r.CommissionAmount,
		&r.Notes, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertTx writes the record plus all child rows inside the caller's
// transaction and fills in the generated ids.
func (s *Store) InsertTx(ctx context.Context, tx pgx.Tx, r *Record) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO commission_records (doctor_id, doctor_name, branch_id, branch_name,
			period_start, period_end, commission_rate,
			gross_collected, total_deduction, net_collected, revenue_added,
			total_expense, commission_base, entitlement_added, commission_amount,
			notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at::text`,
		r.DoctorID, r.DoctorName, r.BranchID, r.BranchName,
		r.PeriodStart, r.PeriodEnd, r.CommissionRate,
		r.GrossCollected, r.TotalDeduction, r.NetCollected, r.RevenueAdded,
		r.TotalExpense, r.CommissionBase, r.EntitlementAdded, r.CommissionAmount,
		r.Notes, r.CreatedBy)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return fmt.Errorf("insert commission record: %w", err)
	}

	for i := range r.Collections {
		c := &r.Collections[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_collections (commission_id, patient_id, patient_name,
				collected_on, gross_amount, payment_method, vat_rate, vat_amount,
				installment_count, installment_rate, installment_amount,
				pos_commission, net_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id`,
			r.ID, c.PatientID, c.PatientName,
			c.Date, c.GrossAmount, c.PaymentMethod, c.VATRate, c.VATAmount,
			c.InstallmentCount, c.InstallmentRate, c.InstallmentAmount,
			c.POSCommission, c.NetAmount).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert collection line: %w", err)
		}
	}

	for i := range r.Expenses {
		e := &r.Expenses[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_expenses (commission_id, category, description, amount)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			r.ID, e.Category, e.Description, e.Amount).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert expense line: %w", err)
		}
	}

	for i := range r.RevenueAdditions {
		a := &r.RevenueAdditions[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_revenue_additions (commission_id, description, amount)
			VALUES ($1, $2, $3)
			RETURNING id`,
			r.ID, a.Description, a.Amount).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("insert revenue addition: %w", err)
		}
	}

	for i := range r.EntitlementAdditions {
		a := &r.EntitlementAdditions[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_entitlement_additions (commission_id, description, amount)
			VALUES ($1, $2, $3)
			RETURNING id`,
			r.ID, a.Description, a.Amount).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("insert entitlement addition: %w", err)
		}
	}

	for i := range r.MethodBreakdowns {
		b := &r.MethodBreakdowns[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_method_breakdowns (commission_id, payment_method,
				gross_amount, net_amount, line_count)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			r.ID, b.PaymentMethod, b.GrossAmount, b.NetAmount, b.LineCount).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert method breakdown: %w", err)
		}
	}

	for i := range r.NoteEntries {
		n := &r.NoteEntries[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_notes (commission_id, author, body)
			VALUES ($1, $2, $3)
			RETURNING id, created_at::text`,
			r.ID, n.Author, n.Body).Scan(&n.ID, &n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
	}

	return nil
}

// Get loads a record with all of its child rows.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		`SELECT `+recordColumns+` FROM commission_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "commission record %d not found", id)
		}
		return nil, fmt.Errorf("get commission record %d: %w", id, err)
	}

	if err := s.loadChildren(queryCtx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) loadChildren(ctx context.Context, r *Record) error {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, patient_id, patient_name, collected_on::text, gross_amount,
			payment_method, vat_rate, vat_amount, installment_count,
			installment_rate, installment_amount, pos_commission, net_amount
		FROM commission_collections
		WHERE commission_id = $1
		ORDER BY collected_on ASC, id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load collections: %w", err)
	}
	for rows.Next() {
		var c CollectionLine
		if err := rows.Scan(&c.ID, &c.PatientID, &c.PatientName, &c.Date, &c.GrossAmount,
			&c.PaymentMethod, &c.VATRate, &c.VATAmount, &c.InstallmentCount,
			&c.InstallmentRate, &c.InstallmentAmount, &c.POSCommission, &c.NetAmount); err != nil {
			rows.Close()
			return fmt.Errorf("scan collection line: %w", err)
		}
		r.Collections = append(r.Collections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate collections: %w", err)
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, category, description, amount
		FROM commission_expenses WHERE commission_id = $1 ORDER BY id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load expenses: %w", err)
	}
	for rows.Next() {
		var e ExpenseLine
		if err := rows.Scan(&e.ID, &e.Category, &e.Description, &e.Amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan expense line: %w", err)
		}
		r.Expenses = append(r.Expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate expenses: %w", err)
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, description, amount
		FROM commission_revenue_additions WHERE commission_id = $1 ORDER BY id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load revenue additions: %w", err)
	}
	for rows.Next() {
		var a RevenueAddition
		if err := rows.Scan(&a.ID, &a.Description, &a.Amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan revenue addition: %w", err)
		}
		r.RevenueAdditions = append(r.RevenueAdditions, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate revenue additions: %w", err)
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, description, amount
		FROM commission_entitlement_additions WHERE commission_id = $1 ORDER BY id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load entitlement additions: %w", err)
	}
	for rows.Next() {
		var a EntitlementAddition
		if err := rows.Scan(&a.ID, &a.Description, &a.Amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan entitlement addition: %w", err)
		}
		r.EntitlementAdditions = append(r.EntitlementAdditions, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entitlement additions: %w", err)
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, payment_method, gross_amount, net_amount, line_count
		FROM commission_method_breakdowns WHERE commission_id = $1 ORDER BY id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load method breakdowns: %w", err)
	}
	for rows.Next() {
		var b MethodBreakdown
		if err := rows.Scan(&b.ID, &b.PaymentMethod, &b.GrossAmount, &b.NetAmount, &b.LineCount); err != nil {
			rows.Close()
			return fmt.Errorf("scan method breakdown: %w", err)
		}
		r.MethodBreakdowns = append(r.MethodBreakdowns, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate method breakdowns: %w", err)
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, author, body, created_at::text
		FROM commission_notes WHERE commission_id = $1 ORDER BY id ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Author, &n.Body, &n.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan note: %w", err)
		}
		r.NoteEntries = append(r.NoteEntries, n)
	}
	rows.Close()
	return rows.Err()
}

// Filter narrows a record listing. Zero values mean no constraint.
type Filter struct {
	DoctorID    string
	PeriodStart string
	PeriodEnd   string
	Limit       int
}

// List returns record summaries, newest first. Child rows are not loaded.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM commission_records WHERE 1=1`
	var args []any

	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if filter.PeriodStart != "" {
		args = append(args, filter.PeriodStart)
		query += fmt.Sprintf(" AND period_end >= $%d", len(args))
	}
	if filter.PeriodEnd != "" {
		args = append(args, filter.PeriodEnd)
		query += fmt.Sprintf(" AND period_start <= $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commission records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteTx removes the record inside the caller's transaction. Child rows
// go with it through the cascading foreign keys.
func (s *Store) DeleteTx(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM commission_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete commission record %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "commission record %d not found", id)
	}
	return nil
}

// OverlappingRecords returns the persisted records for a doctor whose
// period intersects [start, end], excluding excludeID when nonzero. A
// missing table reads as no overlaps so a fresh install never blocks
// record entry.
func (s *Store) OverlappingRecords(ctx context.Context, doctorID, start, end string, excludeID int64) ([]*Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+recordColumns+`
		FROM commission_records
		WHERE doctor_id = $1
		  AND id <> $4
		  AND (
			period_start BETWEEN $2 AND $3
			OR period_end BETWEEN $2 AND $3
			OR $2 BETWEEN period_start AND period_end
			OR $3 BETWEEN period_start AND period_end
		  )
		ORDER BY period_start ASC`, doctorID, start, end, excludeID)
	if err != nil {
		if pgerr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query overlapping records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overlapping record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
