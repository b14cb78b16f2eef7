package ledger

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

// Store is the PostgreSQL persistence layer for accounts, doctor bindings
// and ledger entries.
type Store struct {
	Pool *pgxpool.Pool
}

// Account is a ledger owner: a doctor-branch pairing or a staff member,
// holding one running balance.
type Account struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Phone     string  `json:"phone,omitempty"`
	Email     string  `json:"email,omitempty"`
	Address   string  `json:"address,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Subkind   string  `json:"subkind,omitempty"`
	Status    string  `json:"status"`
	Balance   float64 `json:"balance"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Binding maps a (doctor id, branch id) pair to exactly one account while
// active. Deactivated bindings are kept for audit and excluded from lookups.
type Binding struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	DoctorID   string `json:"doctor_id"`
	DoctorName string `json:"doctor_name"`
	BranchID   string `json:"branch_id"`
	BranchName string `json:"branch_name"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Entry is a single credit/debit posting against an account. Balance is
// the running-balance snapshot as of this entry in (date, creation-order)
// sequence.
type Entry struct {
	ID           int64   `json:"id"`
	AccountID    int64   `json:"account_id"`
	Kind         string  `json:"kind"`
	CommissionID *int64  `json:"commission_id,omitempty"`
	Date         string  `json:"date"`
	Description  string  `json:"description"`
	Credit       float64 `json:"credit"`
	Debit        float64 `json:"debit"`
	Balance      float64 `json:"balance"`
	CreatedBy    string  `json:"created_by"`
	CreatedAt    string  `json:"created_at"`
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const accountColumns = `id, code, name, phone, email, address, notes, kind, subkind, status, balance,
	created_at::text, updated_at::text`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Phone, &a.Email, &a.Address, &a.Notes,
		&a.Kind, &a.Subkind, &a.Status, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account with a zero balance.
func (s *Store) CreateAccount(ctx context.Context, a *Account) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if a.Code == "" || a.Name == "" {
		return nil, fault.New(fault.Validation, "account code and name are required")
	}
	if a.Status == "" {
		a.Status = StatusActive
	}

	row := s.Pool.QueryRow(queryCtx, `
		INSERT INTO accounts (code, name, phone, email, address, notes, kind, subkind, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+accountColumns,
		a.Code, a.Name, a.Phone, a.Email, a.Address, a.Notes, a.Kind, a.Subkind, a.Status)

	created, err := scanAccount(row)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return nil, fault.Wrap(fault.Conflict, err, "account code %s already exists", a.Code)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a, err := scanAccount(s.Pool.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "account %d not found", id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// UpdateAccount replaces the mutable contact and classification fields.
func (s *Store) UpdateAccount(ctx context.Context, a *Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE accounts
		SET code = $1, name = $2, phone = $3, email = $4, address = $5, notes = $6,
		    kind = $7, subkind = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $9`,
		a.Code, a.Name, a.Phone, a.Email, a.Address, a.Notes, a.Kind, a.Subkind, a.ID)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return fault.Wrap(fault.Conflict, err, "account code %s already exists", a.Code)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "account %d not found", a.ID)
	}
	return nil
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	Kind    string
	Subkind string
	Status  string
	Limit   int
	Offset  int
}

// ListAccounts returns accounts ordered by name. Filters are combined with
// fixed placeholders, never interpolated.
func (s *Store) ListAccounts(ctx context.Context, filter AccountFilter) ([]*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Subkind != "" {
		args = append(args, filter.Subkind)
		query += fmt.Sprintf(" AND subkind = $%d", len(args))
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AccountKinds returns the distinct kind and subkind tags in use on active
// accounts, for filter dropdowns.
func (s *Store) AccountKinds(ctx context.Context) (kinds, subkinds []string, err error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT DISTINCT kind FROM accounts WHERE status = $1 AND kind <> '' ORDER BY kind`, StatusActive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query account kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, nil, err
		}
		kinds = append(kinds, k)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows2, err := s.Pool.Query(queryCtx, `
		SELECT DISTINCT subkind FROM accounts WHERE status = $1 AND subkind <> '' ORDER BY subkind`, StatusActive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query account subkinds: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var k string
		if err := rows2.Scan(&k); err != nil {
			return nil, nil, err
		}
		subkinds = append(subkinds, k)
	}
	return kinds, subkinds, rows2.Err()
}

// EntryCount reports how many ledger entries reference the account.
func (s *Store) EntryCount(ctx context.Context, accountID int64) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	err := s.Pool.QueryRow(queryCtx,
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// DeleteAccount removes an account and its bindings. An account that still
// has ledger entries is never hard-deleted; the caller gets a conflict with
// the entry count so the UI can explain what to clean up first.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	n, err := s.EntryCount(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fault.New(fault.Conflict,
			"account %d has %d ledger entries; delete the entries first or deactivate the account instead", id, n)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.Begin(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	if _, err := tx.Exec(queryCtx, `DELETE FROM doctor_account_bindings WHERE account_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete bindings: %w", err)
	}
	tag, err := tx.Exec(queryCtx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "account %d not found", id)
	}
	return tx.Commit(queryCtx)
}

// DeactivateAccount soft-deactivates an account, keeping it for audit.
func (s *Store) DeactivateAccount(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE accounts SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		StatusInactive, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "account %d not found", id)
	}
	return nil
}

// BindDoctor links a doctor-branch pair to an account. The pair is unique
// while active; binding it to a different account is a conflict.
func (s *Store) BindDoctor(ctx context.Context, b *Binding) (*Binding, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.Begin(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	var existingAccount int64
	err = tx.QueryRow(queryCtx, `
		SELECT account_id FROM doctor_account_bindings
		WHERE doctor_id = $1 AND branch_id = $2 AND status = $3`,
		b.DoctorID, b.BranchID, StatusActive).Scan(&existingAccount)
	switch {
	case err == nil && existingAccount != b.AccountID:
		return nil, fault.New(fault.Conflict,
			"doctor %s at branch %s is already bound to account %d", b.DoctorID, b.BranchID, existingAccount)
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("failed to check existing binding: %w", err)
	}

	row := tx.QueryRow(queryCtx, `
		INSERT INTO doctor_account_bindings (account_id, doctor_id, doctor_name, branch_id, branch_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, branch_id)
		DO UPDATE SET account_id = EXCLUDED.account_id, doctor_name = EXCLUDED.doctor_name,
		              branch_name = EXCLUDED.branch_name, status = EXCLUDED.status
		RETURNING id, account_id, doctor_id, doctor_name, branch_id, branch_name, status, created_at::text`,
		b.AccountID, b.DoctorID, b.DoctorName, b.BranchID, b.BranchName, StatusActive)

	var created Binding
	if err := row.Scan(&created.ID, &created.AccountID, &created.DoctorID, &created.DoctorName,
		&created.BranchID, &created.BranchName, &created.Status, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save binding: %w", err)
	}
	if err := tx.Commit(queryCtx); err != nil {
		return nil, fmt.Errorf("failed to commit binding: %w", err)
	}
	return &created, nil
}

const qualifiedAccountColumns = `a.id, a.code, a.name, a.phone, a.email, a.address, a.notes,
	a.kind, a.subkind, a.status, a.balance, a.created_at::text, a.updated_at::text`

// FindAccountByDoctorBranch resolves the active account bound to a
// doctor-branch pair.
func (s *Store) FindAccountByDoctorBranch(ctx context.Context, doctorID, branchID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a, err := scanAccount(s.Pool.QueryRow(queryCtx, `
		SELECT `+qualifiedAccountColumns+`
		FROM doctor_account_bindings b
		JOIN accounts a ON a.id = b.account_id
		WHERE b.doctor_id = $1 AND b.branch_id = $2 AND b.status = $3 AND a.status = $4`,
		doctorID, branchID, StatusActive, StatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "no active account bound to doctor %s at branch %s", doctorID, branchID)
		}
		return nil, fmt.Errorf("failed to find bound account: %w", err)
	}
	return a, nil
}

// ListBindings returns the active bindings for an account.
func (s *Store) ListBindings(ctx context.Context, accountID int64) ([]*Binding, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT id, account_id, doctor_id, doctor_name, branch_id, branch_name, status, created_at::text
		FROM doctor_account_bindings
		WHERE account_id = $1 AND status = $2
		ORDER BY branch_name, doctor_name`, accountID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.AccountID, &b.DoctorID, &b.DoctorName,
			&b.BranchID, &b.BranchName, &b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, &b)
	}
	return bindings, rows.Err()
}

// DeactivateBinding flips a binding to inactive. The row is kept for audit.
func (s *Store) DeactivateBinding(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE doctor_account_bindings SET status = $1 WHERE id = $2`, StatusInactive, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "binding %d not found", id)
	}
	return nil
}

const entryColumns = `id, account_id, kind, commission_id, entry_date::text, description,
	credit, debit, balance, created_by, created_at::text`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.CommissionID, &e.Date, &e.Description,
		&e.Credit, &e.Debit, &e.Balance, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntry retrieves a single ledger entry.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	e, err := scanEntry(s.Pool.QueryRow(queryCtx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "ledger entry %d not found", id)
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

// ListEntries returns all entries for an account in replay order:
// date ascending, creation order ascending.
func (s *Store) ListEntries(ctx context.Context, accountID int64) ([]*Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY entry_date ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
