package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/pgerr"
)

// Entry kinds. Commission postings carry a commission_id link; manual
// postings do not.
const (
	EntryKindManual     = "manual"
	EntryKindCommission = "commission"
)

const dateLayout = "2006-01-02"

// Trail receives a record for every committed ledger mutation.
type Trail interface {
	Record(action string, details map[string]any)
}

// Engine applies mutations to account ledgers. Every mutation on an
// account is serialized through a per-account lock so the running-balance
// snapshots stay consistent with insertion order.
type Engine struct {
	store  *Store
	locks  *accountLocks
	trail  Trail
	logger *slog.Logger
}

// NewEngine creates an Engine over the given store. trail may be nil.
func NewEngine(store *Store, trail Trail, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		locks:  newAccountLocks(),
		trail:  trail,
		logger: logger,
	}
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() *Store { return e.store }

// LockAccount takes the mutation lock for an account and returns the
// unlock function. Callers that post ledger entries inside their own
// transaction must hold this for the whole transaction plus any
// follow-up recompute.
func (e *Engine) LockAccount(accountID int64) func() {
	return e.locks.Lock(accountID)
}

func (e *Engine) record(action string, details map[string]any) {
	if e.trail != nil {
		e.trail.Record(action, details)
	}
}

// withRetry runs fn up to three times, backing off between attempts when
// the failure is a serialization conflict. Anything else is returned
// unchanged on the first failure.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	const maxAttempts = 3

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !pgerr.IsContention(err) {
			return err
		}
		e.logger.WarnContext(ctx, "ledger transaction conflict, retrying",
			"op", op, "attempt", attempt+1)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fault.Wrap(fault.Contention, err, "%s: conflict persisted after %d attempts", op, maxAttempts)
}

func (e *Engine) inTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := e.store.Pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(txCtx)

	if err := fn(txCtx, tx); err != nil {
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func validateEntry(in *Entry) error {
	if in.AccountID <= 0 {
		return fault.New(fault.Validation, "account id is required")
	}
	if in.Credit < 0 || in.Debit < 0 {
		return fault.New(fault.Validation, "credit and debit must be nonnegative")
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return fault.New(fault.Validation, "entry date must be YYYY-MM-DD, got %q", in.Date)
	}
	if in.Kind == "" {
		in.Kind = EntryKindManual
	}
	return nil
}

// Append posts a new entry to the account ledger. The stored balance
// snapshot is the account balance after this entry; the account's cached
// balance is advanced in the same transaction.
func (e *Engine) Append(ctx context.Context, in *Entry) (*Entry, error) {
	if err := validateEntry(in); err != nil {
		return nil, err
	}

	unlock := e.LockAccount(in.AccountID)
	defer unlock()

	var out *Entry
	err := e.withRetry(ctx, "ledger append", func(ctx context.Context) error {
		return e.inTx(ctx, 10*time.Second, func(ctx context.Context, tx pgx.Tx) error {
			created, err := e.AppendTx(ctx, tx, in)
			if err != nil {
				return err
			}
			out = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.record("ledger.append", map[string]any{
		"account_id": out.AccountID,
		"entry_id":   out.ID,
		"credit":     out.Credit,
		"debit":      out.Debit,
	})
	return out, nil
}

// AppendTx posts an entry inside a caller-managed transaction. The caller
// must hold the account lock for the duration of the transaction.
func (e *Engine) AppendTx(ctx context.Context, tx pgx.Tx, in *Entry) (*Entry, error) {
	if err := validateEntry(in); err != nil {
		return nil, err
	}

	var balance float64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, in.AccountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fault.New(fault.NotFound, "account %d not found", in.AccountID)
		}
		return nil, fmt.Errorf("lock account %d: %w", in.AccountID, err)
	}

	balance += in.Credit - in.Debit

	row := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (account_id, kind, commission_id, entry_date, description,
			credit, debit, balance, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+entryColumns,
		in.AccountID, in.Kind, in.CommissionID, in.Date, in.Description,
		in.Credit, in.Debit, balance, in.CreatedBy)
	out, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2`, balance, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("update account balance: %w", err)
	}
	return out, nil
}

// Recompute replays the full entry history of an account in
// (entry_date, id) order and rewrites every balance snapshot plus the
// account's cached balance. Safe to run at any time; the result is the
// same whether or not the stored snapshots had drifted.
func (e *Engine) Recompute(ctx context.Context, accountID int64) error {
	unlock := e.LockAccount(accountID)
	defer unlock()

	err := e.withRetry(ctx, "ledger recompute", func(ctx context.Context) error {
		return e.inTx(ctx, 30*time.Second, func(ctx context.Context, tx pgx.Tx) error {
			return e.RecomputeTx(ctx, tx, accountID)
		})
	})
	if err != nil {
		return err
	}

	e.record("ledger.recompute", map[string]any{"account_id": accountID})
	return nil
}

// RecomputeTx is the transactional body of Recompute, for callers that
// need the replay inside their own transaction. The caller must hold the
// account lock.
func (e *Engine) RecomputeTx(ctx context.Context, tx pgx.Tx, accountID int64) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check account %d: %w", accountID, err)
	}
	if !exists {
		return fault.New(fault.NotFound, "account %d not found", accountID)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, credit, debit, balance
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY entry_date ASC, id ASC
		FOR UPDATE`, accountID)
	if err != nil {
		return fmt.Errorf("load entries for account %d: %w", accountID, err)
	}

	type fix struct {
		id      int64
		balance float64
	}
	var (
		running float64
		fixes   []fix
	)
	for rows.Next() {
		var (
			id             int64
			credit, debit  float64
			storedSnapshot float64
		)
		if err := rows.Scan(&id, &credit, &debit, &storedSnapshot); err != nil {
			rows.Close()
			return fmt.Errorf("scan entry: %w", err)
		}
		running += credit - debit
		if storedSnapshot != running {
			fixes = append(fixes, fix{id: id, balance: running})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entries: %w", err)
	}

	// Snapshots are only written once the full replay has succeeded.
	if len(fixes) > 0 {
		batch := &pgx.Batch{}
		for _, f := range fixes {
			batch.Queue(`UPDATE ledger_entries SET balance = $1 WHERE id = $2`, f.balance, f.id)
		}
		br := tx.SendBatch(ctx, batch)
		for range fixes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("rewrite balance snapshot: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close snapshot batch: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2`, running, accountID)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	return nil
}

// fetchOwned loads an entry and checks it belongs to the given account.
func (e *Engine) fetchOwned(ctx context.Context, accountID, entryID int64) (*Entry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.AccountID != accountID {
		return nil, fault.New(fault.Validation,
			"entry %d belongs to account %d, not %d", entryID, entry.AccountID, accountID)
	}
	return entry, nil
}

// Edit replaces an entry with updated date, description and amounts. The
// old row is deleted and a fresh row inserted, so the entry takes a new
// id and sorts by its new date; the kind and any commission link are
// preserved. A non-empty upd.CreatedBy records the editor, otherwise the
// original author stands. The account is recomputed in the same
// transaction.
func (e *Engine) Edit(ctx context.Context, accountID, entryID int64, upd *Entry) (*Entry, error) {
	old, err := e.fetchOwned(ctx, accountID, entryID)
	if err != nil {
		return nil, err
	}

	createdBy := old.CreatedBy
	if upd.CreatedBy != "" {
		createdBy = upd.CreatedBy
	}
	replacement := &Entry{
		AccountID:    accountID,
		Kind:         old.Kind,
		CommissionID: old.CommissionID,
		Date:         upd.Date,
		Description:  upd.Description,
		Credit:       upd.Credit,
		Debit:        upd.Debit,
		CreatedBy:    createdBy,
	}
	if err := validateEntry(replacement); err != nil {
		return nil, err
	}

	unlock := e.LockAccount(accountID)
	defer unlock()

	var out *Entry
	err = e.withRetry(ctx, "ledger edit", func(ctx context.Context) error {
		return e.inTx(ctx, 30*time.Second, func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entryID)
			if err != nil {
				return fmt.Errorf("delete entry %d: %w", entryID, err)
			}
			if tag.RowsAffected() == 0 {
				return fault.New(fault.NotFound, "entry %d not found", entryID)
			}

			row := tx.QueryRow(ctx, `
				INSERT INTO ledger_entries (account_id, kind, commission_id, entry_date,
					description, credit, debit, balance, created_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
				RETURNING `+entryColumns,
				replacement.AccountID, replacement.Kind, replacement.CommissionID,
				replacement.Date, replacement.Description,
				replacement.Credit, replacement.Debit, replacement.CreatedBy)
			created, err := scanEntry(row)
			if err != nil {
				return fmt.Errorf("insert replacement entry: %w", err)
			}

			if err := e.RecomputeTx(ctx, tx, accountID); err != nil {
				return err
			}

			// Re-read so the returned snapshot reflects the replay.
			row = tx.QueryRow(ctx,
				`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, created.ID)
			out, err = scanEntry(row)
			if err != nil {
				return fmt.Errorf("reload replacement entry: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.record("ledger.edit", map[string]any{
		"account_id":   accountID,
		"old_entry_id": entryID,
		"new_entry_id": out.ID,
	})
	return out, nil
}

// Delete removes an entry and recomputes the account in one transaction.
func (e *Engine) Delete(ctx context.Context, accountID, entryID int64) error {
	if _, err := e.fetchOwned(ctx, accountID, entryID); err != nil {
		return err
	}

	unlock := e.LockAccount(accountID)
	defer unlock()

	err := e.withRetry(ctx, "ledger delete", func(ctx context.Context) error {
		return e.inTx(ctx, 30*time.Second, func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entryID)
			if err != nil {
				return fmt.Errorf("delete entry %d: %w", entryID, err)
			}
			if tag.RowsAffected() == 0 {
				return fault.New(fault.NotFound, "entry %d not found", entryID)
			}
			return e.RecomputeTx(ctx, tx, accountID)
		})
	})
	if err != nil {
		return err
	}

	e.record("ledger.delete", map[string]any{
		"account_id": accountID,
		"entry_id":   entryID,
	})
	return nil
}

// RemoveCommissionPostTx deletes the ledger entries linked to a
// commission record inside a caller-managed transaction and reports the
// accounts that were touched. The caller recomputes those accounts after
// commit and must hold their locks throughout.
func (e *Engine) RemoveCommissionPostTx(ctx context.Context, tx pgx.Tx, commissionID int64) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`DELETE FROM ledger_entries WHERE commission_id = $1 RETURNING account_id`, commissionID)
	if err != nil {
		return nil, fmt.Errorf("delete commission postings: %w", err)
	}
	defer rows.Close()

	seen := map[int64]bool{}
	var accounts []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted posting: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			accounts = append(accounts, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted postings: %w", err)
	}
	return accounts, nil
}

// AccountsLinkedToCommission returns the accounts that currently hold a
// posting for the given commission record.
func (e *Engine) AccountsLinkedToCommission(ctx context.Context, commissionID int64) ([]int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := e.store.Pool.Query(queryCtx,
		`SELECT DISTINCT account_id FROM ledger_entries WHERE commission_id = $1`, commissionID)
	if err != nil {
		return nil, fmt.Errorf("query commission postings: %w", err)
	}
	defer rows.Close()

	var accounts []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan posting account: %w", err)
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}
