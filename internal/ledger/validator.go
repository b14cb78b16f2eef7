package ledger

import (
	"context"
	"fmt"
	"time"
)

// Validator provides invariant checking for account ledgers.
type Validator struct {
	store *Store
}

// NewValidator creates a new validator instance
func NewValidator(store *Store) *Validator {
	return &Validator{store: store}
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	IsValid        bool           `json:"is_valid"`
	ValidationType string         `json:"validation_type"`
	Message        string         `json:"message"`
	AccountID      int64          `json:"account_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Details        map[string]any `json:"details,omitempty"`
}

// Allow for small floating point differences.
const epsilon = 0.00000001

// ValidateCachedBalance checks that the account's cached balance equals
// the sum of credit minus debit over all of its entries.
func (v *Validator) ValidateCachedBalance(ctx context.Context, accountID int64) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var cached, computed float64
	err := v.store.Pool.QueryRow(ctx, `
		SELECT a.balance,
			COALESCE((SELECT SUM(e.credit - e.debit) FROM ledger_entries e WHERE e.account_id = a.id), 0)
		FROM accounts a
		WHERE a.id = $1
	`, accountID).Scan(&cached, &computed)
	if err != nil {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "cached_balance",
			Message:        fmt.Sprintf("failed to load balances: %v", err),
			AccountID:      accountID,
			Timestamp:      time.Now(),
		}
	}

	if abs(cached-computed) >= epsilon {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "cached_balance",
			Message:        fmt.Sprintf("cached balance %.2f does not match entry sum %.2f", cached, computed),
			AccountID:      accountID,
			Timestamp:      time.Now(),
			Details: map[string]any{
				"cached_balance":   cached,
				"computed_balance": computed,
				"difference":       cached - computed,
			},
		}
	}

	return &ValidationResult{
		IsValid:        true,
		ValidationType: "cached_balance",
		Message:        fmt.Sprintf("cached balance is consistent: %.2f", cached),
		AccountID:      accountID,
		Timestamp:      time.Now(),
	}
}

// ValidateSnapshots checks that every stored balance snapshot equals the
// prefix sum of credit minus debit in (entry_date, id) order.
func (v *Validator) ValidateSnapshots(ctx context.Context, accountID int64) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := v.store.Pool.Query(ctx, `
		SELECT id, credit, debit, balance
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY entry_date ASC, id ASC
	`, accountID)
	if err != nil {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "balance_snapshots",
			Message:        fmt.Sprintf("failed to load entries: %v", err),
			AccountID:      accountID,
			Timestamp:      time.Now(),
		}
	}
	defer rows.Close()

	var (
		running float64
		checked int
	)
	for rows.Next() {
		var (
			id            int64
			credit, debit float64
			snapshot      float64
		)
		if err := rows.Scan(&id, &credit, &debit, &snapshot); err != nil {
			return &ValidationResult{
				IsValid:        false,
				ValidationType: "balance_snapshots",
				Message:        fmt.Sprintf("failed to scan entry: %v", err),
				AccountID:      accountID,
				Timestamp:      time.Now(),
			}
		}
		running += credit - debit
		checked++
		if abs(snapshot-running) >= epsilon {
			return &ValidationResult{
				IsValid:        false,
				ValidationType: "balance_snapshots",
				Message:        fmt.Sprintf("entry %d snapshot %.2f does not match replayed balance %.2f", id, snapshot, running),
				AccountID:      accountID,
				Timestamp:      time.Now(),
				Details: map[string]any{
					"entry_id":          id,
					"stored_snapshot":   snapshot,
					"replayed_balance":  running,
					"entries_validated": checked,
				},
			}
		}
	}
	if err := rows.Err(); err != nil {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "balance_snapshots",
			Message:        fmt.Sprintf("failed to iterate entries: %v", err),
			AccountID:      accountID,
			Timestamp:      time.Now(),
		}
	}

	return &ValidationResult{
		IsValid:        true,
		ValidationType: "balance_snapshots",
		Message:        fmt.Sprintf("all %d snapshots match replay", checked),
		AccountID:      accountID,
		Timestamp:      time.Now(),
		Details:        map[string]any{"entries_validated": checked},
	}
}

// ValidateAmounts checks that no entry carries a negative credit or debit.
func (v *Validator) ValidateAmounts(ctx context.Context, accountID int64) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var badCount int
	err := v.store.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = $1 AND (credit < 0 OR debit < 0)
	`, accountID).Scan(&badCount)
	if err != nil {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "entry_amounts",
			Message:        fmt.Sprintf("failed to count entries: %v", err),
			AccountID:      accountID,
			Timestamp:      time.Now(),
		}
	}

	if badCount > 0 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "entry_amounts",
			Message:        fmt.Sprintf("found %d entries with negative credit or debit", badCount),
			AccountID:      accountID,
			Timestamp:      time.Now(),
			Details:        map[string]any{"negative_count": badCount},
		}
	}

	return &ValidationResult{
		IsValid:        true,
		ValidationType: "entry_amounts",
		Message:        "all entry amounts are nonnegative",
		AccountID:      accountID,
		Timestamp:      time.Now(),
	}
}

// ValidateCommissionLinks checks that every commission-kind entry still
// points at an existing commission record.
func (v *Validator) ValidateCommissionLinks(ctx context.Context, accountID int64) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var orphanCount int
	err := v.store.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND commission_id IS NULL
	`, accountID, EntryKindCommission).Scan(&orphanCount)
	if err != nil {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "commission_links",
			Message:        fmt.Sprintf("failed to count orphaned postings: %v", err),
			AccountID:      accountID,
			Timestamp:      time.Now(),
		}
	}

	if orphanCount > 0 {
		return &ValidationResult{
			IsValid:        false,
			ValidationType: "commission_links",
			Message:        fmt.Sprintf("found %d commission postings without a commission record", orphanCount),
			AccountID:      accountID,
			Timestamp:      time.Now(),
			Details:        map[string]any{"orphan_count": orphanCount},
		}
	}

	return &ValidationResult{
		IsValid:        true,
		ValidationType: "commission_links",
		Message:        "all commission postings are linked",
		AccountID:      accountID,
		Timestamp:      time.Now(),
	}
}

// ComprehensiveValidation performs all validation checks for an account
func (v *Validator) ComprehensiveValidation(ctx context.Context, accountID int64) []*ValidationResult {
	return []*ValidationResult{
		v.ValidateCachedBalance(ctx, accountID),
		v.ValidateSnapshots(ctx, accountID),
		v.ValidateAmounts(ctx, accountID),
		v.ValidateCommissionLinks(ctx, accountID),
	}
}

// abs returns the absolute value of a float64
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
