package refdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Snapshot is one export from the practice management system: the full
// branch and doctor sets plus the collections for the exported window.
type Snapshot struct {
	Branches    []Branch        `json:"branches"`
	Doctors     []Doctor        `json:"doctors"`
	Collections []RawCollection `json:"collections"`
}

// Sync applies a snapshot in one transaction. Branches and doctors are
// upserted by id; collections replace the exported window wholesale, so
// re-running the same export is safe.
func (f *PGFeed) Sync(ctx context.Context, snap *Snapshot) error {
	txCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := f.Pool.BeginTx(txCtx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback(txCtx)

	for _, b := range snap.Branches {
		if _, err := tx.Exec(txCtx, `
			INSERT INTO ref_branches (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			b.ID, b.Name); err != nil {
			return fmt.Errorf("upsert branch %s: %w", b.ID, err)
		}
	}

	for _, d := range snap.Doctors {
		if _, err := tx.Exec(txCtx, `
			INSERT INTO ref_doctors (id, name, branch_id, branch_name, commission_rate, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				branch_id = EXCLUDED.branch_id,
				branch_name = EXCLUDED.branch_name,
				commission_rate = EXCLUDED.commission_rate,
				active = EXCLUDED.active`,
			d.ID, d.Name, d.BranchID, d.BranchName, d.CommissionRate, d.Active); err != nil {
			return fmt.Errorf("upsert doctor %s: %w", d.ID, err)
		}
	}

	if len(snap.Collections) > 0 {
		start, end := collectionWindow(snap.Collections)
		doctors := map[string]struct{}{}
		for _, c := range snap.Collections {
			doctors[c.DoctorID] = struct{}{}
		}
		for doctorID := range doctors {
			if _, err := tx.Exec(txCtx, `
				DELETE FROM ref_collections
				WHERE doctor_id = $1 AND collected_on BETWEEN $2 AND $3`,
				doctorID, start, end); err != nil {
				return fmt.Errorf("clear collections for %s: %w", doctorID, err)
			}
		}
		for _, c := range snap.Collections {
			if _, err := tx.Exec(txCtx, `
				INSERT INTO ref_collections (doctor_id, patient_id, patient_name,
					collected_on, amount, payment_method, installments)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.DoctorID, c.PatientID, c.PatientName, c.Date,
				c.Amount, c.PaymentMethod, c.Installments); err != nil {
				return fmt.Errorf("insert collection for %s on %s: %w", c.DoctorID, c.Date, err)
			}
		}
	}

	return tx.Commit(txCtx)
}

func collectionWindow(collections []RawCollection) (start, end string) {
	start, end = collections[0].Date, collections[0].Date
	for _, c := range collections[1:] {
		if c.Date < start {
			start = c.Date
		}
		if c.Date > end {
			end = c.Date
		}
	}
	return start, end
}
