package commission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/ledger"
	"github.com/example/clinic-finance/internal/pgerr"
)

// RateDefaults supplies the configured installment deduction rate for a
// given installment count. Lines that carry an explicit rate never
// consult it.
type RateDefaults interface {
	InstallmentRate(ctx context.Context, installments int) (float64, bool, error)
}

// Service computes, persists and removes commission records, keeping the
// linked doctor ledgers in step.
type Service struct {
	store    *Store
	ledger   *ledger.Engine
	defaults RateDefaults
	trail    ledger.Trail
	logger   *slog.Logger
}

// NewService creates a Service. defaults and trail may be nil.
func NewService(store *Store, engine *ledger.Engine, defaults RateDefaults, trail ledger.Trail, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		ledger:   engine,
		defaults: defaults,
		trail:    trail,
		logger:   logger,
	}
}

func (s *Service) record(action string, details map[string]any) {
	if s.trail != nil {
		s.trail.Record(action, details)
	}
}

// LineInput is one raw collection as submitted. A nil InstallmentRate
// means "use the configured default for this installment count"; an
// explicit value always wins. A nil POSCashRate falls back to the flat
// default.
type LineInput struct {
	PatientID        string   `json:"patient_id"`
	PatientName      string   `json:"patient_name"`
	Date             string   `json:"date"`
	GrossAmount      float64  `json:"gross_amount"`
	PaymentMethod    string   `json:"payment_method"`
	VATRate          float64  `json:"vat_rate"`
	InstallmentCount int      `json:"installment_count"`
	InstallmentRate  *float64 `json:"installment_rate,omitempty"`
	InvoiceIssued    bool     `json:"invoice_issued"`
	POSCashRate      *float64 `json:"pos_cash_rate,omitempty"`
}

// SaveInput is a full commission computation request.
type SaveInput struct {
	DoctorID       string                `json:"doctor_id"`
	DoctorName     string                `json:"doctor_name"`
	BranchID       string                `json:"branch_id"`
	BranchName     string                `json:"branch_name"`
	PeriodStart    string                `json:"period_start"`
	PeriodEnd      string                `json:"period_end"`
	CommissionRate float64               `json:"commission_rate"`
	Collections    []LineInput           `json:"collections"`
	Expenses       []ExpenseLine         `json:"expenses"`
	Revenue        []RevenueAddition     `json:"revenue_additions"`
	Entitlements   []EntitlementAddition `json:"entitlement_additions"`
	Notes          string                `json:"notes"`
	NoteEntries    []Note                `json:"note_entries"`
	CreatedBy      string                `json:"created_by"`

	// PostToLedger posts the final amount to the doctor's account in the
	// same transaction. AccountID overrides the binding lookup; AutoBind
	// creates and binds a fresh account when none exists yet.
	PostToLedger bool  `json:"post_to_ledger"`
	AccountID    int64 `json:"account_id,omitempty"`
	AutoBind     bool  `json:"auto_bind,omitempty"`
}

// SaveResult carries the persisted record plus advisory findings.
type SaveResult struct {
	Record   *Record     `json:"record"`
	Overlaps []Overlap   `json:"overlaps,omitempty"`
	Posting  *PostingRef `json:"posting,omitempty"`
}

// PostingRef identifies the ledger entry created for a saved record.
type PostingRef struct {
	AccountID int64 `json:"account_id"`
	EntryID   int64 `json:"entry_id"`
}

func (s *Service) validateSave(in *SaveInput) error {
	if strings.TrimSpace(in.DoctorID) == "" || strings.TrimSpace(in.DoctorName) == "" {
		return fault.New(fault.Validation, "doctor id and name are required")
	}
	if len(in.Collections) == 0 {
		return fault.New(fault.Validation, "commission requires at least one collection line")
	}
	if _, _, err := ParsePeriod(in.PeriodStart, in.PeriodEnd); err != nil {
		return err
	}
	for _, e := range in.Expenses {
		if e.Amount < 0 {
			return fault.New(fault.Validation, "expense amounts must not be negative")
		}
	}
	return nil
}

// buildLines resolves per-line defaults and computes every deduction
// breakdown.
func (s *Service) buildLines(ctx context.Context, in []LineInput) ([]CollectionLine, error) {
	lines := make([]CollectionLine, 0, len(in))
	for i, raw := range in {
		if _, err := time.Parse(dateLayout, raw.Date); err != nil {
			return nil, fault.New(fault.Validation, "collection %d: date must be YYYY-MM-DD, got %q", i+1, raw.Date)
		}

		installments := raw.InstallmentCount
		if installments < 1 {
			installments = 1
		}

		var installmentRate float64
		switch {
		case raw.InstallmentRate != nil:
			installmentRate = *raw.InstallmentRate
		case installments > 1 && s.defaults != nil:
			rate, ok, err := s.defaults.InstallmentRate(ctx, installments)
			if err != nil {
				return nil, fmt.Errorf("resolve installment rate for %d installments: %w", installments, err)
			}
			if ok {
				installmentRate = rate
			}
		}

		posCashRate := DefaultPOSCashRate
		if raw.POSCashRate != nil {
			posCashRate = *raw.POSCashRate
		}

		d, err := ComputeDeductions(DeductionInput{
			PaymentMethod:    raw.PaymentMethod,
			GrossAmount:      raw.GrossAmount,
			InstallmentCount: installments,
			VATRate:          raw.VATRate,
			InstallmentRate:  installmentRate,
			InvoiceIssued:    raw.InvoiceIssued,
			POSCashRate:      posCashRate,
		})
		if err != nil {
			return nil, fault.Wrap(fault.KindOf(err), err, "collection %d", i+1)
		}

		lines = append(lines, CollectionLine{
			PatientID:         raw.PatientID,
			PatientName:       raw.PatientName,
			Date:              raw.Date,
			GrossAmount:       raw.GrossAmount,
			PaymentMethod:     string(NormalizePaymentMethod(raw.PaymentMethod)),
			VATRate:           raw.VATRate,
			VATAmount:         d.VATAmount,
			InstallmentCount:  installments,
			InstallmentRate:   installmentRate,
			InstallmentAmount: d.InstallmentAmount,
			POSCommission:     d.POSCommission,
			NetAmount:         d.NetAmount,
		})
	}
	return lines, nil
}

func buildMethodBreakdowns(lines []CollectionLine) []MethodBreakdown {
	byMethod := map[string]*MethodBreakdown{}
	for _, line := range lines {
		b, ok := byMethod[line.PaymentMethod]
		if !ok {
			b = &MethodBreakdown{PaymentMethod: line.PaymentMethod}
			byMethod[line.PaymentMethod] = b
		}
		b.GrossAmount += line.GrossAmount
		b.NetAmount += line.NetAmount
		b.LineCount++
	}

	methods := make([]string, 0, len(byMethod))
	for method := range byMethod {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	breakdowns := make([]MethodBreakdown, 0, len(methods))
	for _, method := range methods {
		breakdowns = append(breakdowns, *byMethod[method])
	}
	return breakdowns
}

// Preview computes the full record without persisting anything.
func (s *Service) Preview(ctx context.Context, in *SaveInput) (*Record, error) {
	if err := s.validateSave(in); err != nil {
		return nil, err
	}
	lines, err := s.buildLines(ctx, in.Collections)
	if err != nil {
		return nil, err
	}
	result, err := Aggregate(lines, in.Expenses, in.CommissionRate, in.Revenue, in.Entitlements)
	if err != nil {
		return nil, err
	}

	return &Record{
		DoctorID:             in.DoctorID,
		DoctorName:           in.DoctorName,
		BranchID:             in.BranchID,
		BranchName:           in.BranchName,
		PeriodStart:          in.PeriodStart,
		PeriodEnd:            in.PeriodEnd,
		Result:               result,
		Notes:                in.Notes,
		CreatedBy:            in.CreatedBy,
		Collections:          lines,
		Expenses:             in.Expenses,
		RevenueAdditions:     in.Revenue,
		EntitlementAdditions: in.Entitlements,
		MethodBreakdowns:     buildMethodBreakdowns(lines),
		NoteEntries:          in.NoteEntries,
	}, nil
}

// resolveAccount finds the account a posting should land on.
func (s *Service) resolveAccount(ctx context.Context, in *SaveInput) (int64, error) {
	store := s.ledger.Store()

	if in.AccountID != 0 {
		if _, err := store.GetAccount(ctx, in.AccountID); err != nil {
			return 0, err
		}
		return in.AccountID, nil
	}

	account, err := store.FindAccountByDoctorBranch(ctx, in.DoctorID, in.BranchID)
	if err == nil {
		return account.ID, nil
	}
	if !fault.Is(err, fault.NotFound) {
		return 0, err
	}
	if !in.AutoBind {
		return 0, fault.New(fault.Validation,
			"no account bound to doctor %s at branch %s; pass an account id or enable auto binding",
			in.DoctorID, in.BranchID)
	}

	created, err := store.CreateAccount(ctx, &ledger.Account{
		Code: fmt.Sprintf("DOC-%s-%s", in.DoctorID, in.BranchID),
		Name: in.DoctorName,
		Kind: "doctor",
	})
	if err != nil {
		return 0, err
	}
	_, err = store.BindDoctor(ctx, &ledger.Binding{
		AccountID:  created.ID,
		DoctorID:   in.DoctorID,
		DoctorName: in.DoctorName,
		BranchID:   in.BranchID,
		BranchName: in.BranchName,
	})
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

// Save computes and persists a commission record atomically with its
// optional ledger posting. Period overlaps with existing records for the
// same doctor are reported back but never block the save.
func (s *Service) Save(ctx context.Context, in *SaveInput) (*SaveResult, error) {
	record, err := s.Preview(ctx, in)
	if err != nil {
		return nil, err
	}

	overlaps, err := s.FindOverlaps(ctx, in.DoctorID, in.PeriodStart, in.PeriodEnd, 0)
	if err != nil {
		// Advisory only.
		s.logger.WarnContext(ctx, "overlap check failed, continuing", "error", err)
		overlaps = nil
	}

	out := &SaveResult{Record: record, Overlaps: overlaps}

	if !in.PostToLedger {
		err := s.inTx(ctx, "commission save", func(ctx context.Context, tx pgx.Tx) error {
			return s.store.InsertTx(ctx, tx, record)
		})
		if err != nil {
			return nil, err
		}
		s.record("commission.save", map[string]any{
			"record_id": record.ID,
			"doctor_id": record.DoctorID,
			"amount":    record.CommissionAmount,
		})
		return out, nil
	}

	accountID, err := s.resolveAccount(ctx, in)
	if err != nil {
		return nil, err
	}

	unlock := s.ledger.LockAccount(accountID)
	defer unlock()

	err = s.inTx(ctx, "commission save", func(ctx context.Context, tx pgx.Tx) error {
		if err := s.store.InsertTx(ctx, tx, record); err != nil {
			return err
		}

		entry := &ledger.Entry{
			AccountID:    accountID,
			Kind:         ledger.EntryKindCommission,
			CommissionID: &record.ID,
			Date:         record.PeriodEnd,
			Description: fmt.Sprintf("Commission for %s, %s to %s",
				record.DoctorName, record.PeriodStart, record.PeriodEnd),
			CreatedBy: record.CreatedBy,
		}
		// A negative total is owed back by the doctor.
		if record.CommissionAmount >= 0 {
			entry.Credit = record.CommissionAmount
		} else {
			entry.Debit = -record.CommissionAmount
		}

		posted, err := s.ledger.AppendTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		out.Posting = &PostingRef{AccountID: accountID, EntryID: posted.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record("commission.save", map[string]any{
		"record_id":  record.ID,
		"doctor_id":  record.DoctorID,
		"amount":     record.CommissionAmount,
		"account_id": accountID,
	})
	return out, nil
}

// withRetry runs fn up to three times, backing off between attempts when
// the failure is a serialization conflict. Anything else is returned
// unchanged on the first failure.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
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
		s.logger.WarnContext(ctx, "commission transaction conflict, retrying",
			"op", op, "attempt", attempt+1)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fault.Wrap(fault.Contention, err, "%s: conflict persisted after %d attempts", op, maxAttempts)
}

func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return s.withRetry(ctx, op, func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		tx, err := s.store.Pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.Serializable})
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
	})
}

// Get loads a record with all child rows.
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.store.Get(ctx, id)
}

// List returns record summaries, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Record, error) {
	return s.store.List(ctx, filter)
}

// Delete removes a record, its child rows and its ledger postings, then
// recomputes the affected accounts. A recompute failure after the delete
// has committed is reported as a partial result, not rolled back.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}

	accounts, err := s.ledger.AccountsLinkedToCommission(ctx, id)
	if err != nil {
		return err
	}

	// Locks in ascending order so concurrent deletes cannot deadlock.
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	for _, accountID := range accounts {
		unlock := s.ledger.LockAccount(accountID)
		defer unlock()
	}

	err = s.inTx(ctx, "commission delete", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.ledger.RemoveCommissionPostTx(ctx, tx, id); err != nil {
			return err
		}
		return s.store.DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.record("commission.delete", map[string]any{"record_id": id})

	var failed []int64
	var lastErr error
	for _, accountID := range accounts {
		if err := s.recomputeLocked(ctx, accountID); err != nil {
			s.logger.WarnContext(ctx, "account recompute failed after commission delete",
				"record_id", id, "account_id", accountID, "error", err)
			failed = append(failed, accountID)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		return fault.Wrap(fault.Partial, lastErr,
			"commission record %d deleted but %d account(s) could not be recomputed", id, len(failed))
	}
	return nil
}

// recomputeLocked replays one account. The caller already holds the
// account lock, so this goes straight to the transactional body.
func (s *Service) recomputeLocked(ctx context.Context, accountID int64) error {
	return s.inTx(ctx, "account recompute", func(ctx context.Context, tx pgx.Tx) error {
		return s.ledger.RecomputeTx(ctx, tx, accountID)
	})
}

// FindOverlaps reports how [start, end] intersects the doctor's persisted
// records. excludeID skips one record, for edit flows. Both boundaries
// are inclusive; back-to-back periods sharing a boundary day count as a
// one-day overlap.
func (s *Service) FindOverlaps(ctx context.Context, doctorID, start, end string, excludeID int64) ([]Overlap, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fault.New(fault.Validation, "doctor id is required")
	}
	candStart, candEnd, err := ParsePeriod(start, end)
	if err != nil {
		return nil, err
	}

	records, err := s.store.OverlappingRecords(ctx, doctorID, start, end, excludeID)
	if err != nil {
		// An unreachable store reads as no history, same as a missing
		// table: the check is advisory and must never block its caller.
		if pgerr.IsUnreachable(err) {
			s.logger.WarnContext(ctx, "overlap store unreachable, reporting no overlaps",
				"doctor_id", doctorID, "error", err)
			return nil, nil
		}
		return nil, err
	}

	var overlaps []Overlap
	for _, r := range records {
		recStart, recEnd, err := ParsePeriod(r.PeriodStart, r.PeriodEnd)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping record with malformed period",
				"record_id", r.ID, "error", err)
			continue
		}
		oStart, oEnd, days, ok := intersect(candStart, candEnd, recStart, recEnd)
		if !ok {
			continue
		}
		overlaps = append(overlaps, Overlap{
			RecordID:     r.ID,
			DoctorName:   r.DoctorName,
			PeriodStart:  r.PeriodStart,
			PeriodEnd:    r.PeriodEnd,
			OverlapStart: oStart.Format(dateLayout),
			OverlapEnd:   oEnd.Format(dateLayout),
			OverlapDays:  days,
			Amount:       r.CommissionAmount,
		})
	}
	return overlaps, nil
}
