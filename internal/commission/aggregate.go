package commission

import (
	"github.com/example/clinic-finance/internal/fault"
)

// CollectionLine is one raw patient payment after its deduction breakdown
// has been computed. Lines are owned by a commission record once saved.
type CollectionLine struct {
	ID                int64   `json:"id,omitempty"`
	PatientName       string  `json:"patient_name"`
	PatientID         string  `json:"patient_id"`
	Date              string  `json:"date"`
	GrossAmount       float64 `json:"gross_amount"`
	PaymentMethod     string  `json:"payment_method"`
	VATRate           float64 `json:"vat_rate"`
	VATAmount         float64 `json:"vat_amount"`
	InstallmentCount  int     `json:"installment_count"`
	InstallmentRate   float64 `json:"installment_rate"`
	InstallmentAmount float64 `json:"installment_amount"`
	POSCommission     float64 `json:"pos_commission_amount"`
	NetAmount         float64 `json:"net_amount"`
}

// ExpenseLine is a miscellaneous, lab or implant expense charged against
// the commission base.
type ExpenseLine struct {
	ID          int64   `json:"id,omitempty"`
	Category    string  `json:"category"`
	PatientName string  `json:"patient_name,omitempty"`
	PatientID   string  `json:"patient_id,omitempty"`
	Date        string  `json:"date,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
}

// RevenueAddition is a manual amount added directly to the net-collections
// figure before the commission rate is applied.
type RevenueAddition struct {
	ID          int64   `json:"id,omitempty"`
	Date        string  `json:"date"`
	PatientName string  `json:"patient_name,omitempty"`
	PatientID   string  `json:"patient_id,omitempty"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
}

// EntitlementAddition is a manual amount added directly to the final
// commission figure, bypassing the rate.
type EntitlementAddition struct {
	ID          int64   `json:"id,omitempty"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
}

// Result holds the aggregate figures of one commission computation.
type Result struct {
	GrossCollected   float64 `json:"gross_collected"`
	TotalDeduction   float64 `json:"total_deduction"`
	NetCollected     float64 `json:"net_collected"`
	RevenueAdded     float64 `json:"revenue_added"`
	TotalExpense     float64 `json:"total_expense"`
	CommissionBase   float64 `json:"commission_base"`
	CommissionRate   float64 `json:"commission_rate"`
	EntitlementAdded float64 `json:"entitlement_added"`
	CommissionAmount float64 `json:"commission_amount"`
}

// Aggregate combines deducted collections, expenses and manual adjustments
// into one commission computation.
//
// Revenue additions raise the net-collections figure before the rate is
// applied. A non-positive commission base yields zero rate-derived
// commission, but entitlement additions are applied regardless, so the
// final amount can legitimately be negative base plus a positive
// entitlement. Do not clamp the total at zero.
func Aggregate(collections []CollectionLine, expenses []ExpenseLine, ratePercent float64,
	revenue []RevenueAddition, entitlements []EntitlementAddition) (Result, error) {

	if len(collections) == 0 {
		return Result{}, fault.New(fault.Validation, "commission requires at least one collection line")
	}
	if ratePercent < 0 || ratePercent > 100 {
		return Result{}, fault.New(fault.Validation, "commission rate must be a percentage in [0,100], got %.2f", ratePercent)
	}

	r := Result{CommissionRate: ratePercent}

	for _, c := range collections {
		r.GrossCollected += c.GrossAmount
		r.TotalDeduction += c.VATAmount + c.POSCommission + c.InstallmentAmount
		r.NetCollected += c.NetAmount
	}

	for _, a := range revenue {
		r.RevenueAdded += a.Amount
	}
	r.NetCollected += r.RevenueAdded

	for _, e := range expenses {
		r.TotalExpense += e.Amount
	}

	r.CommissionBase = r.NetCollected - r.TotalExpense

	if r.CommissionBase > 0 {
		r.CommissionAmount = r.CommissionBase * ratePercent / 100
	}

	for _, a := range entitlements {
		r.EntitlementAdded += a.Amount
	}
	r.CommissionAmount += r.EntitlementAdded

	return r, nil
}
