package commission

import (
	"strings"

	"github.com/example/clinic-finance/internal/fault"
)

// PaymentMethod is the normalized form of a payment-method label coming
// from the clinical reference feed.
type PaymentMethod string

const (
	PayCard       PaymentMethod = "card"
	PayTransfer   PaymentMethod = "transfer"
	PayCash       PaymentMethod = "cash"
	PayCheck      PaymentMethod = "check"
	PayPromissory PaymentMethod = "promissory"
)

// DefaultPOSCashRate is the flat commission percentage applied to
// single-installment card payments when the caller supplies none.
const DefaultPOSCashRate = 2.0

var methodAliases = map[string]PaymentMethod{
	"card":       PayCard,
	"pos":        PayCard,
	"credit":     PayCard,
	"transfer":   PayTransfer,
	"bank":       PayTransfer,
	"wire":       PayTransfer,
	"eft":        PayTransfer,
	"cash":       PayCash,
	"check":      PayCheck,
	"cheque":     PayCheck,
	"promissory": PayPromissory,
	"note":       PayPromissory,
}

// NormalizePaymentMethod maps a free-form feed label to a PaymentMethod.
// Unknown labels are treated as cash, matching the feed's own fallback.
func NormalizePaymentMethod(label string) PaymentMethod {
	if m, ok := methodAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return m
	}
	return PayCash
}

// DeductionInput carries the parameters for one collection's deduction
// breakdown.
type DeductionInput struct {
	PaymentMethod    string  `json:"payment_method"`
	GrossAmount      float64 `json:"gross_amount"`
	InstallmentCount int     `json:"installment_count"`
	VATRate          float64 `json:"vat_rate"`
	InstallmentRate  float64 `json:"installment_rate"`
	InvoiceIssued    bool    `json:"invoice_issued"`
	POSCashRate      float64 `json:"pos_cash_rate"`
}

// Deductions is the itemized result of ComputeDeductions.
type Deductions struct {
	VATAmount         float64 `json:"vat_amount"`
	POSCommission     float64 `json:"pos_commission_amount"`
	InstallmentAmount float64 `json:"installment_deduction_amount"`
	TotalDeduction    float64 `json:"total_deduction"`
	NetAmount         float64 `json:"net_amount"`
}

// ComputeDeductions calculates the VAT, POS-commission and installment
// deductions for a single gross collection amount. Pure and deterministic.
//
// VAT applies when an invoice was issued, and always for card and bank
// transfer payments. The flat POS commission applies only to
// single-installment card payments. The installment deduction applies only
// to multi-installment card payments and is computed on the VAT-reduced
// remainder.
func ComputeDeductions(in DeductionInput) (Deductions, error) {
	if in.GrossAmount < 0 {
		return Deductions{}, fault.New(fault.Validation, "gross amount must not be negative, got %.2f", in.GrossAmount)
	}
	for _, r := range []struct {
		name string
		val  float64
	}{
		{"vat_rate", in.VATRate},
		{"installment_rate", in.InstallmentRate},
		{"pos_cash_rate", in.POSCashRate},
	} {
		if r.val < 0 || r.val > 100 {
			return Deductions{}, fault.New(fault.Validation, "%s must be a percentage in [0,100], got %.2f", r.name, r.val)
		}
	}

	installments := in.InstallmentCount
	if installments < 1 {
		installments = 1
	}
	method := NormalizePaymentMethod(in.PaymentMethod)

	var d Deductions

	if in.InvoiceIssued || method == PayCard || method == PayTransfer {
		d.VATAmount = in.GrossAmount * in.VATRate / 100
	}

	if method == PayCard && installments == 1 {
		d.POSCommission = in.GrossAmount * in.POSCashRate / 100
	}

	if method == PayCard && installments > 1 {
		remainder := in.GrossAmount - d.VATAmount
		d.InstallmentAmount = remainder * in.InstallmentRate / 100
	}

	d.TotalDeduction = d.VATAmount + d.POSCommission + d.InstallmentAmount
	d.NetAmount = in.GrossAmount - d.TotalDeduction
	return d, nil
}

// MethodProfile describes the defaulting behavior the UI applies for a
// payment method before the user overrides anything.
type MethodProfile struct {
	AutoVAT                 bool    `json:"auto_vat"`
	ManualInstallments      bool    `json:"manual_installments"`
	ManualInvoice           bool    `json:"manual_invoice"`
	DefaultVATRate          float64 `json:"default_vat_rate"`
	DefaultInvoiceIssued    bool    `json:"default_invoice_issued"`
	DefaultInstallmentCount int     `json:"default_installment_count"`
	DefaultInstallmentRate  float64 `json:"default_installment_rate"`
	DefaultPOSCashRate      float64 `json:"default_pos_cash_rate"`
}

// MethodDefaults returns the defaulting profile for a payment-method label.
func MethodDefaults(label string) MethodProfile {
	p := MethodProfile{DefaultInstallmentCount: 1}
	switch NormalizePaymentMethod(label) {
	case PayCard:
		p.AutoVAT = true
		p.ManualInstallments = true
		p.DefaultVATRate = 10
		p.DefaultInvoiceIssued = true
		p.DefaultPOSCashRate = DefaultPOSCashRate
	case PayTransfer:
		p.AutoVAT = true
		p.DefaultVATRate = 10
		p.DefaultInvoiceIssued = true
	default:
		// Cash, check and promissory notes: no VAT unless an invoice is
		// explicitly issued.
		p.ManualInvoice = true
	}
	return p
}
