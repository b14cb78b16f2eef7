package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-finance/internal/fault"
)

func TestNormalizePaymentMethod(t *testing.T) {
	cases := map[string]PaymentMethod{
		"card":       PayCard,
		"POS":        PayCard,
		"credit":     PayCard,
		"transfer":   PayTransfer,
		"Bank":       PayTransfer,
		"eft":        PayTransfer,
		"wire":       PayTransfer,
		"cash":       PayCash,
		"  cash  ":   PayCash,
		"check":      PayCheck,
		"cheque":     PayCheck,
		"promissory": PayPromissory,
		"note":       PayPromissory,
		"unknown":    PayCash,
		"":           PayCash,
	}
	for label, want := range cases {
		assert.Equal(t, want, NormalizePaymentMethod(label), "label %q", label)
	}
}

func TestComputeDeductionsCashNoInvoice(t *testing.T) {
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod: "cash",
		GrossAmount:   1000,
		VATRate:       10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.VATAmount, "cash without invoice carries no VAT")
	assert.Equal(t, 0.0, d.POSCommission)
	assert.Equal(t, 0.0, d.InstallmentAmount)
	assert.Equal(t, 1000.0, d.NetAmount)
}

func TestComputeDeductionsCashWithInvoice(t *testing.T) {
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod: "cash",
		GrossAmount:   1000,
		VATRate:       10,
		InvoiceIssued: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.VATAmount)
	assert.Equal(t, 900.0, d.NetAmount)
}

func TestComputeDeductionsTransferAlwaysVAT(t *testing.T) {
	// Bank transfers carry VAT even without an invoice flag.
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod: "transfer",
		GrossAmount:   2000,
		VATRate:       10,
	})
	require.NoError(t, err)
	assert.Equal(t, 200.0, d.VATAmount)
	assert.Equal(t, 0.0, d.POSCommission, "POS commission applies to card only")
	assert.Equal(t, 1800.0, d.NetAmount)
}

func TestComputeDeductionsSingleInstallmentCard(t *testing.T) {
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod:    "card",
		GrossAmount:      2000,
		InstallmentCount: 1,
		VATRate:          10,
		InvoiceIssued:    true,
		POSCashRate:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 200.0, d.VATAmount)
	assert.Equal(t, 40.0, d.POSCommission)
	assert.Equal(t, 0.0, d.InstallmentAmount, "single installment carries no installment deduction")
	assert.Equal(t, 240.0, d.TotalDeduction)
	assert.Equal(t, 1760.0, d.NetAmount)
}

func TestComputeDeductionsMultiInstallmentCard(t *testing.T) {
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod:    "card",
		GrossAmount:      3000,
		InstallmentCount: 3,
		VATRate:          10,
		InstallmentRate:  5,
		InvoiceIssued:    true,
		POSCashRate:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 300.0, d.VATAmount)
	assert.Equal(t, 0.0, d.POSCommission, "flat commission is mutually exclusive with installment deduction")
	// 5% of the VAT-reduced remainder, not of gross.
	assert.Equal(t, 135.0, d.InstallmentAmount)
	assert.Equal(t, 435.0, d.TotalDeduction)
	assert.Equal(t, 2565.0, d.NetAmount)
}

func TestComputeDeductionsZeroInstallmentsTreatedAsOne(t *testing.T) {
	d, err := ComputeDeductions(DeductionInput{
		PaymentMethod:    "card",
		GrossAmount:      100,
		InstallmentCount: 0,
		POSCashRate:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, d.POSCommission)
	assert.Equal(t, 0.0, d.InstallmentAmount)
}

func TestComputeDeductionsConservation(t *testing.T) {
	inputs := []DeductionInput{
		{PaymentMethod: "cash", GrossAmount: 750, VATRate: 10, InvoiceIssued: true},
		{PaymentMethod: "card", GrossAmount: 1234.56, InstallmentCount: 1, VATRate: 20, InvoiceIssued: true, POSCashRate: 2},
		{PaymentMethod: "card", GrossAmount: 999.99, InstallmentCount: 6, VATRate: 10, InstallmentRate: 7.5, InvoiceIssued: true},
		{PaymentMethod: "transfer", GrossAmount: 5000, VATRate: 18},
		{PaymentMethod: "check", GrossAmount: 0, VATRate: 10},
	}
	for _, in := range inputs {
		d, err := ComputeDeductions(in)
		require.NoError(t, err)
		assert.InDelta(t, in.GrossAmount, d.NetAmount+d.VATAmount+d.POSCommission+d.InstallmentAmount, 1e-9,
			"gross must equal net plus deductions for %+v", in)
		assert.InDelta(t, d.TotalDeduction, d.VATAmount+d.POSCommission+d.InstallmentAmount, 1e-9)
	}
}

func TestComputeDeductionsRejectsBadInput(t *testing.T) {
	cases := []DeductionInput{
		{PaymentMethod: "cash", GrossAmount: -1},
		{PaymentMethod: "cash", GrossAmount: 10, VATRate: 101},
		{PaymentMethod: "cash", GrossAmount: 10, VATRate: -1},
		{PaymentMethod: "card", GrossAmount: 10, InstallmentRate: 150},
		{PaymentMethod: "card", GrossAmount: 10, POSCashRate: -2},
	}
	for _, in := range cases {
		_, err := ComputeDeductions(in)
		require.Error(t, err, "%+v should be rejected", in)
		assert.True(t, fault.Is(err, fault.Validation))
	}
}

func TestMethodDefaults(t *testing.T) {
	card := MethodDefaults("pos")
	assert.True(t, card.AutoVAT)
	assert.True(t, card.ManualInstallments)
	assert.Equal(t, 10.0, card.DefaultVATRate)
	assert.True(t, card.DefaultInvoiceIssued)
	assert.Equal(t, DefaultPOSCashRate, card.DefaultPOSCashRate)

	transfer := MethodDefaults("havale")
	// Unknown aliases fall back to cash.
	assert.False(t, transfer.AutoVAT)

	eft := MethodDefaults("eft")
	assert.True(t, eft.AutoVAT)
	assert.False(t, eft.ManualInstallments)

	cash := MethodDefaults("cash")
	assert.False(t, cash.AutoVAT)
	assert.True(t, cash.ManualInvoice)
	assert.Equal(t, 1, cash.DefaultInstallmentCount)
}
