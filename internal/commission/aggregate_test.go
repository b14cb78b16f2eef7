package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-finance/internal/fault"
)

func line(t *testing.T, in DeductionInput) CollectionLine {
	t.Helper()
	d, err := ComputeDeductions(in)
	require.NoError(t, err)
	return CollectionLine{
		GrossAmount:       in.GrossAmount,
		PaymentMethod:     string(NormalizePaymentMethod(in.PaymentMethod)),
		VATRate:           in.VATRate,
		VATAmount:         d.VATAmount,
		InstallmentCount:  in.InstallmentCount,
		InstallmentRate:   in.InstallmentRate,
		InstallmentAmount: d.InstallmentAmount,
		POSCommission:     d.POSCommission,
		NetAmount:         d.NetAmount,
	}
}

func TestAggregateMonthlyPayout(t *testing.T) {
	collections := []CollectionLine{
		line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 1000, VATRate: 10}),
		line(t, DeductionInput{PaymentMethod: "card", GrossAmount: 2000, InstallmentCount: 1,
			VATRate: 10, InvoiceIssued: true, POSCashRate: 2}),
		line(t, DeductionInput{PaymentMethod: "card", GrossAmount: 3000, InstallmentCount: 3,
			VATRate: 10, InstallmentRate: 5, InvoiceIssued: true}),
	}
	expenses := []ExpenseLine{{Category: "lab", Amount: 200}}

	r, err := Aggregate(collections, expenses, 20, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, 6000.0, r.GrossCollected, 1e-9)
	assert.InDelta(t, 675.0, r.TotalDeduction, 1e-9)
	assert.InDelta(t, 5325.0, r.NetCollected, 1e-9)
	assert.InDelta(t, 200.0, r.TotalExpense, 1e-9)
	assert.InDelta(t, 5125.0, r.CommissionBase, 1e-9)
	assert.InDelta(t, 1025.0, r.CommissionAmount, 1e-9)
}

func TestAggregateRevenueAdditionsRaiseNetBeforeRate(t *testing.T) {
	collections := []CollectionLine{
		line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 1000}),
	}
	revenue := []RevenueAddition{{Description: "prior period correction", Amount: 500}}

	r, err := Aggregate(collections, nil, 10, revenue, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, r.NetCollected, 1e-9)
	assert.InDelta(t, 1500.0, r.CommissionBase, 1e-9)
	assert.InDelta(t, 150.0, r.CommissionAmount, 1e-9)
}

func TestAggregateNonPositiveBaseYieldsZeroRatedCommission(t *testing.T) {
	collections := []CollectionLine{
		line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 100}),
	}
	expenses := []ExpenseLine{{Category: "implant", Amount: 100}}

	r, err := Aggregate(collections, expenses, 20, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, r.CommissionBase, 1e-9)
	assert.InDelta(t, 0.0, r.CommissionAmount, 1e-9, "zero base must not produce rated commission")
}

func TestAggregateEntitlementsBypassRateAndPositivity(t *testing.T) {
	collections := []CollectionLine{
		line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 100}),
	}
	expenses := []ExpenseLine{{Category: "lab", Amount: 200}}
	entitlements := []EntitlementAddition{{Description: "guaranteed minimum", Amount: 50}}

	r, err := Aggregate(collections, expenses, 10, nil, entitlements)
	require.NoError(t, err)
	assert.InDelta(t, -100.0, r.CommissionBase, 1e-9)
	// The entitlement lands untouched on top of the zero rated amount.
	assert.InDelta(t, 50.0, r.CommissionAmount, 1e-9)
}

func TestAggregateNegativeTotalIsNotClamped(t *testing.T) {
	collections := []CollectionLine{
		line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 100}),
	}
	expenses := []ExpenseLine{{Category: "lab", Amount: 500}}
	entitlements := []EntitlementAddition{{Description: "clawback", Amount: -75}}

	r, err := Aggregate(collections, expenses, 10, nil, entitlements)
	require.NoError(t, err)
	assert.InDelta(t, -75.0, r.CommissionAmount, 1e-9)
}

func TestAggregateValidation(t *testing.T) {
	t.Run("EmptyCollections", func(t *testing.T) {
		_, err := Aggregate(nil, nil, 10, nil, nil)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.Validation))
	})

	t.Run("RateOutOfRange", func(t *testing.T) {
		collections := []CollectionLine{
			line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 100}),
		}
		for _, rate := range []float64{-1, 100.01, 200} {
			_, err := Aggregate(collections, nil, rate, nil, nil)
			assert.Error(t, err, "rate %.2f should be rejected", rate)
			assert.True(t, fault.Is(err, fault.Validation))
		}
	})

	t.Run("BoundaryRates", func(t *testing.T) {
		collections := []CollectionLine{
			line(t, DeductionInput{PaymentMethod: "cash", GrossAmount: 100}),
		}
		r, err := Aggregate(collections, nil, 0, nil, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, r.CommissionAmount, 1e-9)

		r, err = Aggregate(collections, nil, 100, nil, nil)
		require.NoError(t, err)
		assert.InDelta(t, 100.0, r.CommissionAmount, 1e-9)
	})
}
