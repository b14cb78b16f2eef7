package commission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-finance/internal/fault"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(dateLayout, s)
	require.NoError(t, err)
	return d
}

func TestParsePeriod(t *testing.T) {
	s, e, err := ParsePeriod("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	assert.True(t, s.Before(e))

	t.Run("SingleDay", func(t *testing.T) {
		_, _, err := ParsePeriod("2025-01-01", "2025-01-01")
		require.NoError(t, err)
	})

	t.Run("Inverted", func(t *testing.T) {
		_, _, err := ParsePeriod("2025-02-01", "2025-01-01")
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.Validation))
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, pair := range [][2]string{
			{"01/01/2025", "2025-01-31"},
			{"2025-01-01", "soon"},
			{"", ""},
		} {
			_, _, err := ParsePeriod(pair[0], pair[1])
			assert.Error(t, err, "%v should be rejected", pair)
			assert.True(t, fault.Is(err, fault.Validation))
		}
	})
}

func TestIntersect(t *testing.T) {
	t.Run("PartialOverlap", func(t *testing.T) {
		start, end, days, ok := intersect(
			day(t, "2025-01-01"), day(t, "2025-01-31"),
			day(t, "2025-01-15"), day(t, "2025-02-15"))
		require.True(t, ok)
		assert.Equal(t, day(t, "2025-01-15"), start)
		assert.Equal(t, day(t, "2025-01-31"), end)
		assert.Equal(t, 17, days)
	})

	t.Run("Containment", func(t *testing.T) {
		start, end, days, ok := intersect(
			day(t, "2025-01-01"), day(t, "2025-12-31"),
			day(t, "2025-06-01"), day(t, "2025-06-30"))
		require.True(t, ok)
		assert.Equal(t, day(t, "2025-06-01"), start)
		assert.Equal(t, day(t, "2025-06-30"), end)
		assert.Equal(t, 30, days)
	})

	t.Run("SharedBoundaryDay", func(t *testing.T) {
		// Inclusive boundaries: back-to-back periods meet for one day.
		_, _, days, ok := intersect(
			day(t, "2025-01-01"), day(t, "2025-01-31"),
			day(t, "2025-01-31"), day(t, "2025-02-28"))
		require.True(t, ok)
		assert.Equal(t, 1, days)
	})

	t.Run("Disjoint", func(t *testing.T) {
		_, _, _, ok := intersect(
			day(t, "2025-01-01"), day(t, "2025-01-31"),
			day(t, "2025-02-01"), day(t, "2025-02-28"))
		assert.False(t, ok)
	})

	t.Run("Symmetry", func(t *testing.T) {
		aStart, aEnd := day(t, "2025-01-10"), day(t, "2025-02-10")
		bStart, bEnd := day(t, "2025-02-01"), day(t, "2025-03-01")

		s1, e1, d1, ok1 := intersect(aStart, aEnd, bStart, bEnd)
		s2, e2, d2, ok2 := intersect(bStart, bEnd, aStart, aEnd)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, s1, s2)
		assert.Equal(t, e1, e2)
		assert.Equal(t, d1, d2)
	})

	t.Run("IdenticalPeriods", func(t *testing.T) {
		_, _, days, ok := intersect(
			day(t, "2025-01-01"), day(t, "2025-01-31"),
			day(t, "2025-01-01"), day(t, "2025-01-31"))
		require.True(t, ok)
		assert.Equal(t, 31, days)
	})
}

func TestBuildMethodBreakdowns(t *testing.T) {
	// First-seen order is transfer, card, cash; output sorts by method.
	lines := []CollectionLine{
		{PaymentMethod: "transfer", GrossAmount: 500, NetAmount: 450},
		{PaymentMethod: "card", GrossAmount: 2000, NetAmount: 1760},
		{PaymentMethod: "cash", GrossAmount: 1000, NetAmount: 1000},
		{PaymentMethod: "card", GrossAmount: 3000, NetAmount: 2565},
	}

	breakdowns := buildMethodBreakdowns(lines)
	require.Len(t, breakdowns, 3)

	assert.Equal(t, "card", breakdowns[0].PaymentMethod)
	assert.Equal(t, 5000.0, breakdowns[0].GrossAmount)
	assert.Equal(t, 4325.0, breakdowns[0].NetAmount)
	assert.Equal(t, 2, breakdowns[0].LineCount)

	assert.Equal(t, "cash", breakdowns[1].PaymentMethod)
	assert.Equal(t, 1, breakdowns[1].LineCount)

	assert.Equal(t, "transfer", breakdowns[2].PaymentMethod)
	assert.Equal(t, 1, breakdowns[2].LineCount)
}
