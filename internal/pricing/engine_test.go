package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func charged(product string, qty, free int, price string) Line {
	return Line{
		ProductID: product,
		Quantity:  qty,
		Total:     d(price).Mul(decimal.NewFromInt(int64(qty - free))),
	}
}

func TestComputeChargesPaidUnitsOnly(t *testing.T) {
	lines := []Line{
		charged("a", 6, 3, "25.50"),
		charged("b", 2, 0, "90"),
	}
	base := map[string]decimal.Decimal{"a": d("25.50"), "b": d("100")}

	s := Compute(lines, base, 1100)

	require.Equal(t, 8, s.Items)
	require.True(t, d("256.50").Equal(s.Subtotal), s.Subtotal.String())
	// 3 free units of a plus 2 * 10 off b.
	require.True(t, d("96.50").Equal(s.Savings), s.Savings.String())
	require.True(t, d("28.22").Equal(s.Tax), s.Tax.String())
	require.True(t, d("284.72").Equal(s.Total), s.Total.String())
}

func TestComputeSkipsEmptyLinesAndNegativeTax(t *testing.T) {
	lines := []Line{
		charged("a", 0, 0, "10"),
		charged("b", 1, 0, "10"),
	}

	s := Compute(lines, nil, -50)

	require.Equal(t, 1, s.Items)
	require.True(t, d("10").Equal(s.Subtotal))
	require.True(t, s.Savings.IsZero())
	require.True(t, s.Tax.IsZero())
	require.True(t, d("10").Equal(s.Total))
}

func TestComputeUnknownBasePriceCountsAsZero(t *testing.T) {
	s := Compute([]Line{charged("ghost", 2, 0, "5")}, map[string]decimal.Decimal{}, 0)
	require.True(t, d("10").Equal(s.Subtotal))
	require.True(t, s.Savings.IsZero())
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil, map[string]decimal.Decimal{}, 1000)
	require.Zero(t, s.Items)
	require.True(t, s.Total.IsZero())
}
