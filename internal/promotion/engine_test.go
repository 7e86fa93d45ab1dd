package promotion

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func intPtr(v int) *int { return &v }

func requirePrice(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "expected price %s, got %s", want, got)
}

func TestRecalculatePercentage(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 2}}
	promos := []Promotion{{
		ID: "pr1", Kind: KindPercentage, Value: d("10"),
		ApplyAutomatically: true, Priority: 1, ProductIDs: []string{"p1"},
	}}

	out := Recalculate(lines, promos, Prices{"p1": d("100")})

	require.Len(t, out, 1)
	requirePrice(t, "90", out[0].PriceSnapshot)
	require.NotNil(t, out[0].PromotionID)
	require.Equal(t, "pr1", *out[0].PromotionID)
	require.Equal(t, 0, out[0].QuantityFree)
	require.Equal(t, 2, out[0].PaidQuantity)
	requirePrice(t, "180", out[0].LineTotal())
}

func TestRecalculatePriorityOrder(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{
		{ID: "fixed", Kind: KindFixedAmount, Value: d("5"), ApplyAutomatically: true, Priority: 2, ProductIDs: []string{"p1"}},
		{ID: "pct", Kind: KindPercentage, Value: d("10"), ApplyAutomatically: true, Priority: 1, ProductIDs: []string{"p1"}},
	}

	out := Recalculate(lines, promos, Prices{"p1": d("100")})

	requirePrice(t, "90", out[0].PriceSnapshot)
	require.Equal(t, "pct", *out[0].PromotionID)
}

func TestRecalculateTieKeepsLowerPriority(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{
		{ID: "late", Kind: KindFixedPrice, Value: d("80"), ApplyAutomatically: true, Priority: 5, ProductIDs: []string{"p1"}},
		{ID: "early", Kind: KindFixedAmount, Value: d("20"), ApplyAutomatically: true, Priority: 1, ProductIDs: []string{"p1"}},
	}

	out := Recalculate(lines, promos, Prices{"p1": d("100")})

	requirePrice(t, "80", out[0].PriceSnapshot)
	require.Equal(t, "early", *out[0].PromotionID)
}

func TestRecalculateTieSamePriorityKeepsInputOrder(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{
		{ID: "first", Kind: KindFixedPrice, Value: d("70"), ApplyAutomatically: true, Priority: 3, ProductIDs: []string{"p1"}},
		{ID: "second", Kind: KindFixedAmount, Value: d("30"), ApplyAutomatically: true, Priority: 3, ProductIDs: []string{"p1"}},
	}

	out := Recalculate(lines, promos, Prices{"p1": d("100")})

	require.Equal(t, "first", *out[0].PromotionID)
}

func TestRecalculateBuyTwoGetOneFree(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 6}}
	promos := []Promotion{{
		ID: "b2g1", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"p1"},
		TriggerQuantity: 2, FreeQuantityPerTrigger: 1, ProductIDs: []string{"p1"},
	}}

	out := Recalculate(lines, promos, Prices{"p1": d("25.50")})

	require.Equal(t, 3, out[0].QuantityFree)
	require.Equal(t, 3, out[0].PaidQuantity)
	requirePrice(t, "25.50", out[0].PriceSnapshot)
	require.Nil(t, out[0].PromotionID)
	requirePrice(t, "76.50", out[0].LineTotal())
}

func TestPricedJSONIncludesLineTotal(t *testing.T) {
	out := Recalculate([]Line{{ID: "i1", ProductID: "p1", Quantity: 3}}, nil, Prices{"p1": d("12.50")})

	raw, err := json.Marshal(out[0])
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "i1", got["id"])
	require.Equal(t, float64(3), got["paidQuantity"])
	require.Equal(t, "37.5", got["lineTotal"])
}

func TestRecalculateFullyFreeLine(t *testing.T) {
	lines := []Line{
		{ID: "i1", ProductID: "trigger", Quantity: 4},
		{ID: "i2", ProductID: "gift", Quantity: 2},
	}
	promos := []Promotion{
		{ID: "gift", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"trigger"}, TriggerQuantity: 2, FreeQuantityPerTrigger: 1, ProductIDs: []string{"gift"}},
		{ID: "pct", Kind: KindPercentage, Value: d("50"), ApplyAutomatically: true, ProductIDs: []string{"gift"}},
	}

	out := Recalculate(lines, promos, Prices{"trigger": d("10"), "gift": d("8")})

	require.Equal(t, 0, out[0].QuantityFree)
	requirePrice(t, "10", out[0].PriceSnapshot)
	require.Equal(t, 2, out[1].QuantityFree)
	require.Equal(t, 0, out[1].PaidQuantity)
	requirePrice(t, "0", out[1].PriceSnapshot)
	require.Nil(t, out[1].PromotionID)
}

func TestRecalculateMissingPrice(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "ghost", Quantity: 1}}
	promos := []Promotion{
		{ID: "pct", Kind: KindPercentage, Value: d("10"), ApplyAutomatically: true, ProductIDs: []string{"ghost"}},
		{ID: "fixed", Kind: KindFixedPrice, Value: d("0"), ApplyAutomatically: true, ProductIDs: []string{"ghost"}},
	}

	out := Recalculate(lines, promos, Prices{})

	requirePrice(t, "0", out[0].PriceSnapshot)
	require.Nil(t, out[0].PromotionID)
}

func TestRecalculateEmpty(t *testing.T) {
	out := Recalculate(nil, []Promotion{{ID: "x", Kind: KindPercentage}}, nil)
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestRecalculateSkipsManualPromotions(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{{ID: "manual", Kind: KindFixedPrice, Value: d("1"), ProductIDs: []string{"p1"}}}

	out := Recalculate(lines, promos, Prices{"p1": d("50")})

	requirePrice(t, "50", out[0].PriceSnapshot)
	require.Nil(t, out[0].PromotionID)
}

func TestRecalculateBundleProductIDsCount(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p2", Quantity: 1}}
	promos := []Promotion{{
		ID: "amt", Kind: KindFixedAmount, Value: d("15"), ApplyAutomatically: true,
		ProductIDs: []string{"p1"}, BundleProductIDs: []string{"p2"},
	}}

	out := Recalculate(lines, promos, Prices{"p2": d("40")})

	requirePrice(t, "25", out[0].PriceSnapshot)
	require.Equal(t, "amt", *out[0].PromotionID)
}

func TestRecalculateFixedAmountFloorsAtZero(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{{ID: "big", Kind: KindFixedAmount, Value: d("500"), ApplyAutomatically: true, ProductIDs: []string{"p1"}}}

	out := Recalculate(lines, promos, Prices{"p1": d("20")})

	requirePrice(t, "0", out[0].PriceSnapshot)
	require.Equal(t, "big", *out[0].PromotionID)
}

func TestRecalculateRejectsNegativeCandidate(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{
		{ID: "neg", Kind: KindPercentage, Value: d("150"), ApplyAutomatically: true, Priority: 1, ProductIDs: []string{"p1"}},
		{ID: "ok", Kind: KindPercentage, Value: d("20"), ApplyAutomatically: true, Priority: 2, ProductIDs: []string{"p1"}},
	}

	out := Recalculate(lines, promos, Prices{"p1": d("20")})

	requirePrice(t, "16", out[0].PriceSnapshot)
	require.Equal(t, "ok", *out[0].PromotionID)
}

func TestRecalculateRoundsHalfAwayFromZero(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 1}}
	promos := []Promotion{{ID: "pct", Kind: KindPercentage, Value: d("15"), ApplyAutomatically: true, ProductIDs: []string{"p1"}}}

	out := Recalculate(lines, promos, Prices{"p1": d("10.10")})

	// 10.10 * 0.85 = 8.585
	requirePrice(t, "8.59", out[0].PriceSnapshot)
}

func TestRecalculateBundlePriceOption(t *testing.T) {
	lines := []Line{
		{ID: "i1", ProductID: "p1", Quantity: 3},
		{ID: "i2", ProductID: "p2", Quantity: 1},
	}
	promos := []Promotion{
		{ID: "single", Kind: KindBundlePrice, Value: d("25"), Quantity: 3, ApplyAutomatically: true, ProductIDs: []string{"p1"}},
		{ID: "pair", Kind: KindBundlePrice, Value: d("30"), ApplyAutomatically: true, ProductIDs: []string{"p2"}, BundleProductIDs: []string{"p3"}},
	}
	prices := Prices{"p1": d("10"), "p2": d("20")}

	plain := Recalculate(lines, promos, prices)
	requirePrice(t, "10", plain[0].PriceSnapshot)
	require.Nil(t, plain[0].PromotionID)

	out := RecalculateWith(Options{AutoBundlePricing: true}, lines, promos, prices)
	requirePrice(t, "8.33", out[0].PriceSnapshot)
	require.Equal(t, "single", *out[0].PromotionID)
	requirePrice(t, "15", out[1].PriceSnapshot)
	require.Equal(t, "pair", *out[1].PromotionID)
}

func TestFreeAllocationSharedAcrossPromotions(t *testing.T) {
	lines := []Line{
		{ID: "i1", ProductID: "a", Quantity: 4},
		{ID: "i2", ProductID: "b", Quantity: 2},
		{ID: "i3", ProductID: "c", Quantity: 1},
	}
	promos := []Promotion{
		{ID: "x", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 1, FreeQuantityPerTrigger: 1, ProductIDs: []string{"b", "c"}},
		{ID: "y", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 2, FreeQuantityPerTrigger: 1, ProductIDs: []string{"b", "c", "b"}},
	}

	free := FreeAllocation(lines, promos)

	// x: budget 4, b takes 2, c takes 1. y: budget 2, nothing left.
	require.Equal(t, 2, free["b"])
	require.Equal(t, 1, free["c"])
	require.Zero(t, free["a"])
}

func TestFreeAllocationCapAndZeroTrigger(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "a", Quantity: 10}}

	capped := FreeAllocation(lines, []Promotion{{
		ID: "cap", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 0,
		FreeQuantityPerTrigger: 1, FreeQuantityMax: intPtr(3), ProductIDs: []string{"a"},
	}})
	require.Equal(t, 3, capped["a"])

	uncapped := FreeAllocation(lines, []Promotion{{
		ID: "nocap", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 4,
		FreeQuantityPerTrigger: 1, ProductIDs: []string{"a"},
	}})
	require.Equal(t, 2, uncapped["a"])

	negative := FreeAllocation(lines, []Promotion{{
		ID: "neg", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 1,
		FreeQuantityPerTrigger: -2, ProductIDs: []string{"a"},
	}})
	require.Zero(t, negative["a"])
}

func TestFreeAllocationIgnoresProductsOutsideCart(t *testing.T) {
	lines := []Line{{ID: "i1", ProductID: "a", Quantity: 2}}
	free := FreeAllocation(lines, []Promotion{{
		ID: "p", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 1,
		FreeQuantityPerTrigger: 1, ProductIDs: []string{"missing"},
	}})
	require.Zero(t, free["missing"])
}

func TestRecalculateSplitLinesClampEachLine(t *testing.T) {
	lines := []Line{
		{ID: "i1", ProductID: "a", Quantity: 3},
		{ID: "i2", ProductID: "a", Quantity: 3},
	}
	promos := []Promotion{{
		ID: "p", Kind: KindBuyXGetYFree, TriggerProductIDs: []string{"a"}, TriggerQuantity: 3,
		FreeQuantityPerTrigger: 1, FreeQuantityMax: intPtr(2), ProductIDs: []string{"a"},
	}}

	out := Recalculate(lines, promos, Prices{"a": d("5")})

	require.Equal(t, 2, out[0].QuantityFree)
	require.Equal(t, 2, out[1].QuantityFree)
	require.Equal(t, 1, out[1].PaidQuantity)

	short := Recalculate([]Line{
		{ID: "i1", ProductID: "a", Quantity: 5},
		{ID: "i2", ProductID: "a", Quantity: 1},
	}, promos, Prices{"a": d("5")})
	require.Equal(t, 2, short[0].QuantityFree)
	require.Equal(t, 1, short[1].QuantityFree)
	require.Equal(t, 0, short[1].PaidQuantity)
	requirePrice(t, "0", short[1].PriceSnapshot)
}

func randomCase(r *rand.Rand) ([]Line, []Promotion, Prices) {
	products := []string{"p1", "p2", "p3", "p4"}
	pick := func() []string {
		var ids []string
		for _, p := range products {
			if r.Intn(2) == 0 {
				ids = append(ids, p)
			}
		}
		return ids
	}
	prices := Prices{}
	for _, p := range products[:3] {
		prices[p] = decimal.New(int64(r.Intn(20000)), -2)
	}
	var lines []Line
	for i, p := range products {
		if r.Intn(3) == 0 {
			continue
		}
		lines = append(lines, Line{ID: fmt.Sprintf("l%d", i), ProductID: p, Quantity: 1 + r.Intn(8)})
	}
	kinds := Kinds()
	var promos []Promotion
	for i := 0; i < r.Intn(6); i++ {
		p := Promotion{
			ID:                     fmt.Sprintf("pr%d", i),
			Kind:                   kinds[r.Intn(len(kinds))],
			Value:                  decimal.New(int64(r.Intn(15000)), -2),
			Quantity:               r.Intn(4),
			ProductIDs:             pick(),
			BundleProductIDs:       pick(),
			ApplyAutomatically:     r.Intn(4) != 0,
			Priority:               r.Intn(3),
			TriggerProductIDs:      pick(),
			TriggerQuantity:        r.Intn(4),
			FreeQuantityPerTrigger: r.Intn(3),
		}
		if r.Intn(2) == 0 {
			p.FreeQuantityMax = intPtr(r.Intn(5))
		}
		promos = append(promos, p)
	}
	return lines, promos, prices
}

func TestRecalculateProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 0; n < 500; n++ {
		lines, promos, prices := randomCase(r)
		opts := Options{AutoBundlePricing: n%2 == 0}
		out := RecalculateWith(opts, lines, promos, prices)
		require.Len(t, out, len(lines))

		awarded := map[string]int{}
		inCart := map[string]int{}
		for i, got := range out {
			require.Equal(t, lines[i].ID, got.ID)
			assert.False(t, got.PriceSnapshot.IsNegative(), "negative price in case %d", n)
			assert.GreaterOrEqual(t, got.QuantityFree, 0)
			assert.LessOrEqual(t, got.QuantityFree, got.Quantity)
			assert.Equal(t, got.Quantity-got.QuantityFree, got.PaidQuantity)
			assert.True(t, got.PriceSnapshot.LessThanOrEqual(prices.Of(got.ProductID)) || got.PaidQuantity == 0)
			awarded[got.ProductID] += got.QuantityFree
			inCart[got.ProductID] += got.Quantity
		}
		for product, qty := range awarded {
			assert.LessOrEqual(t, qty, inCart[product])
		}

		again := RecalculateWith(opts, lines, promos, prices)
		first, err := json.Marshal(out)
		require.NoError(t, err)
		second, err := json.Marshal(again)
		require.NoError(t, err)
		require.Equal(t, string(first), string(second))
	}
}

func TestRecalculateAdditionalPromotionNeverRaisesPrice(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n < 300; n++ {
		lines, promos, prices := randomCase(r)
		if len(promos) == 0 {
			continue
		}
		without := Recalculate(lines, promos[:len(promos)-1], prices)
		with := Recalculate(lines, promos, prices)
		last := promos[len(promos)-1]
		if last.Kind == KindBuyXGetYFree {
			continue
		}
		for i := range with {
			assert.True(t, with[i].PriceSnapshot.LessThanOrEqual(without[i].PriceSnapshot),
				"case %d line %d: %s > %s", n, i, with[i].PriceSnapshot, without[i].PriceSnapshot)
		}
	}
}

func TestRecalculateDoesNotMutateInputs(t *testing.T) {
	promoID := "old"
	lines := []Line{{ID: "i1", ProductID: "p1", Quantity: 2, PriceSnapshot: d("1"), PromotionID: &promoID, QuantityFree: 1}}
	promos := []Promotion{
		{ID: "b", Kind: KindPercentage, Value: d("10"), ApplyAutomatically: true, Priority: 2, ProductIDs: []string{"p1"}},
		{ID: "a", Kind: KindPercentage, Value: d("5"), ApplyAutomatically: true, Priority: 1, ProductIDs: []string{"p1"}},
	}

	out := Recalculate(lines, promos, Prices{"p1": d("10")})

	require.Equal(t, "b", promos[0].ID)
	require.Equal(t, "old", *lines[0].PromotionID)
	require.Equal(t, 1, lines[0].QuantityFree)
	require.Equal(t, 0, out[0].QuantityFree)
	requirePrice(t, "9", out[0].PriceSnapshot)
}
