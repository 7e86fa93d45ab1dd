package promotion

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Options tunes engine behaviour beyond the default rule set.
type Options struct {
	// AutoBundlePricing admits automatic bundle_price promotions as per-unit
	// price candidates next to percentage, fixed_amount and fixed_price.
	AutoBundlePricing bool
}

// Recalculate prices every line using the default options.
func Recalculate(lines []Line, promos []Promotion, prices Prices) []Priced {
	return RecalculateWith(Options{}, lines, promos, prices)
}

// RecalculateWith returns one Priced per input line, in input order.
//
// Free units from buy_x_get_y_free promotions are allocated first; the
// remaining paid units are priced at the lowest candidate among the automatic
// promotions targeting the product. The function is pure: identical inputs
// always yield identical output and nothing is retained between calls.
func RecalculateWith(opts Options, lines []Line, promos []Promotion, prices Prices) []Priced {
	out := make([]Priced, 0, len(lines))
	if len(lines) == 0 {
		return out
	}

	free := FreeAllocation(lines, promos)
	candidates := automatic(promos, opts)

	for _, line := range lines {
		// The product-wide allocation is clamped per line, not consumed.
		freeQty := min(free[line.ProductID], max(line.Quantity, 0))
		paidQty := line.Quantity - freeQty

		price := decimal.Zero
		var promoID *string
		if paidQty > 0 {
			price, promoID = bestPrice(line.ProductID, prices.Of(line.ProductID), candidates)
		}

		out = append(out, Priced{
			Line: Line{
				ID:            line.ID,
				ProductID:     line.ProductID,
				Quantity:      line.Quantity,
				PriceSnapshot: price.Round(2),
				PromotionID:   promoID,
				QuantityFree:  freeQty,
			},
			PaidQuantity: paidQty,
		})
	}
	return out
}

// FreeAllocation computes how many units of each product are free under the
// buy_x_get_y_free promotions, processed in the order given. A unit is never
// marked free by more than one promotion.
func FreeAllocation(lines []Line, promos []Promotion) map[string]int {
	inCart := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity > 0 {
			inCart[line.ProductID] += line.Quantity
		}
	}

	assigned := make(map[string]int)
	for _, p := range promos {
		if p.Kind != KindBuyXGetYFree {
			continue
		}
		budget := freeBudget(p, inCart)
		for _, productID := range dedup(p.ProductIDs) {
			if budget <= 0 {
				break
			}
			available := inCart[productID] - assigned[productID]
			take := min(budget, available)
			if take <= 0 {
				continue
			}
			assigned[productID] += take
			budget -= take
		}
	}
	return assigned
}

func freeBudget(p Promotion, inCart map[string]int) int {
	var triggerUnits int
	for _, id := range dedup(p.TriggerProductIDs) {
		triggerUnits += inCart[id]
	}
	per := p.TriggerQuantity
	if per <= 0 {
		per = 1
	}
	budget := (triggerUnits / per) * p.FreeQuantityPerTrigger
	if p.FreeQuantityMax != nil && *p.FreeQuantityMax > 0 && budget > *p.FreeQuantityMax {
		budget = *p.FreeQuantityMax
	}
	return max(budget, 0)
}

// automatic returns the promotions eligible for best-price selection sorted by
// ascending priority. Ties keep their input order.
func automatic(promos []Promotion, opts Options) []Promotion {
	out := make([]Promotion, 0, len(promos))
	for _, p := range promos {
		if !p.ApplyAutomatically {
			continue
		}
		switch p.Kind {
		case KindPercentage, KindFixedAmount, KindFixedPrice:
			out = append(out, p)
		case KindBundlePrice:
			if opts.AutoBundlePricing {
				out = append(out, p)
			}
		case KindBuyXGetYFree, KindEventBadge:
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func bestPrice(productID string, base decimal.Decimal, candidates []Promotion) (decimal.Decimal, *string) {
	best := base
	var bestID *string
	for i := range candidates {
		p := candidates[i]
		if !p.AppliesTo(productID) {
			continue
		}
		price, ok := unitPrice(p, base)
		if !ok || price.IsNegative() || !price.LessThan(best) {
			continue
		}
		best = price
		id := p.ID
		bestID = &id
	}
	return best, bestID
}

// unitPrice returns the discounted unit price p yields for base. The second
// result is false for kinds that never set a unit price.
func unitPrice(p Promotion, base decimal.Decimal) (decimal.Decimal, bool) {
	switch p.Kind {
	case KindPercentage:
		return base.Mul(decimal.NewFromInt(1).Sub(p.Value.Div(hundred))), true
	case KindFixedAmount:
		return decimal.Max(decimal.Zero, base.Sub(p.Value)), true
	case KindFixedPrice:
		return p.Value, true
	case KindBundlePrice:
		return p.Value.Div(decimal.NewFromInt(int64(bundleUnits(p)))), true
	case KindBuyXGetYFree, KindEventBadge:
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

// bundleUnits is the number of units a bundle_price value covers: the
// promotion quantity for single-product bundles, otherwise one unit per
// distinct product in the bundle.
func bundleUnits(p Promotion) int {
	targets := p.Targets()
	n := len(targets)
	if p.Kind == KindBundlePrice && n == 1 {
		n = p.Quantity
	}
	if n <= 0 {
		return 1
	}
	return n
}
