package promotion

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/pricing"
)

// Kind enumerates the supported promotion types.
type Kind string

const (
	KindPercentage   Kind = "percentage"
	KindFixedAmount  Kind = "fixed_amount"
	KindFixedPrice   Kind = "fixed_price"
	KindBundlePrice  Kind = "bundle_price"
	KindBuyXGetYFree Kind = "buy_x_get_y_free"
	// KindEventBadge only decorates products on the storefront and never discounts.
	KindEventBadge Kind = "event_badge"
)

// Kinds returns every known promotion kind.
func Kinds() []Kind {
	return []Kind{KindPercentage, KindFixedAmount, KindFixedPrice, KindBundlePrice, KindBuyXGetYFree, KindEventBadge}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPercentage, KindFixedAmount, KindFixedPrice, KindBundlePrice, KindBuyXGetYFree, KindEventBadge:
		return true
	}
	return false
}

// Promotion is a tenant scoped discount rule.
type Promotion struct {
	ID                     string          `json:"id"`
	TenantID               string          `json:"tenantId"`
	Name                   string          `json:"name"`
	Kind                   Kind            `json:"type"`
	Value                  decimal.Decimal `json:"value"`
	Quantity               int             `json:"quantity"`
	ProductIDs             []string        `json:"productIds"`
	BundleProductIDs       []string        `json:"bundleProductIds"`
	ApplyAutomatically     bool            `json:"applyAutomatically"`
	Priority               int             `json:"priority"`
	TriggerProductIDs      []string        `json:"triggerProductIds"`
	TriggerQuantity        int             `json:"triggerQuantity"`
	FreeQuantityPerTrigger int             `json:"freeQuantityPerTrigger"`
	FreeQuantityMax        *int            `json:"freeQuantityMax,omitempty"`
	Active                 bool            `json:"active"`
	ValidFrom              *time.Time      `json:"validFrom,omitempty"`
	ValidUntil             *time.Time      `json:"validUntil,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// Targets returns the deduplicated union of ProductIDs and BundleProductIDs,
// preserving first-seen order.
func (p Promotion) Targets() []string {
	return dedup(p.ProductIDs, p.BundleProductIDs)
}

// AppliesTo reports whether productID is discounted by the promotion.
func (p Promotion) AppliesTo(productID string) bool {
	for _, id := range p.ProductIDs {
		if id == productID {
			return true
		}
	}
	for _, id := range p.BundleProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// LiveAt reports whether the promotion is enabled and inside its validity window.
func (p Promotion) LiveAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !now.Before(*p.ValidUntil) {
		return false
	}
	return true
}

// Line is a cart line item as seen by the engine.
type Line struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	Quantity      int             `json:"quantity"`
	PriceSnapshot decimal.Decimal `json:"priceSnapshot"`
	PromotionID   *string         `json:"promotionId"`
	QuantityFree  int             `json:"quantityFree"`
}

// Priced is the recalculated projection of a Line.
//
// PriceSnapshot is the unit price of the paid units only. Callers computing a
// line total must use LineTotal, never PriceSnapshot × Quantity.
type Priced struct {
	Line
	PaidQuantity int `json:"paidQuantity"`
}

// LineTotal returns the amount charged for the line.
func (p Priced) LineTotal() decimal.Decimal {
	return p.PriceSnapshot.Mul(decimal.NewFromInt(int64(p.PaidQuantity)))
}

// MarshalJSON encodes the line together with its lineTotal.
func (p Priced) MarshalJSON() ([]byte, error) {
	type plain Priced
	return json.Marshal(struct {
		plain
		LineTotal decimal.Decimal `json:"lineTotal"`
	}{plain(p), p.LineTotal()})
}

// Summarize totals priced lines against their base prices.
func Summarize(lines []Priced, base Prices, taxBps int) pricing.Summary {
	charged := make([]pricing.Line, 0, len(lines))
	for _, line := range lines {
		charged = append(charged, pricing.Line{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Total:     line.LineTotal(),
		})
	}
	return pricing.Compute(charged, base, taxBps)
}

// Prices maps product id to its current base price.
type Prices map[string]decimal.Decimal

// Of returns the base price for productID, or zero when it is unknown.
func (p Prices) Of(productID string) decimal.Decimal {
	if price, ok := p[productID]; ok {
		return price
	}
	return decimal.Zero
}

func dedup(lists ...[]string) []string {
	var total int
	for _, l := range lists {
		total += len(l)
	}
	seen := make(map[string]struct{}, total)
	out := make([]string, 0, total)
	for _, l := range lists {
		for _, id := range l {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
