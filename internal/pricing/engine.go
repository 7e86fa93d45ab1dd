package pricing

import (
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Line is one cart line as charged: Total already excludes free units.
type Line struct {
	ProductID string
	Quantity  int
	Total     decimal.Decimal
}

// Summary aggregates computed pricing components.
type Summary struct {
	Items    int             `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Savings  decimal.Decimal `json:"savings"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Compute totals charged lines. Savings compare the charged amount with the
// undiscounted base price of every unit, free units included. A nil base map
// yields zero savings.
func Compute(lines []Line, base map[string]decimal.Decimal, taxBps int) Summary {
	subtotal := decimal.Zero
	gross := decimal.Zero
	var items int
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		items += line.Quantity
		subtotal = subtotal.Add(line.Total)
		gross = gross.Add(base[line.ProductID].Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	savings := decimal.Zero
	if base != nil {
		savings = decimal.Max(decimal.Zero, gross.Sub(subtotal)).Round(2)
	}
	if taxBps < 0 {
		taxBps = 0
	}
	tax := subtotal.Mul(decimal.NewFromInt(int64(taxBps))).Div(bpsDivisor).Round(2)
	return Summary{
		Items:    items,
		Subtotal: subtotal.Round(2),
		Savings:  savings,
		Tax:      tax,
		Total:    subtotal.Add(tax).Round(2),
	}
}
