package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the product does not exist for the tenant.
	ErrNotFound = errors.New("product not found")
	// ErrConflict indicates another product of the tenant already uses the slug.
	ErrConflict = errors.New("product slug already exists")
)

// Product is a tenant scoped catalog entry. Price is the base price that
// promotions discount from.
type Product struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
