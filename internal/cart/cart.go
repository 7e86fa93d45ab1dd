package cart

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/toko-admin/internal/pricing"
	"github.com/noah-isme/toko-admin/internal/promotion"
)

var (
	// ErrNotFound indicates the cart or cart item does not exist or has expired.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTenantRequired is returned when no tenant is present on the context.
	ErrTenantRequired = errors.New("tenant required")
)

// Cart is a visitor's cart within one tenant.
type Cart struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// View is a cart with its priced items and totals.
type View struct {
	Cart     Cart               `json:"cart"`
	Items    []promotion.Priced `json:"items"`
	Summary  pricing.Summary    `json:"pricing"`
	Currency string             `json:"currency"`
}

// Store persists carts and their lines. The tenant is taken from the context.
type Store interface {
	// Ensure returns the live cart for fingerprint, creating it (or replacing
	// an expired one) with the given expiry.
	Ensure(ctx context.Context, fingerprint string, expiresAt, now time.Time) (Cart, error)
	Get(ctx context.Context, id string, now time.Time) (Cart, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	LiveIDs(ctx context.Context, now time.Time) ([]string, error)

	Items(ctx context.Context, cartID string) ([]promotion.Line, error)
	AddItem(ctx context.Context, cartID, productID string, qty int) (promotion.Line, error)
	UpdateQty(ctx context.Context, cartID, itemID string, qty int) error
	RemoveItem(ctx context.Context, cartID, itemID string) error
	// SaveLines writes the pricing fields of every line in one transaction.
	SaveLines(ctx context.Context, cartID string, lines []promotion.Priced) error
}

// Promotions lists the promotions live at now.
type Promotions interface {
	ListActive(ctx context.Context, now time.Time) ([]promotion.Promotion, error)
}

// Catalog resolves product prices and existence.
type Catalog interface {
	Prices(ctx context.Context, ids []string) (promotion.Prices, error)
	ProductExists(ctx context.Context, id string) (bool, error)
}

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Triggers label recalculations in logs and metrics.
const (
	TriggerItemAdded   = "item_added"
	TriggerItemUpdated = "item_updated"
	TriggerItemRemoved = "item_removed"
	TriggerManual      = "manual"
	TriggerJob         = "job"
)
