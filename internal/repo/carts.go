package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-admin/internal/cart"
	"github.com/noah-isme/toko-admin/internal/promotion"
)

const (
	cartColumns = `id::text, tenant_id::text, fingerprint, expires_at, created_at, updated_at`
	itemColumns = `ci.id::text, ci.product_id::text, ci.quantity, ci.price_snapshot, ci.promotion_id::text, ci.quantity_free`

	deleteExpiredCartSQL = `DELETE FROM carts
		WHERE tenant_id = $1 AND fingerprint = $2 AND expires_at <= $3`

	upsertCartSQL = `INSERT INTO carts (tenant_id, fingerprint, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, fingerprint)
		DO UPDATE SET expires_at = GREATEST(carts.expires_at, EXCLUDED.expires_at), updated_at = now()
		RETURNING ` + cartColumns

	getCartSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE tenant_id = $1 AND id = $2::uuid AND expires_at > $3`

	touchCartSQL = `UPDATE carts SET expires_at = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2::uuid`

	deleteCartSQL = `DELETE FROM carts WHERE tenant_id = $1 AND id = $2::uuid`

	liveCartIDsSQL = `SELECT id::text FROM carts
		WHERE tenant_id = $1 AND expires_at > $2
		ORDER BY updated_at DESC, id`

	purgeExpiredCartsSQL = `DELETE FROM carts WHERE tenant_id = $1 AND expires_at <= $2`

	listCartItemsSQL = `SELECT ` + itemColumns + `
		FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.tenant_id = $1 AND ci.cart_id = $2::uuid
		ORDER BY ci.created_at, ci.id`

	addCartItemSQL = `INSERT INTO cart_items AS ci (cart_id, product_id, quantity)
		SELECT c.id, $3::uuid, $4 FROM carts c WHERE c.id = $2::uuid AND c.tenant_id = $1
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = ci.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING ` + itemColumns

	updateCartItemQtySQL = `UPDATE cart_items ci
		SET quantity = $4, quantity_free = LEAST(ci.quantity_free, $4), updated_at = now()
		FROM carts c
		WHERE c.id = ci.cart_id AND c.tenant_id = $1 AND ci.cart_id = $2::uuid AND ci.id = $3::uuid`

	removeCartItemSQL = `DELETE FROM cart_items ci USING carts c
		WHERE c.id = ci.cart_id AND c.tenant_id = $1 AND ci.cart_id = $2::uuid AND ci.id = $3::uuid`

	lockCartSQL = `SELECT id::text FROM carts WHERE tenant_id = $1 AND id = $2::uuid FOR UPDATE`

	saveCartItemSQL = `UPDATE cart_items SET
			price_snapshot = $3,
			promotion_id = (SELECT p.id FROM promotions p WHERE p.id = $4::uuid),
			quantity_free = $5,
			updated_at = now()
		WHERE cart_id = $1::uuid AND id = $2::uuid`
)

// CartStore persists carts and their items. Items are scoped to the tenant
// through their cart.
type CartStore struct {
	DB DB
}

// Ensure implements cart.Store. An expired cart with the same fingerprint is
// replaced by a fresh one so stale items never resurface.
func (s CartStore) Ensure(ctx context.Context, fingerprint string, expiresAt, now time.Time) (cart.Cart, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return cart.Cart{}, err
	}
	var out cart.Cart
	err = pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteExpiredCartSQL, tid, fingerprint, now); err != nil {
			return fmt.Errorf("drop expired cart: %w", err)
		}
		rows, err := tx.Query(ctx, upsertCartSQL, tid, fingerprint, expiresAt)
		if err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}
		out, err = pgx.CollectExactlyOneRow(rows, scanCart)
		return err
	})
	if err != nil {
		return cart.Cart{}, fmt.Errorf("ensure cart: %w", err)
	}
	return out, nil
}

// Get returns the cart when it exists and has not expired at now.
func (s CartStore) Get(ctx context.Context, id string, now time.Time) (cart.Cart, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return cart.Cart{}, err
	}
	if len(validIDs([]string{id})) == 0 {
		return cart.Cart{}, cart.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, getCartSQL, tid, id, now)
	if err != nil {
		return cart.Cart{}, fmt.Errorf("get cart %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Cart{}, cart.ErrNotFound
		}
		return cart.Cart{}, fmt.Errorf("get cart %q: %w", id, err)
	}
	return c, nil
}

// Touch moves the cart expiry.
func (s CartStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(validIDs([]string{id})) == 0 {
		return cart.ErrNotFound
	}
	if _, err := s.DB.Exec(ctx, touchCartSQL, tid, id, expiresAt); err != nil {
		return fmt.Errorf("touch cart %q: %w", id, err)
	}
	return nil
}

// Delete removes the cart; its items cascade.
func (s CartStore) Delete(ctx context.Context, id string) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(validIDs([]string{id})) == 0 {
		return cart.ErrNotFound
	}
	tag, err := s.DB.Exec(ctx, deleteCartSQL, tid, id)
	if err != nil {
		return fmt.Errorf("delete cart %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// LiveIDs lists the tenant's unexpired carts, most recently used first.
func (s CartStore) LiveIDs(ctx context.Context, now time.Time) ([]string, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, liveCartIDsSQL, tid, now)
	if err != nil {
		return nil, fmt.Errorf("list carts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// PurgeExpired deletes the tenant's carts that expired at or before now.
func (s CartStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := s.DB.Exec(ctx, purgeExpiredCartsSQL, tid, now)
	if err != nil {
		return 0, fmt.Errorf("purge carts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Items returns the cart lines in insertion order.
func (s CartStore) Items(ctx context.Context, cartID string) ([]promotion.Line, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(validIDs([]string{cartID})) == 0 {
		return nil, cart.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, listCartItemsSQL, tid, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return pgx.CollectRows(rows, scanLine)
}

// AddItem inserts a line or increments the quantity of the existing line for
// the product.
func (s CartStore) AddItem(ctx context.Context, cartID, productID string, qty int) (promotion.Line, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return promotion.Line{}, err
	}
	if len(validIDs([]string{cartID})) == 0 {
		return promotion.Line{}, cart.ErrNotFound
	}
	if len(validIDs([]string{productID})) == 0 {
		return promotion.Line{}, fmt.Errorf("product id %q: %w", productID, cart.ErrInvalidInput)
	}
	rows, err := s.DB.Query(ctx, addCartItemSQL, tid, cartID, productID, qty)
	if err != nil {
		return promotion.Line{}, fmt.Errorf("add cart item: %w", err)
	}
	line, err := pgx.CollectExactlyOneRow(rows, scanLine)
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, pgx.ErrNoRows):
		return promotion.Line{}, cart.ErrNotFound
	case IsForeignKeyViolation(err):
		return promotion.Line{}, fmt.Errorf("unknown product %q: %w", productID, cart.ErrInvalidInput)
	default:
		return promotion.Line{}, fmt.Errorf("add cart item: %w", err)
	}
}

// UpdateQty sets the quantity of a line, clamping its free units.
func (s CartStore) UpdateQty(ctx context.Context, cartID, itemID string, qty int) error {
	return s.execItem(ctx, updateCartItemQtySQL, cartID, itemID, qty)
}

// RemoveItem deletes a line.
func (s CartStore) RemoveItem(ctx context.Context, cartID, itemID string) error {
	return s.execItem(ctx, removeCartItemSQL, cartID, itemID)
}

func (s CartStore) execItem(ctx context.Context, sql, cartID, itemID string, extra ...any) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(validIDs([]string{cartID, itemID})) != 2 {
		return cart.ErrNotFound
	}
	args := append([]any{tid, cartID, itemID}, extra...)
	tag, err := s.DB.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("cart item %q: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// SaveLines writes price_snapshot, promotion_id and quantity_free for every
// line in a single transaction. A promotion deleted in the meantime is
// stored as NULL.
func (s CartStore) SaveLines(ctx context.Context, cartID string, lines []promotion.Priced) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(validIDs([]string{cartID})) == 0 {
		return cart.ErrNotFound
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, lockCartSQL, tid, cartID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cart.ErrNotFound
			}
			return fmt.Errorf("lock cart %q: %w", cartID, err)
		}
		if len(lines) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, line := range lines {
			if len(validIDs([]string{line.ID})) == 0 {
				continue
			}
			var promoID *string
			if line.PromotionID != nil && len(validIDs([]string{*line.PromotionID})) == 1 {
				promoID = line.PromotionID
			}
			batch.Queue(saveCartItemSQL, cartID, line.ID, line.PriceSnapshot, promoID, line.QuantityFree)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save cart items: %w", err)
		}
		return nil
	})
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var c cart.Cart
	err := row.Scan(&c.ID, &c.TenantID, &c.Fingerprint, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanLine(row pgx.CollectableRow) (promotion.Line, error) {
	var l promotion.Line
	err := row.Scan(&l.ID, &l.ProductID, &l.Quantity, &l.PriceSnapshot, &l.PromotionID, &l.QuantityFree)
	return l, err
}
