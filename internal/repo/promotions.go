package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-admin/internal/promotion"
)

const promotionColumns = `id::text, tenant_id::text, name, type, value, quantity,
	product_ids::text[], bundle_product_ids::text[], apply_automatically, priority,
	trigger_product_ids::text[], trigger_quantity, free_quantity_per_trigger, free_quantity_max,
	active, valid_from, valid_until, created_at, updated_at`

var (
	listPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE tenant_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`

	countPromotionsSQL = `SELECT count(*) FROM promotions WHERE tenant_id = $1`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE tenant_id = $1 AND active
			AND (valid_from IS NULL OR valid_from <= $2)
			AND (valid_until IS NULL OR valid_until > $2)
		ORDER BY created_at, id`

	getPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE tenant_id = $1 AND id = $2::uuid`

	insertPromotionSQL = `INSERT INTO promotions (
			tenant_id, name, type, value, quantity, product_ids, bundle_product_ids,
			apply_automatically, priority, trigger_product_ids, trigger_quantity,
			free_quantity_per_trigger, free_quantity_max, active, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6::text[]::uuid[], $7::text[]::uuid[], $8, $9,
			$10::text[]::uuid[], $11, $12, $13, $14, $15, $16)
		RETURNING ` + promotionColumns

	updatePromotionSQL = `UPDATE promotions SET
			name = $3, type = $4, value = $5, quantity = $6,
			product_ids = $7::text[]::uuid[], bundle_product_ids = $8::text[]::uuid[],
			apply_automatically = $9, priority = $10, trigger_product_ids = $11::text[]::uuid[],
			trigger_quantity = $12, free_quantity_per_trigger = $13, free_quantity_max = $14,
			active = $15, valid_from = $16, valid_until = $17, updated_at = now()
		WHERE tenant_id = $1 AND id = $2::uuid
		RETURNING ` + promotionColumns

	deletePromotionSQL = `DELETE FROM promotions WHERE tenant_id = $1 AND id = $2::uuid`
)

// PromotionStore persists tenant scoped promotions.
type PromotionStore struct {
	DB DB
}

// List returns a page of the tenant's promotions, oldest first, and the
// total number of promotions.
func (s PromotionStore) List(ctx context.Context, limit, offset int) ([]promotion.Promotion, int, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRow(ctx, countPromotionsSQL, tid).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count promotions: %w", err)
	}
	rows, err := s.DB.Query(ctx, listPromotionsSQL, tid, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	return items, total, nil
}

// ListActive returns the promotions that are enabled and valid at now.
func (s PromotionStore) ListActive(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, listActivePromotionsSQL, tid, now)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Get returns a single promotion.
func (s PromotionStore) Get(ctx context.Context, id string) (promotion.Promotion, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return promotion.Promotion{}, err
	}
	if len(validIDs([]string{id})) == 0 {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, getPromotionSQL, tid, id)
	if err != nil {
		return promotion.Promotion{}, fmt.Errorf("get promotion %q: %w", id, err)
	}
	return collectPromotion(rows, id)
}

// Create inserts p for the tenant in context.
func (s PromotionStore) Create(ctx context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return promotion.Promotion{}, err
	}
	rows, err := s.DB.Query(ctx, insertPromotionSQL,
		tid, p.Name, string(p.Kind), p.Value, p.Quantity,
		nonNil(p.ProductIDs), nonNil(p.BundleProductIDs),
		p.ApplyAutomatically, p.Priority, nonNil(p.TriggerProductIDs), p.TriggerQuantity,
		p.FreeQuantityPerTrigger, p.FreeQuantityMax, p.Active, p.ValidFrom, p.ValidUntil,
	)
	if err != nil {
		return promotion.Promotion{}, fmt.Errorf("insert promotion: %w", err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if IsUniqueViolation(err) {
			return promotion.Promotion{}, promotion.ErrConflict
		}
		return promotion.Promotion{}, fmt.Errorf("insert promotion: %w", err)
	}
	return created, nil
}

// Update replaces every mutable field of the promotion identified by p.ID.
func (s PromotionStore) Update(ctx context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return promotion.Promotion{}, err
	}
	if len(validIDs([]string{p.ID})) == 0 {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, updatePromotionSQL,
		tid, p.ID, p.Name, string(p.Kind), p.Value, p.Quantity,
		nonNil(p.ProductIDs), nonNil(p.BundleProductIDs),
		p.ApplyAutomatically, p.Priority, nonNil(p.TriggerProductIDs), p.TriggerQuantity,
		p.FreeQuantityPerTrigger, p.FreeQuantityMax, p.Active, p.ValidFrom, p.ValidUntil,
	)
	if err != nil {
		return promotion.Promotion{}, fmt.Errorf("update promotion %q: %w", p.ID, err)
	}
	updated, err := collectPromotion(rows, p.ID)
	if IsUniqueViolation(err) {
		return promotion.Promotion{}, promotion.ErrConflict
	}
	return updated, err
}

// Delete removes the promotion. Cart items referencing it fall back to NULL.
func (s PromotionStore) Delete(ctx context.Context, id string) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	if len(validIDs([]string{id})) == 0 {
		return promotion.ErrNotFound
	}
	tag, err := s.DB.Exec(ctx, deletePromotionSQL, tid, id)
	if err != nil {
		return fmt.Errorf("delete promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

func collectPromotion(rows pgx.Rows, id string) (promotion.Promotion, error) {
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.Promotion{}, promotion.ErrNotFound
		}
		return promotion.Promotion{}, fmt.Errorf("promotion %q: %w", id, err)
	}
	return p, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p    promotion.Promotion
		kind string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &kind, &p.Value, &p.Quantity,
		&p.ProductIDs, &p.BundleProductIDs, &p.ApplyAutomatically, &p.Priority,
		&p.TriggerProductIDs, &p.TriggerQuantity, &p.FreeQuantityPerTrigger, &p.FreeQuantityMax,
		&p.Active, &p.ValidFrom, &p.ValidUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Kind = promotion.Kind(kind)
	return p, err
}
