package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

// ErrInvalidInput is returned when a product payload is rejected.
var ErrInvalidInput = errors.New("invalid input")

// Store is the persistence contract of the catalog.
type Store interface {
	Prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (Product, error)
}

// Recalculator schedules cart recalculation for the tenant in context.
type Recalculator interface {
	EnqueueTenantRecalculation(ctx context.Context, reason string) error
}

// Service resolves base prices for the pricing engine and manages products.
// Prices are cached per tenant and product.
type Service struct {
	Store  Store
	Cache  *Cache
	Recalc Recalculator
	Logger zerolog.Logger
}

func priceKey(tenantID, productID string) string {
	return tenant.PrefixKey(tenantID, "price:"+productID)
}

func productKey(tenantID, productID string) string {
	return tenant.PrefixKey(tenantID, "product:"+productID)
}

// normalizeID matches the canonical text form Postgres returns for uuids.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Prices returns the base price of every known product in ids. Unknown ids
// are omitted.
func (s *Service) Prices(ctx context.Context, ids []string) (promotion.Prices, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("catalog service not configured")
	}
	tenantID, _ := tenant.From(ctx)
	ids = uniq(ids)
	out := make(promotion.Prices, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = priceKey(tenantID, id)
	}
	cached, err := s.Cache.GetManyJSON(ctx, keys)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("price cache read failed")
	}

	var missing []string
	for i, id := range ids {
		raw, ok := cached[keys[i]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var price decimal.Decimal
		if err := json.Unmarshal(raw, &price); err != nil {
			missing = append(missing, id)
			continue
		}
		out[id] = price
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := s.Store.Prices(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	fill := make(map[string]any, len(loaded))
	for id, price := range loaded {
		out[id] = price
		fill[priceKey(tenantID, id)] = price
	}
	if err := s.Cache.SetManyJSON(ctx, fill); err != nil {
		s.Logger.Warn().Err(err).Msg("price cache write failed")
	}
	return out, nil
}

// ProductExists reports whether id is an active product of the tenant.
func (s *Service) ProductExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.Store == nil {
		return false, errors.New("catalog service not configured")
	}
	return s.Store.Exists(ctx, id)
}

// Get returns a single product, served from cache when possible.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if s == nil || s.Store == nil {
		return Product{}, errors.New("catalog service not configured")
	}
	id = normalizeID(id)
	tenantID, _ := tenant.From(ctx)
	key := productKey(tenantID, id)

	var cached Product
	hit, err := s.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("product cache read failed")
	}
	if hit {
		return cached, nil
	}

	p, err := s.Store.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := s.Cache.SetJSON(ctx, key, p); err != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("product cache write failed")
	}
	return p, nil
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if s == nil || s.Store == nil {
		return Product{}, errors.New("catalog service not configured")
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	if p.Name == "" || p.Slug == "" {
		return Product{}, fmt.Errorf("name and slug are required: %w", ErrInvalidInput)
	}
	if p.Price.IsNegative() {
		return Product{}, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	p.Price = p.Price.Round(2)
	return s.Store.Create(ctx, p)
}

// UpdatePrice changes the base price, drops the cached value and schedules a
// recalculation of the tenant's carts.
func (s *Service) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (Product, error) {
	if s == nil || s.Store == nil {
		return Product{}, errors.New("catalog service not configured")
	}
	if price.IsNegative() {
		return Product{}, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	id = normalizeID(id)
	updated, err := s.Store.UpdatePrice(ctx, id, price.Round(2))
	if err != nil {
		return Product{}, err
	}
	if updated.ID != "" {
		id = normalizeID(updated.ID)
	}
	tenantID, _ := tenant.From(ctx)
	if err := s.Cache.Delete(ctx, priceKey(tenantID, id), productKey(tenantID, id)); err != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("price cache invalidation failed")
	}
	if s.Recalc != nil {
		if err := s.Recalc.EnqueueTenantRecalculation(ctx, "price_changed"); err != nil {
			s.Logger.Error().Err(err).Str("product_id", id).Msg("enqueue cart recalculation")
		}
	}
	return updated, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
