package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/catalog"
)

const (
	productPricesSQL = `SELECT id::text, price FROM products
		WHERE tenant_id = $1 AND id = ANY($2::text[]::uuid[])`

	productExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM products WHERE tenant_id = $1 AND id = $2::uuid AND active)`

	insertProductSQL = `INSERT INTO products (tenant_id, name, slug, price, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, tenant_id::text, name, slug, price, active, created_at, updated_at`

	updateProductPriceSQL = `UPDATE products SET price = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2::uuid
		RETURNING id::text, tenant_id::text, name, slug, price, active, created_at, updated_at`

	getProductSQL = `SELECT id::text, tenant_id::text, name, slug, price, active, created_at, updated_at
		FROM products WHERE tenant_id = $1 AND id = $2::uuid`
)

// ProductStore reads tenant scoped catalog rows.
type ProductStore struct {
	DB DB
}

// Prices returns the base price of every known product in ids.
func (s ProductStore) Prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ids = validIDs(ids)
	out := make(map[string]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, productPricesSQL, tid, ids)
	if err != nil {
		return nil, fmt.Errorf("query product prices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    string
			price decimal.Decimal
		)
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scan product price: %w", err)
		}
		out[id] = price
	}
	return out, rows.Err()
}

// Exists reports whether an active product with id belongs to the tenant.
func (s ProductStore) Exists(ctx context.Context, id string) (bool, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return false, err
	}
	if len(validIDs([]string{id})) == 0 {
		return false, nil
	}
	var ok bool
	if err := s.DB.QueryRow(ctx, productExistsSQL, tid, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check product %q: %w", id, err)
	}
	return ok, nil
}

// Create inserts a product for the tenant in context.
func (s ProductStore) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return catalog.Product{}, err
	}
	rows, err := s.DB.Query(ctx, insertProductSQL, tid, p.Name, p.Slug, p.Price, p.Active)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("insert product: %w", err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if IsUniqueViolation(err) {
			return catalog.Product{}, catalog.ErrConflict
		}
		return catalog.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

// UpdatePrice sets the base price of a product.
func (s ProductStore) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (catalog.Product, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(validIDs([]string{id})) == 0 {
		return catalog.Product{}, catalog.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, updateProductPriceSQL, tid, id, price)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("update product %q: %w", id, err)
	}
	return collectProduct(rows, id)
}

// Get returns a single product by id.
func (s ProductStore) Get(ctx context.Context, id string) (catalog.Product, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(validIDs([]string{id})) == 0 {
		return catalog.Product{}, catalog.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, getProductSQL, tid, id)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product %q: %w", id, err)
	}
	return collectProduct(rows, id)
}

func collectProduct(rows pgx.Rows, id string) (catalog.Product, error) {
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, catalog.ErrNotFound
		}
		return catalog.Product{}, fmt.Errorf("product %q: %w", id, err)
	}
	return p, nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Slug, &p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
