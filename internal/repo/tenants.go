package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

const (
	tenantIDBySlugSQL = `SELECT id::text FROM tenants WHERE slug = $1`
	insertTenantSQL   = `INSERT INTO tenants (slug, name) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id::text`
	listTenantIDsSQL = `SELECT id::text FROM tenants ORDER BY slug`
)

// TenantStore resolves storefront slugs to tenant ids.
type TenantStore struct {
	DB DB
}

// IDBySlug implements tenant.LookupFunc.
func (s TenantStore) IDBySlug(ctx context.Context, slug string) (string, error) {
	var id string
	if err := s.DB.QueryRow(ctx, tenantIDBySlugSQL, slug).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", tenant.ErrUnknownTenant
		}
		return "", fmt.Errorf("lookup tenant %q: %w", slug, err)
	}
	return id, nil
}

// Upsert creates the tenant or renames an existing one and returns its id.
func (s TenantStore) Upsert(ctx context.Context, slug, name string) (string, error) {
	var id string
	if err := s.DB.QueryRow(ctx, insertTenantSQL, slug, name).Scan(&id); err != nil {
		return "", fmt.Errorf("upsert tenant %q: %w", slug, err)
	}
	return id, nil
}

// IDs lists every tenant id.
func (s TenantStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, listTenantIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
