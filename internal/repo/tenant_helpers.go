package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

var (
	// ErrTenantMissing indicates the tenant identifier was not found in context.
	ErrTenantMissing = errors.New("tenant missing")
	// ErrTenantInvalid indicates the tenant identifier could not be parsed.
	ErrTenantInvalid = errors.New("tenant invalid")
)

func tenantUUIDFromContext(ctx context.Context) (pgtype.UUID, error) {
	tenantID, ok := tenant.From(ctx)
	if !ok {
		return pgtype.UUID{}, ErrTenantMissing
	}
	tid, err := uuidValue(tenantID)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %v", ErrTenantInvalid, err)
	}
	return tid, nil
}

func uuidValue(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

// validIDs drops identifiers that are not UUIDs so that ANY($n::uuid[])
// casts never fail on caller supplied garbage.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
