package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/toko-admin/internal/audit"
)

const (
	insertAuditLogSQL = `INSERT INTO audit_logs (tenant_id, actor_kind, actor_user_id, action, resource_type,
			resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	countAuditLogsSQL = `SELECT count(*) FROM audit_logs WHERE tenant_id = $1`

	listAuditLogsSQL = `SELECT id::text, actor_kind, coalesce(actor_user_id, ''), action, resource_type,
			coalesce(resource_id, ''), method, path, coalesce(route, ''), status, coalesce(ip, ''),
			coalesce(user_agent, ''), coalesce(request_id, ''), metadata, created_at
		FROM audit_logs WHERE tenant_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
)

// AuditStore persists the admin audit trail.
type AuditStore struct {
	DB DB
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// Insert implements audit.Store.
func (s AuditStore) Insert(ctx context.Context, e audit.Entry) error {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return err
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err = s.DB.Exec(ctx, insertAuditLogSQL, tid, string(e.ActorKind), nullText(e.ActorUserID), e.Action,
		e.ResourceType, nullText(e.ResourceID), e.Method, e.Path, nullText(e.Route), e.Status,
		nullText(e.IP), nullText(e.UserAgent), nullText(e.RequestID), metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List implements audit.Store.
func (s AuditStore) List(ctx context.Context, limit, offset int) ([]audit.Entry, int, error) {
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRow(ctx, countAuditLogsSQL, tid).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	rows, err := s.DB.Query(ctx, listAuditLogsSQL, tid, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var (
			e    audit.Entry
			kind string
		)
		err := row.Scan(&e.ID, &kind, &e.ActorUserID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method,
			&e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &e.Metadata, &e.CreatedAt)
		e.ActorKind = audit.ActorKind(kind)
		return e, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, total, nil
}
