package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

const maxStatementLen = 300

type pgxSpanKey struct{}

// PGXTracer implements pgx.QueryTracer. Every statement becomes a client span
// named after its operation and tagged with the tenant and cart in context.
type PGXTracer struct{}

// TraceQueryStart starts a span for the SQL statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := sqlOperation(data.SQL)
	name := "db.query"
	if op != "" {
		name = "db." + strings.ToLower(op)
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateSQL(data.SQL)),
		attribute.Int("db.args", len(data.Args)),
	}
	if op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}
	if tenantID, ok := tenant.From(ctx); ok {
		attrs = append(attrs, attribute.String("tenant.id", tenantID))
	}
	if cartID := CartIDFromContext(ctx); cartID != "" {
		attrs = append(attrs, attribute.String("cart.id", cartID))
	}
	ctx, span := tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

// TraceQueryEnd ends the span, recording rows affected and any error with its
// SQLSTATE.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	defer span.End()
	if data.Err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
		return
	}
	if errors.Is(data.Err, pgx.ErrNoRows) {
		return
	}
	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		span.SetAttributes(attribute.String("db.sqlstate", pgErr.Code))
	}
	span.RecordError(data.Err)
	span.SetStatus(codes.Error, data.Err.Error())
}

func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > maxStatementLen {
		return trimmed[:maxStatementLen] + "..."
	}
	return trimmed
}
