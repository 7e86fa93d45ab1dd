package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

// TenantRecalculator reprices every live cart of the tenant in context.
type TenantRecalculator interface {
	RecalculateTenant(ctx context.Context) (int, error)
}

// Purger deletes the expired carts of the tenant in context.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TenantLister lists every tenant id.
type TenantLister interface {
	IDs(ctx context.Context) ([]string, error)
}

// Handlers processes cart tasks.
type Handlers struct {
	Carts   TenantRecalculator
	Purger  Purger
	Tenants TenantLister
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Register attaches the task handlers to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRecalculateTenant, h.HandleRecalculateTenant)
	mux.HandleFunc(TypePurgeExpiredCarts, h.HandlePurgeExpired)
}

// HandleRecalculateTenant processes a TypeRecalculateTenant task. Malformed
// payloads are not retried.
func (h *Handlers) HandleRecalculateTenant(ctx context.Context, t *asynq.Task) error {
	var p RecalculatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.RecordRecalcJob("invalid")
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := uuid.Parse(p.TenantID); err != nil {
		obs.RecordRecalcJob("invalid")
		return fmt.Errorf("tenant id %q: %v: %w", p.TenantID, err, asynq.SkipRetry)
	}
	if h.Carts == nil {
		return errors.New("jobs: cart recalculator not configured")
	}

	start := time.Now()
	ctx, span := obs.StartSpan(tenant.With(ctx, p.TenantID), "jobs.recalculate_tenant",
		attribute.String("asynq.task_type", t.Type()),
	)
	n, err := h.Carts.RecalculateTenant(ctx)
	span.SetAttributes(attribute.Int("cart.count", n))
	obs.EndSpan(span, err)
	logger := h.Logger.With().Str("tenant_id", p.TenantID).Int("carts", n).Dur("elapsed", time.Since(start)).Logger()
	if err != nil {
		obs.RecordRecalcJob("error")
		logger.Error().Err(err).Msg("tenant cart recalculation failed")
		return err
	}
	obs.RecordRecalcJob("ok")
	logger.Info().Msg("tenant carts recalculated")
	return nil
}

// HandlePurgeExpired deletes expired carts tenant by tenant. A failing
// tenant does not stop the others; the task is retried when any failed.
func (h *Handlers) HandlePurgeExpired(ctx context.Context, _ *asynq.Task) error {
	if h.Purger == nil || h.Tenants == nil {
		return errors.New("jobs: purge not configured")
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	ids, err := h.Tenants.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	var (
		total int64
		errs  []error
	)
	for _, id := range ids {
		n, err := h.Purger.PurgeExpired(tenant.With(ctx, id), now)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		total += n
	}
	h.Logger.Info().Int("tenants", len(ids)).Int64("carts", total).Msg("expired carts purged")
	return errors.Join(errs...)
}
