// Package jobs runs cart maintenance in the background on asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-admin/internal/tenant"
)

const (
	// TypeRecalculateTenant reprices every live cart of one tenant.
	TypeRecalculateTenant = "cart:recalculate_tenant"
	// TypePurgeExpiredCarts deletes expired carts of every tenant.
	TypePurgeExpiredCarts = "cart:purge_expired"

	QueueDefault = "default"
)

// ErrTenantMissing is returned when a tenant scoped task is enqueued without
// a tenant on the context.
var ErrTenantMissing = errors.New("jobs: tenant missing")

// RecalculatePayload is the body of a TypeRecalculateTenant task.
type RecalculatePayload struct {
	TenantID string `json:"tenant_id"`
}

// NewRecalculateTask builds a TypeRecalculateTenant task.
func NewRecalculateTask(tenantID string) (*asynq.Task, error) {
	raw, err := json.Marshal(RecalculatePayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecalculateTenant, raw), nil
}

// NewPurgeTask builds a TypePurgeExpiredCarts task.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TypePurgeExpiredCarts, nil)
}

// TaskClient is the subset of *asynq.Client used by Enqueuer.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules tenant wide cart recalculations.
//
// Requests are debounced into fixed windows: every change inside a window maps
// to the same task id, and that task runs when the window closes. A change that
// lands while an earlier recalculation is running falls into a later window
// and therefore gets its own task.
type Enqueuer struct {
	Client   TaskClient
	Debounce time.Duration
	MaxRetry int
	Queue    string
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (e Enqueuer) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RecalculateTaskID names the recalculation task for tenantID covering the
// debounce window that contains at. It also returns when that window closes.
func RecalculateTaskID(tenantID string, at time.Time, window time.Duration) (string, time.Time) {
	start := at.UTC().Truncate(window)
	return fmt.Sprintf("%s:%s:%d", TypeRecalculateTenant, tenantID, start.UnixMilli()), start.Add(window)
}

// EnqueueTenantRecalculation schedules a recalculation of every cart of the
// tenant in ctx. A request for a window that already has a task is dropped.
func (e Enqueuer) EnqueueTenantRecalculation(ctx context.Context, reason string) error {
	if e.Client == nil {
		return errors.New("jobs: task client not configured")
	}
	tenantID, ok := tenant.From(ctx)
	if !ok {
		return ErrTenantMissing
	}
	task, err := NewRecalculateTask(tenantID)
	if err != nil {
		return err
	}
	window := e.Debounce
	if window <= 0 {
		window = 5 * time.Second
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	queue := e.Queue
	if queue == "" {
		queue = QueueDefault
	}

	taskID, runAt := RecalculateTaskID(tenantID, e.now(), window)
	info, err := e.Client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.ProcessAt(runAt),
		asynq.MaxRetry(maxRetry),
		asynq.Queue(queue),
		asynq.Timeout(5*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.Logger.Debug().Str("tenant_id", tenantID).Str("reason", reason).Str("task_id", taskID).Msg("cart recalculation already scheduled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeRecalculateTenant, err)
	}
	e.Logger.Info().
		Str("tenant_id", tenantID).
		Str("reason", reason).
		Str("task_id", info.ID).
		Time("run_at", runAt).
		Msg("cart recalculation enqueued")
	return nil
}
