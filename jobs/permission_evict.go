package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loomline-erp/loomline-erp/internal/jobs"
	"github.com/loomline-erp/loomline-erp/internal/permission"
)

// PermissionEvictJob executes queued permission cache evictions. The admin
// flows that mutate role assignments, tenant ceilings or user overrides
// enqueue an eviction before reporting success; this job applies it
// against the engine. Evictions stay best-effort: a failing cache backend
// only risks a stale read for the remaining TTL window, so the handler
// never fails the queue job over it.
type PermissionEvictJob struct {
	Engine  *permission.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermissionEvictJob wires dependencies for the eviction handlers.
func NewPermissionEvictJob(engine *permission.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionEvictJob {
	return &PermissionEvictJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// HandleEvictUser processes TaskPermissionEvictUser tasks.
func (j *PermissionEvictJob) HandleEvictUser(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("permission evict: handler not configured")
	}
	return j.handle(ctx, t, TaskPermissionEvictUser, "user", j.Engine.EvictUser)
}

// HandleEvictRole processes TaskPermissionEvictRole tasks.
func (j *PermissionEvictJob) HandleEvictRole(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("permission evict: handler not configured")
	}
	return j.handle(ctx, t, TaskPermissionEvictRole, "role", j.Engine.EvictRole)
}

// HandleEvictCeiling processes TaskPermissionEvictCeiling tasks.
func (j *PermissionEvictJob) HandleEvictCeiling(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("permission evict: handler not configured")
	}
	return j.handle(ctx, t, TaskPermissionEvictCeiling, "tenant-ceiling", j.Engine.EvictTenantCeiling)
}

func (j *PermissionEvictJob) handle(ctx context.Context, t *asynq.Task, taskType, kind string, evict func(context.Context, int64)) error {
	var payload PermissionEvictPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(taskType)
	evict(ctx, payload.ID)
	j.metrics().AddEvictions(kind, 1)
	j.logger().Debug("permission cache evicted", slog.String("kind", kind), slog.Int64("id", payload.ID))
	return tracker.End(nil)
}

func (j *PermissionEvictJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionEvictJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
