package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/loomline-erp/loomline-erp/internal/jobs"
	"github.com/loomline-erp/loomline-erp/internal/permission"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DefaultWarmupBatchSize caps a warmup run when the payload does not.
const DefaultWarmupBatchSize = 500

// PermissionWarmupJob pre-populates per-user permission caches for active
// users so interactive requests rarely pay the provider round trips.
type PermissionWarmupJob struct {
	Engine  *permission.Engine
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPermissionWarmupJob wires dependencies for the warmup handler.
func NewPermissionWarmupJob(engine *permission.Engine, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionWarmupJob {
	return &PermissionWarmupJob{
		Engine:  engine,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// warmupSubject is one user's resolution context fetched from storage.
type warmupSubject struct {
	UserID        int64
	RoleID        *int64
	TenantID      *int64
	IsTenantOwner bool
}

// Handle processes TaskPermissionWarmup tasks.
func (j *PermissionWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("permission warmup: handler not configured")
	}
	var payload PermissionWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = DefaultWarmupBatchSize
	}

	tracker := j.metrics().Track(TaskPermissionWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("batch_size", payload.BatchSize))
	logger.Info("starting permission warmup")

	subjects, err := j.fetchSubjects(ctx, payload.BatchSize)
	if err != nil {
		resultErr = err
		logger.Error("load warmup subjects", slog.Any("error", err))
		return resultErr
	}
	if len(subjects) == 0 {
		logger.Info("no active users to warm")
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, subject := range subjects {
		userID := subject.UserID
		if _, err := j.Engine.Compute(ctx, &userID, subject.RoleID, subject.TenantID, subject.IsTenantOwner); err != nil {
			resultErr = err
			logger.Error("warm user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed permission warmup", slog.Int("users", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PermissionWarmupJob) fetchSubjects(ctx context.Context, limit int) ([]warmupSubject, error) {
	if j.Pool == nil {
		return nil, errors.New("permission warmup: pool not configured")
	}
	const query = `
SELECT id, role_id, tenant_id, is_tenant_owner
FROM users
WHERE is_active
ORDER BY id
LIMIT $1`
	rows, err := j.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []warmupSubject
	for rows.Next() {
		var s warmupSubject
		if err := rows.Scan(&s.UserID, &s.RoleID, &s.TenantID, &s.IsTenantOwner); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func (j *PermissionWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *PermissionWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
