package jobs

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskPermissionEvictUser drops a user's cached effective permissions.
	TaskPermissionEvictUser = "perm:evict_user"
	// TaskPermissionEvictRole drops a role's permission sub-cache entry.
	TaskPermissionEvictRole = "perm:evict_role"
	// TaskPermissionEvictCeiling drops a tenant's ceiling sub-cache entry.
	TaskPermissionEvictCeiling = "perm:evict_ceiling"
	// TaskPermissionWarmup recomputes permissions for active users so the
	// TTL window rarely hits a cold cache.
	TaskPermissionWarmup = "perm:warmup"
)

// PermissionEvictPayload identifies the subject whose cache entry to drop.
type PermissionEvictPayload struct {
	ID int64 `json:"id"`
}

// PermissionWarmupPayload bounds a warmup run.
type PermissionWarmupPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewPermissionEvictUserTask builds an eviction task for a user.
func NewPermissionEvictUserTask(userID int64) (*asynq.Task, error) {
	return newEvictTask(TaskPermissionEvictUser, userID)
}

// NewPermissionEvictRoleTask builds an eviction task for a role.
func NewPermissionEvictRoleTask(roleID int64) (*asynq.Task, error) {
	return newEvictTask(TaskPermissionEvictRole, roleID)
}

// NewPermissionEvictCeilingTask builds an eviction task for a tenant ceiling.
func NewPermissionEvictCeilingTask(tenantID int64) (*asynq.Task, error) {
	return newEvictTask(TaskPermissionEvictCeiling, tenantID)
}

// NewPermissionWarmupTask builds a cache warmup task.
func NewPermissionWarmupTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(PermissionWarmupPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionWarmup, data), nil
}

// newEvictTask derives a deterministic task id from the type and subject
// so duplicate evictions for the same subject coalesce while queued.
func newEvictTask(taskType string, id int64) (*asynq.Task, error) {
	data, err := json.Marshal(PermissionEvictPayload{ID: id})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, asynq.TaskID(evictTaskID(taskType, id))), nil
}

func evictTaskID(taskType string, id int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(taskType+":"+strconv.FormatInt(id, 10))).String()
}
