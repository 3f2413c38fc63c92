package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// ScheduledTask is one unit of polling work for one cycle. The generator
// creates tasks fresh every cycle with a new ID; status transitions and the
// ConsecutiveFailures streak are owned by the downstream execution layer,
// keyed by TargetID, never by this process.
type ScheduledTask struct {
	ID       uuid.UUID
	TargetID string

	OffsetSeconds int
	FireAt        time.Time
	Priority      PriorityTier

	Status              TaskStatus
	ConsecutiveFailures int

	CreatedAt   time.Time
	CompletedAt *time.Time
}
