package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskType is the closed set of propagation task kinds. Switches over TaskType
// are kept exhaustive so adding a kind is a compile-time-checked change.
type TaskType string

const (
	TaskFullSync         TaskType = "FULL_SYNC"
	TaskAdd              TaskType = "ADD"
	TaskRemove           TaskType = "REMOVE"
	TaskUpdateIdentifier TaskType = "UPDATE_IDENTIFIER"
	TaskBatchUpdate      TaskType = "BATCH_UPDATE"
)

// IsValid checks if the task type is one of the supported enum values.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskFullSync, TaskAdd, TaskRemove, TaskUpdateIdentifier, TaskBatchUpdate:
		return true
	}
	return false
}

// Batchable reports whether consecutive tasks of this type may be drained
// together by PollBatchable.
func (t TaskType) Batchable() bool {
	switch t {
	case TaskAdd, TaskRemove, TaskBatchUpdate:
		return true
	case TaskFullSync, TaskUpdateIdentifier:
		return false
	}
	return false
}

// Mergeable reports whether a freshly enqueued task of this type may be
// absorbed into an existing compatible pending task within the merge window.
func (t TaskType) Mergeable() bool {
	switch t {
	case TaskBatchUpdate, TaskFullSync:
		return true
	case TaskAdd, TaskRemove, TaskUpdateIdentifier:
		return false
	}
	return false
}

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Task priorities, lower is more urgent.
const (
	PriorityUrgent = 1
	PriorityHigh   = 3
	PriorityNormal = 5
	PriorityLow    = 8
)

// SyncTask is one unit of propagation work. Payload is opaque to the queue;
// its shape is owned by the task type's applier.
type SyncTask struct {
	ID           string     `json:"id"`
	Type         TaskType   `json:"type"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	Payload      string     `json:"payload"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledAt  time.Time  `json:"scheduled_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewSyncTask creates a pending task with a fresh ID.
func NewSyncTask(taskType TaskType, priority int, payload string, createdAt time.Time) *SyncTask {
	return &SyncTask{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    TaskPending,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: createdAt,
	}
}

// DedupKey identifies structurally equivalent tasks: two pending tasks with
// the same type and payload are duplicates.
func (t *SyncTask) DedupKey() string {
	return string(t.Type) + ":" + t.Payload
}

// CanRetry reports whether the task has retry budget left.
func (t *SyncTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}
