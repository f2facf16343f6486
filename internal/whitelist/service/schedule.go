package service

import (
	"context"
	"encoding/json"

	"gatelist/internal/whitelist/models"
	"gatelist/pkg/requestcontext"
)

// EntryTaskPayload is the payload shape for ADD, REMOVE and
// UPDATE_IDENTIFIER tasks.
type EntryTaskPayload struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// BatchTaskPayload is the payload shape for BATCH_UPDATE tasks.
type BatchTaskPayload struct {
	Operation *models.BatchOperation `json:"operation"`
}

// ScheduleAdd enqueues propagation of an add. Returns false when the queue
// absorbed the task as a duplicate or merge.
func (m *Manager) ScheduleAdd(ctx context.Context, name, identifier string) bool {
	return m.schedule(ctx, models.TaskAdd, models.PriorityNormal, EntryTaskPayload{Name: name, Identifier: identifier})
}

// ScheduleRemove enqueues propagation of a removal. Removals run ahead of
// adds so a revoked identity never lingers downstream.
func (m *Manager) ScheduleRemove(ctx context.Context, name, identifier string) bool {
	return m.schedule(ctx, models.TaskRemove, models.PriorityHigh, EntryTaskPayload{Name: name, Identifier: identifier})
}

// ScheduleCompleteIdentifier enqueues propagation of a deferred identifier
// completion at urgent priority: the subject is connecting right now.
func (m *Manager) ScheduleCompleteIdentifier(ctx context.Context, name, identifier string) bool {
	return m.schedule(ctx, models.TaskUpdateIdentifier, models.PriorityUrgent, EntryTaskPayload{Name: name, Identifier: identifier})
}

// ScheduleBatch enqueues a whole batch operation as one task.
func (m *Manager) ScheduleBatch(ctx context.Context, op *models.BatchOperation) bool {
	return m.schedule(ctx, models.TaskBatchUpdate, models.PriorityNormal, BatchTaskPayload{Operation: op})
}

// ScheduleFullSync enqueues a full reconciliation pass. Full syncs carry an
// empty payload so concurrent requests collapse into one pending task.
func (m *Manager) ScheduleFullSync(ctx context.Context) bool {
	if m.scheduler == nil {
		return false
	}
	task := models.NewSyncTask(models.TaskFullSync, models.PriorityLow, "", requestcontext.Now(ctx))
	return m.scheduler.Add(ctx, task)
}

func (m *Manager) schedule(ctx context.Context, taskType models.TaskType, priority int, payload any) bool {
	if m.scheduler == nil {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		m.log().ErrorContext(ctx, "task payload encoding failed", "type", taskType, "error", err)
		return false
	}
	task := models.NewSyncTask(taskType, priority, string(raw), requestcontext.Now(ctx))
	accepted := m.scheduler.Add(ctx, task)
	if !accepted {
		m.log().DebugContext(ctx, "task absorbed by queue", "type", taskType)
	}
	return accepted
}
