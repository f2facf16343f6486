package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatelist/internal/whitelist/models"
	"gatelist/pkg/requestcontext"
)

type QueueSuite struct {
	suite.Suite
	queue *Queue
	ctx   context.Context
	now   time.Time
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupTest() {
	s.queue = New()
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *QueueSuite) task(taskType models.TaskType, priority int, payload string) *models.SyncTask {
	return models.NewSyncTask(taskType, priority, payload, s.now)
}

func (s *QueueSuite) TestAdd() {
	s.Run("accepts a fresh task", func() {
		s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, `{"name":"a"}`)))
		s.Equal(1, s.queue.Len())
	})

	s.Run("rejects structural duplicates", func() {
		s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, `{"name":"dup"}`)))
		s.False(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, `{"name":"dup"}`)))
	})

	s.Run("rejects invalid task types", func() {
		s.False(s.queue.Add(s.ctx, s.task(models.TaskType("REINDEX"), models.PriorityNormal, "")))
		s.False(s.queue.Add(s.ctx, nil))
	})
}

func (s *QueueSuite) TestMerge() {
	s.Run("mergeable newcomer is absorbed within the window", func() {
		s.True(s.queue.Add(s.ctx, s.task(models.TaskFullSync, models.PriorityLow, "")))

		later := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Second))
		newcomer := models.NewSyncTask(models.TaskFullSync, models.PriorityLow, "x", s.now.Add(2*time.Second))
		s.False(s.queue.Add(later, newcomer))
		s.Equal(1, s.queue.Len())
	})

	s.Run("outside the window a new task queues", func() {
		q := New(WithMergeWindow(time.Second))
		s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskFullSync, models.PriorityLow, "", s.now)))

		later := requestcontext.WithTime(context.Background(), s.now.Add(5*time.Second))
		s.True(q.Add(later, models.NewSyncTask(models.TaskFullSync, models.PriorityLow, "y", s.now.Add(5*time.Second))))
		s.Equal(2, q.Len())
	})

	s.Run("non-mergeable types never merge", func() {
		q := New()
		s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskRemove, models.PriorityHigh, `{"n":1}`, s.now)))
		s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskRemove, models.PriorityHigh, `{"n":2}`, s.now)))
		s.Equal(2, q.Len())
	})
}

func (s *QueueSuite) TestPoll() {
	s.Run("orders by priority then age", func() {
		low := s.task(models.TaskAdd, models.PriorityLow, "low")
		urgent := models.NewSyncTask(models.TaskUpdateIdentifier, models.PriorityUrgent, "urgent", s.now.Add(time.Second))
		normalOld := s.task(models.TaskAdd, models.PriorityNormal, "old")
		normalNew := models.NewSyncTask(models.TaskAdd, models.PriorityNormal, "new", s.now.Add(time.Second))

		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))
		for _, t := range []*models.SyncTask{low, normalNew, urgent, normalOld} {
			s.True(s.queue.Add(later, t))
		}

		s.Equal("urgent", s.queue.Poll(later).Payload)
		s.Equal("old", s.queue.Poll(later).Payload)
		s.Equal("new", s.queue.Poll(later).Payload)
		s.Equal("low", s.queue.Poll(later).Payload)
		s.Nil(s.queue.Poll(later))
	})

	s.Run("skips tasks scheduled in the future", func() {
		deferred := s.task(models.TaskAdd, models.PriorityUrgent, "deferred")
		deferred.ScheduledAt = s.now.Add(time.Hour)
		ready := s.task(models.TaskAdd, models.PriorityNormal, "ready")

		s.True(s.queue.Add(s.ctx, deferred))
		s.True(s.queue.Add(s.ctx, ready))

		s.Equal("ready", s.queue.Poll(s.ctx).Payload)
		s.Nil(s.queue.Poll(s.ctx))

		due := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Hour))
		s.Equal("deferred", s.queue.Poll(due).Payload)
	})

	s.Run("polled task leaves the dedup set", func() {
		s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "again")))
		task := s.queue.Poll(s.ctx)
		s.Require().NotNil(task)
		s.Equal(models.TaskProcessing, task.Status)

		s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "again")))
	})
}

func (s *QueueSuite) TestPollBatchable() {
	s.Run("drains a run of same type and priority", func() {
		for _, payload := range []string{"a", "b", "c"} {
			s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, payload)))
		}
		s.True(s.queue.Add(s.ctx, s.task(models.TaskRemove, models.PriorityHigh, "r")))

		batch := s.queue.PollBatchable(s.ctx)
		s.Require().Len(batch, 1)
		s.Equal(models.TaskRemove, batch[0].Type)

		batch = s.queue.PollBatchable(s.ctx)
		s.Len(batch, 3)
	})

	s.Run("non-batchable head returns alone", func() {
		q := New()
		s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskFullSync, models.PriorityUrgent, "", s.now)))
		s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskAdd, models.PriorityUrgent, "a", s.now)))

		batch := q.PollBatchable(s.ctx)
		s.Require().Len(batch, 1)
		s.Equal(models.TaskFullSync, batch[0].Type)
	})

	s.Run("respects the batch ceiling", func() {
		q := New(WithBatchCeiling(2))
		for _, payload := range []string{"a", "b", "c"} {
			s.True(q.Add(s.ctx, models.NewSyncTask(models.TaskAdd, models.PriorityNormal, payload, s.now)))
		}
		s.Len(q.PollBatchable(s.ctx), 2)
	})
}

func (s *QueueSuite) TestLifecycle() {
	s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "done")))
	s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "broken")))
	s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "redo")))

	done := s.queue.Poll(s.ctx)
	s.queue.Complete(done)
	s.Equal(models.TaskCompleted, done.Status)

	broken := s.queue.Poll(s.ctx)
	s.queue.Fail(broken, "store unreachable")
	s.Equal(models.TaskFailed, broken.Status)
	s.Equal("store unreachable", broken.ErrorMessage)

	redo := s.queue.Poll(s.ctx)
	s.queue.Requeue(redo)
	s.Equal(models.TaskPending, redo.Status)

	stats := s.queue.Stats()
	s.Equal(1, stats.Completed)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Processing)
}

func (s *QueueSuite) TestCancel() {
	task := s.task(models.TaskAdd, models.PriorityNormal, "cancel-me")
	s.True(s.queue.Add(s.ctx, task))

	s.True(s.queue.Cancel(task.ID))
	s.Equal(0, s.queue.Len())
	s.Equal(models.TaskCancelled, task.Status)

	s.False(s.queue.Cancel(task.ID))

	// the dedup slot is free again
	s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "cancel-me")))
}

func (s *QueueSuite) TestStats() {
	s.True(s.queue.Add(s.ctx, s.task(models.TaskAdd, models.PriorityNormal, "a")))
	s.True(s.queue.Add(s.ctx, s.task(models.TaskRemove, models.PriorityHigh, "b")))

	stats := s.queue.Stats()
	s.Equal(2, stats.Pending)
	s.Equal(1, stats.ByType[models.TaskAdd])
	s.Equal(1, stats.ByType[models.TaskRemove])
	s.Equal(1, stats.ByPriority[models.PriorityNormal])
	s.Equal(1, stats.ByPriority[models.PriorityHigh])
}
