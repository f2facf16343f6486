package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatelist/internal/whitelist/models"
	dErrors "gatelist/pkg/domain-errors"
	"gatelist/pkg/requestcontext"
)

// zeroJitter makes delay computations deterministic.
func zeroJitter() *Strategy {
	return New(WithJitterSource(func() float64 { return 0 }))
}

func TestComputeDelay(t *testing.T) {
	s := zeroJitter()

	t.Run("grows monotonically and caps", func(t *testing.T) {
		var previous time.Duration
		for attempt := 0; attempt < 15; attempt++ {
			delay := s.ComputeDelay(attempt, models.TaskAdd)
			assert.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, 5*time.Minute)
			previous = delay
		}
		assert.Equal(t, 5*time.Minute, s.ComputeDelay(30, models.TaskAdd))
	})

	t.Run("base progression doubles", func(t *testing.T) {
		assert.Equal(t, time.Second, s.ComputeDelay(0, models.TaskAdd))
		assert.Equal(t, 2*time.Second, s.ComputeDelay(1, models.TaskAdd))
		assert.Equal(t, 4*time.Second, s.ComputeDelay(2, models.TaskAdd))
	})

	t.Run("full sync is stretched", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, s.ComputeDelay(0, models.TaskFullSync))
		assert.Equal(t, time.Duration(1.5*float64(time.Second)), s.ComputeDelay(0, models.TaskBatchUpdate))
	})

	t.Run("negative attempts clamp to zero", func(t *testing.T) {
		assert.Equal(t, time.Second, s.ComputeDelay(-3, models.TaskAdd))
	})

	t.Run("jitter only adds", func(t *testing.T) {
		jittered := New(WithJitterSource(func() float64 { return 0.999 }))
		base := s.ComputeDelay(3, models.TaskAdd)
		widened := jittered.ComputeDelay(3, models.TaskAdd)
		assert.GreaterOrEqual(t, widened, base)
		assert.LessOrEqual(t, widened, base+time.Duration(0.1*float64(base))+time.Millisecond)
	})
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(dErrors.New(dErrors.CodeInvalidInput, "bad name")))
	assert.False(t, Retryable(dErrors.New(dErrors.CodeInvariantViolation, "broken rule")))
	assert.True(t, Retryable(dErrors.New(dErrors.CodeUnavailable, "store down")))
	assert.True(t, Retryable(dErrors.New(dErrors.CodeInternal, "boom")))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("some unknown failure")))

	assert.True(t, Retryable(&pq.Error{Code: "08006"}))  // connection failure
	assert.True(t, Retryable(&pq.Error{Code: "40001"}))  // serialization failure
	assert.True(t, Retryable(&pq.Error{Code: "53300"}))  // too many connections
	assert.False(t, Retryable(&pq.Error{Code: "23505"})) // unique violation
	assert.False(t, Retryable(&pq.Error{Code: "22001"})) // string too long
}

func TestMaxRetries(t *testing.T) {
	assert.Equal(t, 5, MaxRetries(models.TaskFullSync))
	assert.Equal(t, 4, MaxRetries(models.TaskBatchUpdate))
	assert.Equal(t, 3, MaxRetries(models.TaskAdd))
	assert.Equal(t, 3, MaxRetries(models.TaskRemove))
}

func TestShouldRetry(t *testing.T) {
	s := zeroJitter()
	infra := dErrors.New(dErrors.CodeUnavailable, "store down")

	task := &models.SyncTask{Type: models.TaskAdd, RetryCount: 0}
	assert.True(t, s.ShouldRetry(task, infra))

	task.RetryCount = MaxRetries(models.TaskAdd)
	assert.False(t, s.ShouldRetry(task, infra))

	task.RetryCount = 0
	assert.False(t, s.ShouldRetry(task, dErrors.New(dErrors.CodeInvalidInput, "bad")))
	assert.False(t, s.ShouldRetry(nil, infra))
}

func TestBuildRetryTask(t *testing.T) {
	s := zeroJitter()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	original := models.NewSyncTask(models.TaskAdd, models.PriorityNormal, `{"name":"x"}`, now.Add(-time.Minute))
	original.RetryCount = 1

	successor := s.BuildRetryTask(ctx, original, dErrors.New(dErrors.CodeUnavailable, "store down"))
	require.NotNil(t, successor)

	assert.Equal(t, original.ID, successor.ID)
	assert.Equal(t, original.Payload, successor.Payload)
	assert.Equal(t, original.Priority-1, successor.Priority)
	assert.Equal(t, 2, successor.RetryCount)
	assert.Equal(t, MaxRetries(models.TaskAdd), successor.MaxRetries)
	assert.Equal(t, now, successor.CreatedAt)
	assert.Equal(t, now.Add(s.ComputeDelay(1, models.TaskAdd)), successor.ScheduledAt)
	assert.Contains(t, successor.ErrorMessage, "attempt 2/3 failed")

	t.Run("priority never passes urgent", func(t *testing.T) {
		urgent := models.NewSyncTask(models.TaskAdd, models.PriorityUrgent, "p", now)
		successor := s.BuildRetryTask(ctx, urgent, dErrors.New(dErrors.CodeUnavailable, "down"))
		require.NotNil(t, successor)
		assert.Equal(t, models.PriorityUrgent, successor.Priority)
	})

	t.Run("terminal failures return nil", func(t *testing.T) {
		assert.Nil(t, s.BuildRetryTask(ctx, original, dErrors.New(dErrors.CodeInvalidInput, "bad")))

		spent := models.NewSyncTask(models.TaskAdd, models.PriorityNormal, "s", now)
		spent.RetryCount = MaxRetries(models.TaskAdd)
		assert.Nil(t, s.BuildRetryTask(ctx, spent, dErrors.New(dErrors.CodeUnavailable, "down")))
	})
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	assert.True(t, IsDue(ctx, &models.SyncTask{}))
	assert.True(t, IsDue(ctx, &models.SyncTask{ScheduledAt: now}))
	assert.True(t, IsDue(ctx, &models.SyncTask{ScheduledAt: now.Add(-time.Second)}))
	assert.False(t, IsDue(ctx, &models.SyncTask{ScheduledAt: now.Add(time.Second)}))
}
