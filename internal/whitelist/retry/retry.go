// Package retry decides whether and when a failed sync task runs again.
//
// The strategy is pure: it never mutates a task in place, holds no queue
// state, and treats errors as inputs. Unknown errors default to retryable;
// only validation-shaped failures are certain to fail again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gatelist/internal/whitelist/models"
	dErrors "gatelist/pkg/domain-errors"
	"gatelist/pkg/requestcontext"

	"github.com/lib/pq"
)

const (
	baseDelay = time.Second
	maxDelay  = 5 * time.Minute

	// jitterFraction bounds the random additive jitter: up to +10%, never
	// subtracted, so synchronized retry storms spread out without ever
	// shortening the computed backoff.
	jitterFraction = 0.10
)

// Strategy computes retry decisions and delays. The jitter source is
// injectable for deterministic tests.
type Strategy struct {
	jitter func() float64
}

// Option configures the Strategy.
type Option func(*Strategy)

// WithJitterSource overrides the random source; the function must return
// values in [0, 1).
func WithJitterSource(source func() float64) Option {
	return func(s *Strategy) {
		s.jitter = source
	}
}

func New(opts ...Option) *Strategy {
	s := &Strategy{jitter: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxRetries returns the retry budget for a task type.
func MaxRetries(taskType models.TaskType) int {
	switch taskType {
	case models.TaskFullSync:
		return 5
	case models.TaskBatchUpdate:
		return 4
	case models.TaskAdd, models.TaskRemove, models.TaskUpdateIdentifier:
		return 3
	}
	return 3
}

// ShouldRetry reports whether the failed task deserves another attempt.
// Exhausted budgets and validation-shaped errors are terminal; everything
// else, including unclassified errors, retries.
func (s *Strategy) ShouldRetry(task *models.SyncTask, err error) bool {
	if task == nil {
		return false
	}
	if task.RetryCount >= MaxRetries(task.Type) {
		return false
	}
	return Retryable(err)
}

// Retryable classifies an error. Malformed input cannot succeed on retry;
// network, timeout, lock-contention and resource-exhaustion failures can.
func Retryable(err error) bool {
	if err == nil {
		return true
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return false
	case dErrors.CodeUnavailable, dErrors.CodeInternal:
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "55", "57", "58": // connection, tx rollback, resources, lock, operator, system
			return true
		case "22", "23": // data and integrity violations will fail again
			return false
		}
	}
	// Fail open toward retrying.
	return true
}

// ComputeDelay returns the capped exponential backoff for the given attempt,
// scaled per task type and widened by additive jitter.
func (s *Strategy) ComputeDelay(retryCount int, taskType models.TaskType) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Shift instead of Pow; the cap is hit long before overflow matters.
	exponent := uint(retryCount)
	if exponent > 20 {
		exponent = 20
	}
	delay := baseDelay * time.Duration(1<<exponent)
	if delay > maxDelay {
		delay = maxDelay
	}
	delay = time.Duration(float64(delay) * typeFactor(taskType))
	delay += time.Duration(s.jitter() * jitterFraction * float64(delay))
	return delay
}

// typeFactor stretches backoff for expensive task types.
func typeFactor(taskType models.TaskType) float64 {
	switch taskType {
	case models.TaskFullSync:
		return 2.0
	case models.TaskBatchUpdate:
		return 1.5
	case models.TaskAdd, models.TaskRemove, models.TaskUpdateIdentifier:
		return 1.0
	}
	return 1.0
}

// NextRetryTime computes the earliest eligible execution time for the task's
// next attempt.
func (s *Strategy) NextRetryTime(ctx context.Context, task *models.SyncTask) time.Time {
	return requestcontext.Now(ctx).Add(s.ComputeDelay(task.RetryCount, task.Type))
}

// BuildRetryTask produces the re-queueable successor of a failed task, or nil
// when the failure is terminal. The successor keeps the original's identity
// and payload, gets promoted one priority step, and carries a summary of the
// failed attempt.
func (s *Strategy) BuildRetryTask(ctx context.Context, original *models.SyncTask, cause error) *models.SyncTask {
	if !s.ShouldRetry(original, cause) {
		return nil
	}
	priority := original.Priority - 1
	if priority < 1 {
		priority = 1
	}
	return &models.SyncTask{
		ID:           original.ID,
		Type:         original.Type,
		Status:       models.TaskPending,
		Priority:     priority,
		Payload:      original.Payload,
		RetryCount:   original.RetryCount + 1,
		MaxRetries:   MaxRetries(original.Type),
		CreatedAt:    requestcontext.Now(ctx),
		ScheduledAt:  s.NextRetryTime(ctx, original),
		ErrorMessage: fmt.Sprintf("attempt %d/%d failed: %v", original.RetryCount+1, MaxRetries(original.Type), cause),
	}
}

// IsDue reports whether the task is eligible to run: its ScheduledAt is unset
// or not in the future.
func IsDue(ctx context.Context, task *models.SyncTask) bool {
	if task.ScheduledAt.IsZero() {
		return true
	}
	return !task.ScheduledAt.After(requestcontext.Now(ctx))
}
