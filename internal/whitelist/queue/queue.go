// Package queue implements the priority queue of pending propagation tasks.
//
// Mutating operations serialize on one queue-wide lock: deduplication and
// merging need a scan that must be atomic with respect to concurrent Adds.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"gatelist/internal/whitelist/models"
	"gatelist/pkg/requestcontext"
)

const (
	// DefaultMergeWindow is how long a mergeable pending task keeps absorbing
	// compatible newcomers.
	DefaultMergeWindow = 5 * time.Second

	// DefaultBatchCeiling caps how many tasks PollBatchable drains in one call.
	DefaultBatchCeiling = 50
)

// Stats aggregates queue counters for observability endpoints.
type Stats struct {
	Pending    int                       `json:"pending"`
	Processing int                       `json:"processing"`
	Completed  int                       `json:"completed"`
	Failed     int                       `json:"failed"`
	Cancelled  int                       `json:"cancelled"`
	ByType     map[models.TaskType]int   `json:"by_type"`
	ByPriority map[int]int               `json:"by_priority"`
	ByStatus   map[models.TaskStatus]int `json:"by_status"`
}

// Queue owns task lifetime from Add until dequeue. Orders by ascending
// priority, then creation time (stable FIFO within a priority band).
type Queue struct {
	mu           sync.Mutex
	heap         taskHeap
	pending      map[string]*models.SyncTask // dedup key -> queued task
	processing   int
	completed    int
	failed       int
	cancelled    int
	mergeWindow  time.Duration
	batchCeiling int
	logger       *slog.Logger
}

// Option configures the Queue.
type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithMergeWindow(window time.Duration) Option {
	return func(q *Queue) {
		q.mergeWindow = window
	}
}

func WithBatchCeiling(ceiling int) Option {
	return func(q *Queue) {
		q.batchCeiling = ceiling
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		pending:      make(map[string]*models.SyncTask),
		mergeWindow:  DefaultMergeWindow,
		batchCeiling: DefaultBatchCeiling,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add enqueues a pending task. It returns false when an equivalent pending
// task already exists (same type and payload) or when the task was absorbed
// into a compatible pending task inside the merge window. Merging is a
// coalescing signal only: payloads are never concatenated, so callers
// needing accumulation must pre-aggregate before enqueueing.
func (q *Queue) Add(ctx context.Context, task *models.SyncTask) bool {
	if task == nil || !task.Type.IsValid() {
		return false
	}
	now := requestcontext.Now(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[task.DedupKey()]; exists {
		if q.logger != nil {
			q.logger.DebugContext(ctx, "task deduplicated", "type", task.Type, "task_id", task.ID)
		}
		return false
	}

	if task.Type.Mergeable() {
		if existing := q.findMergeTarget(task, now); existing != nil {
			// Freshness bump: the surviving task represents the newest request,
			// so it keeps absorbing until the window closes again.
			existing.task.CreatedAt = now
			heap.Fix(&q.heap, existing.index)
			if q.logger != nil {
				q.logger.DebugContext(ctx, "task merged", "type", task.Type, "into", existing.task.ID)
			}
			return false
		}
	}

	task.Status = models.TaskPending
	item := &queueItem{task: task}
	heap.Push(&q.heap, item)
	q.pending[task.DedupKey()] = task
	return true
}

// findMergeTarget must be called while holding q.mu.
func (q *Queue) findMergeTarget(task *models.SyncTask, now time.Time) *queueItem {
	for _, item := range q.heap {
		if item.task.Type == task.Type &&
			item.task.Priority == task.Priority &&
			now.Sub(item.task.CreatedAt) <= q.mergeWindow {
			return item
		}
	}
	return nil
}

// Poll removes and returns the most urgent due task, or nil when none is
// eligible. A task whose ScheduledAt lies in the future is not yet due and is
// skipped without losing its position.
func (q *Queue) Poll(ctx context.Context) *models.SyncTask {
	now := requestcontext.Now(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pollLocked(now)
}

// pollLocked must be called while holding q.mu.
func (q *Queue) pollLocked(now time.Time) *models.SyncTask {
	var skipped []*queueItem
	var picked *models.SyncTask
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*queueItem)
		if !item.task.ScheduledAt.IsZero() && item.task.ScheduledAt.After(now) {
			skipped = append(skipped, item)
			continue
		}
		picked = item.task
		break
	}
	for _, item := range skipped {
		heap.Push(&q.heap, item)
	}
	if picked == nil {
		return nil
	}
	delete(q.pending, picked.DedupKey())
	picked.Status = models.TaskProcessing
	q.processing++
	return picked
}

// PollBatch repeatedly polls up to maxCount due tasks.
func (q *Queue) PollBatch(ctx context.Context, maxCount int) []*models.SyncTask {
	now := requestcontext.Now(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []*models.SyncTask
	for len(tasks) < maxCount {
		task := q.pollLocked(now)
		if task == nil {
			break
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// PollBatchable pops one due task, then greedily pops subsequent due head
// tasks sharing its exact type and priority, up to the batch ceiling. Only
// batchable task types form runs; a non-batchable head is returned alone.
func (q *Queue) PollBatchable(ctx context.Context) []*models.SyncTask {
	now := requestcontext.Now(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()

	first := q.pollLocked(now)
	if first == nil {
		return nil
	}
	tasks := []*models.SyncTask{first}
	if !first.Type.Batchable() {
		return tasks
	}

	for len(tasks) < q.batchCeiling && q.heap.Len() > 0 {
		head := q.heap[0].task
		if head.Type != first.Type || head.Priority != first.Priority {
			break
		}
		if !head.ScheduledAt.IsZero() && head.ScheduledAt.After(now) {
			break
		}
		task := q.pollLocked(now)
		if task == nil {
			break
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Complete reports a dequeued task as finished.
func (q *Queue) Complete(task *models.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = models.TaskCompleted
	q.processing--
	q.completed++
}

// Fail reports a dequeued task as terminally failed. Retryable failures go
// back through Add with a fresh retry task instead.
func (q *Queue) Fail(task *models.SyncTask, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = models.TaskFailed
	task.ErrorMessage = message
	q.processing--
	q.failed++
}

// Requeue reports a dequeued task as handed back for retry. It only settles
// the processing counter; the retry successor goes through Add separately.
func (q *Queue) Requeue(task *models.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = models.TaskPending
	q.processing--
}

// Cancel removes a pending task by ID. Returns false when it is no longer queued.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.heap {
		if item.task.ID == taskID {
			heap.Remove(&q.heap, i)
			delete(q.pending, item.task.DedupKey())
			item.task.Status = models.TaskCancelled
			q.cancelled++
			return true
		}
	}
	return false
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stats snapshots queue counters by type, status and priority.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Pending:    q.heap.Len(),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
		Cancelled:  q.cancelled,
		ByType:     make(map[models.TaskType]int),
		ByPriority: make(map[int]int),
		ByStatus:   make(map[models.TaskStatus]int),
	}
	for _, item := range q.heap {
		stats.ByType[item.task.Type]++
		stats.ByPriority[item.task.Priority]++
	}
	stats.ByStatus[models.TaskPending] = stats.Pending
	stats.ByStatus[models.TaskProcessing] = stats.Processing
	stats.ByStatus[models.TaskCompleted] = stats.Completed
	stats.ByStatus[models.TaskFailed] = stats.Failed
	stats.ByStatus[models.TaskCancelled] = stats.Cancelled
	return stats
}

// queueItem wraps a task with its heap index so merge fixes are O(log n).
type queueItem struct {
	task  *models.SyncTask
	index int
}

type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
