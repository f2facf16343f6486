// Package sync drives propagation of whitelist mutations. The coordinator
// drains the task queue on an interval, applies each task through the manager
// and the optional mirror, and routes failures through the retry strategy.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gatelist/internal/whitelist/config"
	"gatelist/internal/whitelist/metrics"
	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/ports"
	"gatelist/internal/whitelist/queue"
	"gatelist/internal/whitelist/resolver"
	"gatelist/internal/whitelist/retry"
	"gatelist/internal/whitelist/service"
	dErrors "gatelist/pkg/domain-errors"
	"gatelist/pkg/platform/circuit"
	pstrings "gatelist/pkg/platform/strings"
	"gatelist/pkg/requestcontext"
)

// Manager is the subset of the whitelist manager the coordinator applies
// tasks through.
type Manager interface {
	ExecuteBatch(ctx context.Context, op *models.BatchOperation) (*models.BatchResult, error)
	AddByIdentifier(ctx context.Context, name, identifier string, addedBy service.AddedBy, source models.Source, addedAt time.Time) (bool, error)
	Remove(ctx context.Context, identifier string) (bool, error)
	GetEntry(ctx context.Context, identifier string) (*models.WhitelistEntry, error)
	ListActive(ctx context.Context) ([]*models.WhitelistEntry, error)
	ReloadCache(ctx context.Context) error
}

// Coordinator owns the drain loop. A nil mirror degrades it to primary-only
// application: propagation tasks complete as no-ops and full syncs reduce to
// cache reloads.
type Coordinator struct {
	manager  Manager
	queue    *queue.Queue
	strategy *retry.Strategy
	mirror   ports.MirrorSource
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	config   *config.Config
}

// Option configures the Coordinator.
type Option func(*Coordinator)

func WithMirror(mirror ports.MirrorSource) Option {
	return func(c *Coordinator) {
		c.mirror = mirror
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = mx
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(c *Coordinator) {
		c.config = cfg
	}
}

func New(manager Manager, q *queue.Queue, strategy *retry.Strategy, opts ...Option) (*Coordinator, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if strategy == nil {
		return nil, errors.New("retry strategy is required")
	}

	c := &Coordinator{
		manager:  manager,
		queue:    q,
		strategy: strategy,
		breaker:  circuit.New("mirror"),
		config:   config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drains the queue on the configured interval until the context ends.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(c.config.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.Drain(ctx)
			}
		}
	})
	return g.Wait()
}

// Drain processes every due task currently in the queue. Tasks sharing a
// batchable type and priority come out together; application stays sequential
// so propagation order is preserved within a drain.
func (c *Coordinator) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		tasks := c.queue.PollBatchable(ctx)
		if len(tasks) == 0 {
			break
		}
		for _, task := range tasks {
			c.process(ctx, task)
		}
	}
	if c.metrics != nil {
		c.metrics.SetQueueDepth(c.queue.Len())
	}
}

func (c *Coordinator) process(ctx context.Context, task *models.SyncTask) {
	err := c.apply(ctx, task)
	if err == nil {
		c.queue.Complete(task)
		if c.metrics != nil {
			c.metrics.RecordTask(string(task.Type), "completed")
		}
		return
	}

	c.log().WarnContext(ctx, "sync task failed",
		"task_id", task.ID,
		"type", task.Type,
		"attempt", task.RetryCount+1,
		"error", err,
	)

	if successor := c.strategy.BuildRetryTask(ctx, task, err); successor != nil {
		c.queue.Requeue(task)
		c.queue.Add(ctx, successor)
		if c.metrics != nil {
			c.metrics.RecordTaskRetry()
			c.metrics.RecordTask(string(task.Type), "retried")
		}
		return
	}

	c.queue.Fail(task, err.Error())
	if c.metrics != nil {
		c.metrics.RecordTask(string(task.Type), "failed")
	}
	c.log().ErrorContext(ctx, "sync task abandoned",
		"task_id", task.ID,
		"type", task.Type,
		"retries", task.RetryCount,
		"error", err,
	)
}

// apply dispatches one task. The switch is exhaustive over task types.
func (c *Coordinator) apply(ctx context.Context, task *models.SyncTask) error {
	switch task.Type {
	case models.TaskAdd:
		return c.applyAdd(ctx, task)
	case models.TaskRemove:
		return c.applyRemove(ctx, task)
	case models.TaskUpdateIdentifier:
		return c.applyAdd(ctx, task) // the completed entry is pushed whole
	case models.TaskBatchUpdate:
		return c.applyBatch(ctx, task)
	case models.TaskFullSync:
		return c.applyFullSync(ctx)
	}
	return dErrors.Newf(dErrors.CodeInvalidInput, "unknown task type %q", task.Type)
}

func (c *Coordinator) applyAdd(ctx context.Context, task *models.SyncTask) error {
	if c.mirror == nil {
		return nil
	}
	var payload service.EntryTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed task payload")
	}
	entry, err := c.manager.GetEntry(ctx, payload.Identifier)
	if err != nil {
		return err
	}
	if entry == nil {
		// Removed since the task was enqueued; nothing to propagate.
		return nil
	}
	if err := c.pushMirror(ctx, []*models.WhitelistEntry{entry}, nil); err != nil {
		return fmt.Errorf("push entry to mirror: %w", err)
	}
	return nil
}

func (c *Coordinator) applyRemove(ctx context.Context, task *models.SyncTask) error {
	if c.mirror == nil {
		return nil
	}
	var payload service.EntryTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed task payload")
	}
	if payload.Identifier == "" {
		return nil
	}
	if err := c.pushMirror(ctx, nil, []string{payload.Identifier}); err != nil {
		return fmt.Errorf("push removal to mirror: %w", err)
	}
	return nil
}

func (c *Coordinator) applyBatch(ctx context.Context, task *models.SyncTask) error {
	var payload service.BatchTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed task payload")
	}
	result, err := c.manager.ExecuteBatch(ctx, payload.Operation)
	if err != nil {
		return err
	}
	c.log().InfoContext(ctx, "deferred batch applied",
		"task_id", task.ID,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	if c.mirror == nil || payload.Operation == nil {
		return nil
	}
	switch payload.Operation.Op {
	case models.BatchAdd:
		add := make([]*models.WhitelistEntry, 0, len(result.SucceededIdentifiers))
		for _, identifier := range result.SucceededIdentifiers {
			if identifier == "" {
				continue
			}
			entry, err := c.manager.GetEntry(ctx, identifier)
			if err != nil || entry == nil {
				continue
			}
			add = append(add, entry)
		}
		if len(add) == 0 {
			return nil
		}
		return c.pushMirror(ctx, add, nil)
	case models.BatchRemove:
		remove := make([]string, 0, len(result.SucceededIdentifiers))
		for _, identifier := range result.SucceededIdentifiers {
			if identifier != "" {
				remove = append(remove, identifier)
			}
		}
		if len(remove) == 0 {
			return nil
		}
		return c.pushMirror(ctx, nil, remove)
	}
	return nil
}

// applyFullSync reconciles the primary store against the mirror and rebuilds
// the cache from the reconciled primary.
func (c *Coordinator) applyFullSync(ctx context.Context) error {
	if c.mirror == nil {
		return c.manager.ReloadCache(ctx)
	}

	primary, err := c.manager.ListActive(ctx)
	if err != nil {
		return err
	}
	mirror, err := c.mirror.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot mirror: %w", err)
	}

	res := resolver.Resolve(primary, mirror)

	var pushAdd []*models.WhitelistEntry
	var pushRemove []string
	pushAdd = append(pushAdd, res.OnlyInPrimary...)

	for _, entry := range res.OnlyInMirror {
		if !entry.Active {
			continue
		}
		if _, err := c.manager.AddByIdentifier(ctx, entry.Name, *entry.Identifier,
			service.AddedBy{Name: entry.AddedByName, Identifier: entry.AddedByIdentifier},
			entry.Source, entry.AddedAt); err != nil {
			return fmt.Errorf("import mirror entry %s: %w", entry.Name, err)
		}
	}

	for _, conflict := range res.Conflicts {
		winner := conflict.Entry()
		switch conflict.Winner {
		case resolver.SidePrimary:
			if winner.Active {
				pushAdd = append(pushAdd, winner)
			} else {
				pushRemove = append(pushRemove, conflict.Identifier)
			}
		case resolver.SideMirror:
			if _, err := c.manager.Remove(ctx, conflict.Identifier); err != nil {
				return fmt.Errorf("resolve conflict for %s: %w", conflict.Identifier, err)
			}
			if winner.Active {
				if _, err := c.manager.AddByIdentifier(ctx, winner.Name, conflict.Identifier,
					service.AddedBy{Name: winner.AddedByName, Identifier: winner.AddedByIdentifier},
					winner.Source, winner.AddedAt); err != nil {
					return fmt.Errorf("resolve conflict for %s: %w", conflict.Identifier, err)
				}
			}
		}
		c.log().InfoContext(ctx, "whitelist conflict resolved",
			"identifier", conflict.Identifier,
			"winner", conflict.Winner,
			"reason", conflict.Reason,
		)
	}

	if len(pushAdd) > 0 || len(pushRemove) > 0 {
		if err := c.pushMirror(ctx, pushAdd, pushRemove); err != nil {
			return fmt.Errorf("push reconciliation to mirror: %w", err)
		}
	}

	c.log().InfoContext(ctx, "full sync completed",
		"only_in_primary", len(res.OnlyInPrimary),
		"only_in_mirror", len(res.OnlyInMirror),
		"conflicts", len(res.Conflicts),
		"pending_completion", len(res.PendingCompletion),
	)
	return c.manager.ReloadCache(ctx)
}

// pushMirror forwards a delta to the mirror through the circuit breaker.
// While the breaker is open most pushes fail fast as unavailable and take the
// normal retry path; one trial push per cooldown still goes out, so a
// recovered mirror closes the breaker again.
func (c *Coordinator) pushMirror(ctx context.Context, add []*models.WhitelistEntry, remove []string) error {
	if !c.breaker.Allow(requestcontext.Now(ctx)) {
		return dErrors.Newf(dErrors.CodeUnavailable, "circuit %q is open", c.breaker.Name())
	}
	if err := c.mirror.Push(ctx, add, pstrings.DedupeAndTrim(remove)); err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.log().WarnContext(ctx, "mirror circuit opened", "circuit", c.breaker.Name(), "error", err)
		}
		return err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.log().InfoContext(ctx, "mirror circuit closed", "circuit", c.breaker.Name())
	}
	return nil
}

func (c *Coordinator) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
