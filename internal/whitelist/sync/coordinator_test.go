package sync

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatelist/internal/whitelist/cache"
	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/queue"
	"gatelist/internal/whitelist/retry"
	"gatelist/internal/whitelist/service"
	"gatelist/internal/whitelist/store/entry"
	dErrors "gatelist/pkg/domain-errors"
	"gatelist/pkg/requestcontext"
)

// fakeMirror is an in-memory mirror copy of the whitelist.
type fakeMirror struct {
	entries map[string]*models.WhitelistEntry
	pushErr error
	pushes  int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{entries: make(map[string]*models.WhitelistEntry)}
}

func (m *fakeMirror) Snapshot(context.Context) ([]*models.WhitelistEntry, error) {
	out := make([]*models.WhitelistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *fakeMirror) Push(_ context.Context, add []*models.WhitelistEntry, removeIdentifiers []string) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.pushes++
	for _, e := range add {
		if e.HasIdentifier() {
			m.entries[*e.Identifier] = e
		}
	}
	for _, id := range removeIdentifiers {
		delete(m.entries, id)
	}
	return nil
}

type CoordinatorSuite struct {
	suite.Suite
	store   *entry.InMemoryStore
	cache   *cache.IdentityCache
	queue   *queue.Queue
	mirror  *fakeMirror
	manager *service.Manager
	coord   *Coordinator
	ctx     context.Context
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.store = entry.NewInMemory()
	s.cache = cache.New()
	s.queue = queue.New()
	s.mirror = newFakeMirror()
	s.ctx = context.Background()

	var err error
	s.manager, err = service.New(s.store, s.cache, service.WithScheduler(s.queue))
	s.Require().NoError(err)

	strategy := retry.New(retry.WithJitterSource(func() float64 { return 0 }))
	s.coord, err = New(s.manager, s.queue, strategy, WithMirror(s.mirror))
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) add(name string) string {
	id := uuid.NewString()
	added, err := s.manager.AddByIdentifier(s.ctx, name, id, service.AddedBy{Name: "console"}, models.SourceAdmin, time.Now())
	s.Require().NoError(err)
	s.Require().True(added)
	return id
}

func (s *CoordinatorSuite) TestNew() {
	strategy := retry.New()
	_, err := New(nil, s.queue, strategy)
	s.Require().Error(err)
	_, err = New(s.manager, nil, strategy)
	s.Require().Error(err)
	_, err = New(s.manager, s.queue, nil)
	s.Require().Error(err)
}

func (s *CoordinatorSuite) TestDrainPropagatesAdds() {
	id := s.add("Notch")
	s.True(s.manager.ScheduleAdd(s.ctx, "Notch", id))

	s.coord.Drain(s.ctx)

	s.Equal(0, s.queue.Len())
	s.Contains(s.mirror.entries, id)
	s.Equal(1, s.queue.Stats().Completed)
}

func (s *CoordinatorSuite) TestDrainPropagatesRemovals() {
	id := s.add("Victim")
	s.mirror.entries[id] = &models.WhitelistEntry{Name: "Victim", Identifier: &id, Active: true}

	removed, err := s.manager.Remove(s.ctx, id)
	s.Require().NoError(err)
	s.Require().True(removed)
	s.True(s.manager.ScheduleRemove(s.ctx, "Victim", id))

	s.coord.Drain(s.ctx)

	s.NotContains(s.mirror.entries, id)
}

func (s *CoordinatorSuite) TestDrainSkipsVanishedEntries() {
	id := uuid.NewString()
	s.True(s.manager.ScheduleAdd(s.ctx, "Ghost", id))

	s.coord.Drain(s.ctx)

	s.NotContains(s.mirror.entries, id)
	s.Equal(1, s.queue.Stats().Completed)
}

func (s *CoordinatorSuite) TestFailedTaskIsRetriedWithBackoff() {
	id := s.add("Flaky")
	s.True(s.manager.ScheduleAdd(s.ctx, "Flaky", id))
	s.mirror.pushErr = dErrors.New(dErrors.CodeUnavailable, "mirror down")

	s.coord.Drain(s.ctx)

	// the retry successor is queued but not yet due
	s.Equal(1, s.queue.Len())
	s.Nil(s.queue.Poll(s.ctx))

	s.mirror.pushErr = nil
	due := time.Now().Add(time.Hour)
	task := s.queue.Poll(contextAt(due))
	s.Require().NotNil(task)
	s.Equal(1, task.RetryCount)
}

func (s *CoordinatorSuite) TestMirrorRecoveryClosesCircuit() {
	s.mirror.pushErr = dErrors.New(dErrors.CodeUnavailable, "mirror down")
	ids := make([]string, 5)
	for i := range ids {
		name := "Outage_" + strconv.Itoa(i)
		ids[i] = s.add(name)
		s.True(s.manager.ScheduleAdd(s.ctx, name, ids[i]))
	}

	// five consecutive push failures open the mirror circuit
	start := time.Now()
	s.coord.Drain(contextAt(start))
	s.Equal(5, s.queue.Len())

	s.mirror.pushErr = nil

	// drains spaced past the cooldown let trial pushes through; the trials
	// close the circuit and the backlog clears within the retry budget
	for i := 1; i <= 4 && s.queue.Len() > 0; i++ {
		s.coord.Drain(contextAt(start.Add(time.Duration(i) * time.Minute)))
	}

	s.Equal(0, s.queue.Len())
	s.Equal(5, s.queue.Stats().Completed)
	for _, id := range ids {
		s.Contains(s.mirror.entries, id)
	}
}

func (s *CoordinatorSuite) TestTerminalFailureIsAbandoned() {
	id := s.add("Doomed")
	task := models.NewSyncTask(models.TaskAdd, models.PriorityNormal, `{"name":"Doomed","identifier":"`+id+`"}`, time.Now())
	task.RetryCount = retry.MaxRetries(models.TaskAdd)
	s.Require().True(s.queue.Add(s.ctx, task))
	s.mirror.pushErr = dErrors.New(dErrors.CodeUnavailable, "mirror down")

	s.coord.Drain(s.ctx)

	s.Equal(0, s.queue.Len())
	s.Equal(1, s.queue.Stats().Failed)
	s.Equal(models.TaskFailed, task.Status)
}

func (s *CoordinatorSuite) TestFullSyncReconciles() {
	// primary-only entry must reach the mirror
	primaryOnly := s.add("OnlyHere")

	// mirror-only entry must be imported into the primary
	mirrorOnly := uuid.NewString()
	s.mirror.entries[mirrorOnly] = &models.WhitelistEntry{
		Name:        "OnlyThere",
		Identifier:  &mirrorOnly,
		AddedByName: "console",
		AddedAt:     time.Now(),
		Source:      models.SourceAdmin,
		Active:      true,
	}

	s.True(s.manager.ScheduleFullSync(s.ctx))
	s.coord.Drain(s.ctx)

	s.Contains(s.mirror.entries, primaryOnly)
	allowed, err := s.manager.IsWhitelisted(s.ctx, mirrorOnly)
	s.Require().NoError(err)
	s.True(allowed)
	s.True(s.cache.Loaded(), "full sync rebuilds the cache")
}

func (s *CoordinatorSuite) TestFullSyncWithoutMirrorReloadsCache() {
	coord, err := New(s.manager, s.queue, retry.New())
	s.Require().NoError(err)

	s.add("Solo")
	s.cache.Invalidate(s.ctx)
	s.True(s.manager.ScheduleFullSync(s.ctx))

	coord.Drain(s.ctx)

	s.True(s.cache.Loaded())
}

func (s *CoordinatorSuite) TestDeferredBatchApplies() {
	op := &models.BatchOperation{
		Op: models.BatchAdd,
		Entries: []models.BatchEntry{
			{Name: "batch_1", Identifier: uuid.NewString()},
			{Name: "batch_2", Identifier: uuid.NewString()},
		},
		AddedByName: "console",
		Source:      models.SourceSystem,
		AddedAt:     time.Now(),
	}
	s.True(s.manager.ScheduleBatch(s.ctx, op))

	s.coord.Drain(s.ctx)

	for _, e := range op.Entries {
		got, err := s.store.GetByName(s.ctx, e.Name)
		s.Require().NoError(err)
		s.NotNil(got, e.Name)
		s.Contains(s.mirror.entries, e.Identifier)
	}
}

func (s *CoordinatorSuite) TestMalformedPayloadIsTerminal() {
	task := models.NewSyncTask(models.TaskAdd, models.PriorityNormal, "{not json", time.Now())
	s.Require().True(s.queue.Add(s.ctx, task))

	s.coord.Drain(s.ctx)

	s.Equal(1, s.queue.Stats().Failed)
	s.Equal(0, s.queue.Len())
}

func contextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
