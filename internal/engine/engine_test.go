package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusquest/internal/config"
	"focusquest/internal/db"
	"focusquest/internal/domain"
	"focusquest/internal/engine"
	"focusquest/internal/events"
	"focusquest/internal/migrate"
	"focusquest/internal/notify"
	"focusquest/internal/registry"
	"focusquest/internal/repo"
	"focusquest/internal/timesource"
)

var serverStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory server with the same state rules as the real one.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]domain.Session
	awards   map[int64]domain.Award
	me       domain.PlayerStats
	failNext error
	calls    int

	// holdOnComplete answers a completion with the session as stored.
	holdOnComplete bool

	entered chan struct{}
	block   chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 7, sessions: map[int64]domain.Session{}, awards: map[int64]domain.Award{}}
}

func (f *fakeAPI) begin() error {
	f.mu.Lock()
	f.calls++
	err := f.failNext
	f.failNext = nil
	entered, block := f.entered, f.block
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeAPI) StartSession(_ context.Context, opts engine.StartOptions) (domain.Session, error) {
	if err := f.begin(); err != nil {
		return domain.Session{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := domain.Session{
		ID:              f.nextID,
		TaskID:          opts.TaskID,
		SubtaskID:       opts.SubtaskID,
		DurationMinutes: opts.DurationMinutes,
		Status:          domain.StatusActive,
		StartedAt:       serverStart,
	}
	f.nextID++
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeAPI) setStatus(id int64, from, to domain.SessionStatus) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, engine.ErrSessionNotFound
	}
	if s.Status != from {
		return domain.Session{}, engine.ErrConflict
	}
	s.Status = to
	if to == domain.StatusPaused {
		at := serverStart.Add(5 * time.Minute)
		s.PausedAt = &at
	} else {
		s.PausedAt = nil
		s.TotalPauseSeconds += 60
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeAPI) PauseSession(_ context.Context, id int64) (domain.Session, error) {
	if err := f.begin(); err != nil {
		return domain.Session{}, err
	}
	return f.setStatus(id, domain.StatusActive, domain.StatusPaused)
}

func (f *fakeAPI) ResumeSession(_ context.Context, id int64) (domain.Session, error) {
	if err := f.begin(); err != nil {
		return domain.Session{}, err
	}
	return f.setStatus(id, domain.StatusPaused, domain.StatusActive)
}

func (f *fakeAPI) CompleteSession(_ context.Context, id int64, _ bool) (engine.CompletedSession, error) {
	if err := f.begin(); err != nil {
		return engine.CompletedSession{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return engine.CompletedSession{}, engine.ErrSessionNotFound
	}
	if f.holdOnComplete {
		return engine.CompletedSession{Session: s}, nil
	}
	if !s.Live() {
		return engine.CompletedSession{}, engine.ErrConflict
	}
	s.Status = domain.StatusCompleted
	s.ActualDurationMinutes = lo.ToPtr(s.DurationMinutes)
	f.sessions[id] = s
	return engine.CompletedSession{Session: s, Award: f.awards[id]}, nil
}

func (f *fakeAPI) CancelSession(_ context.Context, id int64) error {
	if err := f.begin(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return engine.ErrSessionNotFound
	}
	if !s.Live() {
		return engine.ErrConflict
	}
	s.Status = domain.StatusCancelled
	f.sessions[id] = s
	return nil
}

func (f *fakeAPI) ActiveSessions(context.Context) ([]domain.Session, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(lo.Values(f.sessions), func(s domain.Session, _ int) bool { return s.Live() }), nil
}

func (f *fakeAPI) SessionHistory(context.Context, int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(lo.Values(f.sessions), func(s domain.Session, _ int) bool { return !s.Live() }), nil
}

func (f *fakeAPI) Me(context.Context) (domain.PlayerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.me, nil
}

func (f *fakeAPI) CompleteTask(context.Context, int64) (domain.Award, error) {
	return domain.Award{XPEarned: 20}, nil
}

func (f *fakeAPI) CompleteSubtask(context.Context, int64) (domain.Award, error) {
	return domain.Award{XPEarned: 5}, nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	API    *fakeAPI
	Engine *engine.Engine
	Queue  *notify.Queue
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(serverStart.Add(-2 * time.Second))
	api := newFakeAPI()
	queue := notify.New(notify.NewOverlays(), notify.Options{Clock: mock})
	t.Cleanup(queue.Close)
	eng := engine.New(api, registry.New(), queue, config.Default())
	eng.Time = timesource.New(mock)
	return testEnv{API: api, Engine: eng, Queue: queue, Ctx: context.Background()}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.API.awards[7] = domain.Award{XPEarned: 50}
	env.Engine.SetPlayer(domain.PlayerStats{XP: 420, Level: 3})

	sess, err := env.Engine.Start(env.Ctx, engine.StartOptions{TaskID: lo.ToPtr(int64(42)), DurationMinutes: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sess.ID)

	found, ok := env.Engine.Registry.FindByTaskID(42)
	require.True(t, ok)
	assert.Equal(t, int64(7), found.ID)
	assert.Equal(t, domain.StatusActive, found.Status)
	assert.Equal(t, serverStart, found.StartedAt, "start time comes from the server")

	_, err = env.Engine.Pause(env.Ctx, 7)
	require.NoError(t, err)
	found, _ = env.Engine.Registry.Get(7)
	assert.Equal(t, domain.StatusPaused, found.Status)
	require.NotNil(t, found.PausedAt)

	_, err = env.Engine.Resume(env.Ctx, 7)
	require.NoError(t, err)
	found, _ = env.Engine.Registry.Get(7)
	assert.Equal(t, domain.StatusActive, found.Status)
	assert.Equal(t, 60, found.TotalPauseSeconds)

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)
	assert.False(t, out.AlreadyCompleted)
	require.Len(t, out.Events, 1)
	assert.Equal(t, domain.TargetPlayer, out.Events[0].Target)
	assert.Equal(t, 50, out.Events[0].Amount)
	assert.Equal(t, 420, out.Events[0].CurrentXP)

	assert.Equal(t, 0, env.Engine.Registry.Len())
	_, ok = env.Engine.Registry.FindByTaskID(42)
	assert.False(t, ok)
	assert.Equal(t, 1, env.Queue.Len())

	player, _ := env.Engine.Player()
	assert.Equal(t, domain.PlayerStats{XP: 470, Level: 3}, player)
}

func TestStartRejectsDurationOutsideBounds(t *testing.T) {
	env := newTestEnv(t)
	for _, minutes := range []int{0, -5, 181} {
		_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: minutes})
		assert.ErrorIs(t, err, engine.ErrInvalidDuration, "minutes=%d", minutes)
	}
	assert.Equal(t, 0, env.API.callCount())
	assert.Equal(t, 0, env.Engine.Registry.Len())
}

func TestFailedStartLeavesRegistryUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.API.failNext = errors.New("network down")

	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Equal(t, 0, env.Engine.Registry.Len())
}

func TestFailedPauseKeepsLastKnownState(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)

	env.API.failNext = errors.New("timeout")
	_, err = env.Engine.Pause(env.Ctx, 7)
	require.Error(t, err)

	s, ok := env.Engine.Registry.Get(7)
	require.True(t, ok)
	assert.Equal(t, domain.StatusActive, s.Status)
}

func TestConflictResyncsFromServer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)

	// Another device paused it.
	_, err = env.API.setStatus(7, domain.StatusActive, domain.StatusPaused)
	require.NoError(t, err)

	_, err = env.Engine.Pause(env.Ctx, 7)
	require.ErrorIs(t, err, engine.ErrConflict)

	s, ok := env.Engine.Registry.Get(7)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPaused, s.Status)
}

func TestCompleteTwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.API.awards[7] = domain.Award{XPEarned: 50}
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)

	_, err = env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)
	require.Equal(t, 1, env.Queue.Len())

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)
	assert.True(t, out.AlreadyCompleted)
	assert.Empty(t, out.Events)
	assert.Equal(t, 1, env.Queue.Len())
}

func TestCompleteConflictKeepsSessionTheServerStillHolds(t *testing.T) {
	env := newTestEnv(t)
	env.API.awards[7] = domain.Award{XPEarned: 50}
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{TaskID: lo.ToPtr(int64(42)), DurationMinutes: 25})
	require.NoError(t, err)

	// Another device paused it, and the server refuses the completion.
	_, err = env.API.setStatus(7, domain.StatusActive, domain.StatusPaused)
	require.NoError(t, err)
	env.API.failNext = fmt.Errorf("%w: session is paused", engine.ErrConflict)

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.ErrorIs(t, err, engine.ErrConflict)
	assert.False(t, out.AlreadyCompleted)
	assert.Empty(t, out.Events)

	found, ok := env.Engine.Registry.FindByTaskID(42)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPaused, found.Status)
	assert.Equal(t, 0, env.Queue.Len())

	_, action, err := env.Engine.FocusTask(env.Ctx, 42, 25)
	require.NoError(t, err)
	assert.Equal(t, engine.FocusResumed, action)
	assert.Equal(t, 1, env.Engine.Registry.Len())
}

func TestCompleteAnsweredWithLiveSessionKeepsIt(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{TaskID: lo.ToPtr(int64(42)), DurationMinutes: 25})
	require.NoError(t, err)
	_, err = env.API.setStatus(7, domain.StatusActive, domain.StatusPaused)
	require.NoError(t, err)
	env.API.holdOnComplete = true

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.ErrorIs(t, err, engine.ErrConflict)
	assert.False(t, out.AlreadyCompleted)

	found, ok := env.Engine.Registry.FindByTaskID(42)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPaused, found.Status, "the server's copy replaces the local one")
	assert.Equal(t, 0, env.Queue.Len())
}

func TestCompleteAnsweredWithEndedSessionIsAlreadyCompleted(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)
	env.API.mu.Lock()
	s := env.API.sessions[7]
	s.Status = domain.StatusCancelled
	env.API.sessions[7] = s
	env.API.holdOnComplete = true
	env.API.mu.Unlock()

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)
	assert.True(t, out.AlreadyCompleted)
	assert.Equal(t, 0, env.Engine.Registry.Len())
}

func TestAwardsBeforePlayerLoadStayCapped(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		evs := env.Engine.ApplyAward(env.Ctx, domain.Award{XPEarned: 50}, engine.SourceTask)
		require.Len(t, evs, 1)
		assert.Equal(t, 0, evs[0].CurrentXP, "award %d", i)
		assert.Equal(t, 100.0, evs[0].FromPercent, "award %d", i)
		assert.Equal(t, 100.0, evs[0].ToPercent, "award %d", i)
	}
	player, known := env.Engine.Player()
	assert.False(t, known)
	assert.Equal(t, domain.PlayerStats{}, player)

	env.Engine.SetPlayer(domain.PlayerStats{XP: 120, Level: 2})
	evs := env.Engine.ApplyAward(env.Ctx, domain.Award{XPEarned: 30}, engine.SourceTask)
	require.Len(t, evs, 1)
	assert.Equal(t, 120, evs[0].CurrentXP)
	player, _ = env.Engine.Player()
	assert.Equal(t, 150, player.XP)
}

func TestCancelNeverAwardsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.API.awards[7] = domain.Award{XPEarned: 50}
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{TaskID: lo.ToPtr(int64(42)), DurationMinutes: 25})
	require.NoError(t, err)

	require.NoError(t, env.Engine.Cancel(env.Ctx, 7))
	require.NoError(t, env.Engine.Cancel(env.Ctx, 7))
	assert.Equal(t, 0, env.Engine.Registry.Len())
	assert.Equal(t, 0, env.Queue.Len())
}

func TestCompanionAwardQueuesPlayerThenCard(t *testing.T) {
	env := newTestEnv(t)
	env.API.awards[7] = domain.Award{
		XPEarned: 50,
		Companion: &domain.CompanionAward{
			CardID: 3, Name: "Owl", XPEarned: 30, CardXP: 80, CardXPForNext: 100, Level: 2, LevelUp: true,
		},
	}
	env.Engine.SetPlayer(domain.PlayerStats{XP: 120, Level: 2})
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)

	out, err := env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, out.Events, 2)

	items := env.Queue.Items()
	require.Len(t, items, 2)
	assert.Equal(t, domain.TargetPlayer, items[0].Target)
	assert.Equal(t, domain.TargetCompanion, items[1].Target)
	assert.InDelta(t, 50, items[1].FromPercent, 1e-9)
	assert.Equal(t, 100.0, items[1].ToPercent)
}

func TestConcurrentTransitionOnSameSessionIsBusy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{DurationMinutes: 25})
	require.NoError(t, err)

	env.API.mu.Lock()
	env.API.entered = make(chan struct{}, 1)
	env.API.block = make(chan struct{})
	env.API.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := env.Engine.Pause(env.Ctx, 7)
		done <- err
	}()
	<-env.API.entered

	_, err = env.Engine.Resume(env.Ctx, 7)
	assert.ErrorIs(t, err, engine.ErrBusy)
	err = env.Engine.Cancel(env.Ctx, 7)
	assert.ErrorIs(t, err, engine.ErrBusy)

	env.API.mu.Lock()
	env.API.entered = nil
	close(env.API.block)
	env.API.block = nil
	env.API.mu.Unlock()
	require.NoError(t, <-done)
}

func TestFocusTask(t *testing.T) {
	env := newTestEnv(t)

	sess, action, err := env.Engine.FocusTask(env.Ctx, 42, 25)
	require.NoError(t, err)
	assert.Equal(t, engine.FocusStarted, action)

	again, action, err := env.Engine.FocusTask(env.Ctx, 42, 25)
	require.NoError(t, err)
	assert.Equal(t, engine.FocusRunning, action)
	assert.Equal(t, sess.ID, again.ID)

	_, err = env.Engine.Pause(env.Ctx, sess.ID)
	require.NoError(t, err)
	resumed, action, err := env.Engine.FocusTask(env.Ctx, 42, 25)
	require.NoError(t, err)
	assert.Equal(t, engine.FocusResumed, action)
	assert.Equal(t, domain.StatusActive, resumed.Status)
	assert.Equal(t, 1, env.Engine.Registry.Len())
}

func TestReconcileReplacesRegistry(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Registry.Upsert(domain.Session{ID: 99, Status: domain.StatusActive, StartedAt: serverStart})
	env.API.sessions[3] = domain.Session{ID: 3, Status: domain.StatusPaused, StartedAt: serverStart}
	env.API.sessions[4] = domain.Session{ID: 4, Status: domain.StatusCompleted, StartedAt: serverStart}

	require.NoError(t, env.Engine.Reconcile(env.Ctx))
	all := env.Engine.Registry.All()
	require.Len(t, all, 1)
	assert.Equal(t, int64(3), all[0].ID)

	env.API.failNext = errors.New("offline")
	require.Error(t, env.Engine.Reconcile(env.Ctx))
	assert.Equal(t, 1, env.Engine.Registry.Len())
}

func TestTaskAwardsAndPlayerRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.API.me = domain.PlayerStats{UserID: 1, XP: 90, Level: 1}

	stats, err := env.Engine.RefreshPlayer(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, stats.XP)

	evs, err := env.Engine.CompleteTask(env.Ctx, 42)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, engine.SourceTask, evs[0].Source)
	assert.Equal(t, 100.0, evs[0].ToPercent)

	evs, err = env.Engine.CompleteSubtask(env.Ctx, 43)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 110, evs[0].CurrentXP)
	assert.Equal(t, 2, evs[0].Level)

	env.Engine.Reset()
	_, known := env.Engine.Player()
	assert.False(t, known)
	assert.Equal(t, 0, env.Queue.Len())
}

func TestTransitionsAreJournaled(t *testing.T) {
	env := newTestEnv(t)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(env.Ctx, conn)
	require.NoError(t, err)
	env.Engine.Journal = events.Writer{DB: conn}
	env.API.awards[7] = domain.Award{XPEarned: 10}

	_, err = env.Engine.Start(env.Ctx, engine.StartOptions{TaskID: lo.ToPtr(int64(42)), DurationMinutes: 25})
	require.NoError(t, err)
	_, err = env.Engine.Pause(env.Ctx, 7)
	require.NoError(t, err)
	_, err = env.Engine.Complete(env.Ctx, 7, false)
	require.NoError(t, err)

	entries, err := repo.Repo{DB: conn}.EntriesAfter(env.Ctx, 10, 0, repo.EntryFilters{})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{events.SessionStarted, events.SessionPaused, events.SessionCompleted, events.XPAwarded},
		lo.Map(entries, func(e domain.JournalEntry, _ int) string { return e.Type }),
	)
	require.NotNil(t, entries[0].TaskID)
	assert.Equal(t, int64(42), *entries[0].TaskID)
}
