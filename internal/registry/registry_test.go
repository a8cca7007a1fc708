package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusquest/internal/domain"
)

func session(id int64, taskID *int64, status domain.SessionStatus) domain.Session {
	return domain.Session{
		ID:              id,
		TaskID:          taskID,
		DurationMinutes: 25,
		Status:          status,
		StartedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestUpsertExposesFirstSessionAsCurrent(t *testing.T) {
	r := New()
	_, ok := r.Current()
	assert.False(t, ok)

	r.Upsert(session(7, lo.ToPtr(int64(42)), domain.StatusActive))
	r.Upsert(session(9, nil, domain.StatusActive))

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, int64(7), cur.ID)
	assert.Equal(t, 2, r.Len())

	r.Upsert(session(7, lo.ToPtr(int64(42)), domain.StatusPaused))
	cur, _ = r.Current()
	assert.Equal(t, domain.StatusPaused, cur.Status)
	assert.Equal(t, 2, r.Len(), "replace by id never duplicates")
}

func TestRemoveFallsBackToRemainingSession(t *testing.T) {
	r := New()
	r.Upsert(session(7, nil, domain.StatusActive))
	r.Upsert(session(12, nil, domain.StatusActive))
	r.Upsert(session(9, nil, domain.StatusPaused))

	assert.True(t, r.Remove(7))
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, int64(9), cur.ID)

	assert.False(t, r.Remove(7))
	r.Remove(9)
	r.Remove(12)
	_, ok = r.Current()
	assert.False(t, ok)
}

func TestUpsertOfEndedSessionRemovesIt(t *testing.T) {
	r := New()
	r.Upsert(session(7, lo.ToPtr(int64(42)), domain.StatusActive))
	r.Upsert(session(7, lo.ToPtr(int64(42)), domain.StatusCompleted))

	_, ok := r.Get(7)
	assert.False(t, ok)
	_, ok = r.FindByTaskID(42)
	assert.False(t, ok)
}

func TestFindByTaskIDMatchesOnlyLiveSessions(t *testing.T) {
	r := New()
	r.Upsert(session(1, lo.ToPtr(int64(42)), domain.StatusActive))
	r.Upsert(session(2, lo.ToPtr(int64(43)), domain.StatusPaused))
	r.Upsert(session(3, nil, domain.StatusActive))

	for _, tc := range []struct {
		task   int64
		wantID int64
		found  bool
	}{
		{42, 1, true},
		{43, 2, true},
		{44, 0, false},
	} {
		got, ok := r.FindByTaskID(tc.task)
		assert.Equal(t, tc.found, ok, "task %d", tc.task)
		if tc.found {
			assert.Equal(t, tc.wantID, got.ID)
		}
	}

	r.Remove(1)
	_, ok := r.FindByTaskID(42)
	assert.False(t, ok)
}

func TestReplaceAllKeepsCurrentWhenStillLive(t *testing.T) {
	r := New()
	r.Upsert(session(5, nil, domain.StatusActive))
	r.Upsert(session(6, nil, domain.StatusActive))

	r.ReplaceAll([]domain.Session{
		session(6, nil, domain.StatusActive),
		session(5, nil, domain.StatusPaused),
		session(8, nil, domain.StatusCancelled),
	})
	cur, _ := r.Current()
	assert.Equal(t, int64(5), cur.ID)
	assert.Equal(t, []int64{5, 6}, lo.Map(r.All(), func(s domain.Session, _ int) int64 { return s.ID }))

	r.ReplaceAll([]domain.Session{session(11, nil, domain.StatusActive)})
	cur, _ = r.Current()
	assert.Equal(t, int64(11), cur.ID)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	r := New()
	var snaps []Snapshot
	cancel := r.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

	r.Upsert(session(7, nil, domain.StatusActive))
	r.Remove(7)
	cancel()
	r.Upsert(session(8, nil, domain.StatusActive))

	require.Len(t, snaps, 2)
	require.NotNil(t, snaps[0].Current)
	assert.Equal(t, int64(7), snaps[0].Current.ID)
	assert.Nil(t, snaps[1].Current)
	assert.Empty(t, snaps[1].Sessions)
}

func TestResetClearsEverything(t *testing.T) {
	r := New()
	r.Upsert(session(7, nil, domain.StatusActive))
	r.Reset()
	assert.Equal(t, 0, r.Len())
	_, ok := r.Current()
	assert.False(t, ok)
}

func TestConcurrentWritersNotifyInWriteOrder(t *testing.T) {
	r := New()
	var mu sync.Mutex
	var last Snapshot
	r.Subscribe(func(s Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := int64(1); i <= 40; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Upsert(session(id, nil, domain.StatusActive))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, last.Sessions, 40, "the last notification carries every write")
	assert.Equal(t, r.Snapshot(), last)
}
