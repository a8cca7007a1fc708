package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusquest/internal/db"
	"focusquest/internal/domain"
	"focusquest/internal/events"
	"focusquest/internal/migrate"
)

func openJournal(t *testing.T) (*sql.DB, events.Writer) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return conn, events.Writer{DB: conn, Now: func() time.Time { return ts }}
}

func ids(entries []domain.JournalEntry) []int64 {
	return lo.Map(entries, func(e domain.JournalEntry, _ int) int64 { return e.ID })
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, w := openJournal(t)
	r := Repo{DB: conn}

	require.NoError(t, w.Record(ctx, events.SessionStarted, lo.ToPtr(int64(7)), lo.ToPtr(int64(42)), events.EventPayload{"duration_minutes": 25}))
	require.NoError(t, w.Record(ctx, events.SessionPaused, lo.ToPtr(int64(7)), nil, nil))
	require.NoError(t, w.Record(ctx, events.XPAwarded, nil, nil, events.EventPayload{"amount": 50}))

	e, err := r.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, events.SessionStarted, e.Type)
	assert.Equal(t, "2026-03-01T09:00:00Z", e.TS)
	require.NotNil(t, e.SessionID)
	assert.Equal(t, int64(7), *e.SessionID)
	require.NotNil(t, e.TaskID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.Payload), &payload))
	assert.Equal(t, float64(25), payload["duration_minutes"])

	_, err = r.GetEntry(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	last, err := r.LatestEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestJournalPagination(t *testing.T) {
	ctx := context.Background()
	conn, w := openJournal(t)
	r := Repo{DB: conn}
	for i := int64(1); i <= 5; i++ {
		typ := events.SessionPaused
		if i%2 == 1 {
			typ = events.SessionResumed
		}
		require.NoError(t, w.Record(ctx, typ, lo.ToPtr(i%2+1), nil, nil))
	}

	page, err := r.LatestEntries(ctx, 2, EntryFilters{})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, ids(page))

	page, err = r.LatestEntriesFrom(ctx, 2, 4, EntryFilters{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ids(page))

	page, err = r.LatestEntries(ctx, 10, EntryFilters{Type: events.SessionResumed})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 3, 1}, ids(page))

	page, err = r.EntriesAfter(ctx, 10, 3, EntryFilters{SessionID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(page))

	counts, err := r.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{events.SessionResumed: 3, events.SessionPaused: 2}, counts)
}

func TestLatestEntryIDOnEmptyJournal(t *testing.T) {
	conn, _ := openJournal(t)
	id, err := Repo{DB: conn}.LatestEntryID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}
