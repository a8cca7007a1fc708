package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusquest/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	applied, err := Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_journal.sql", "0002_journal_indexes.sql"}, applied)

	applied, err = Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, applied)

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = conn.Exec(`INSERT INTO journal(ts,type) VALUES ('2026-03-01T09:00:00Z','session.started')`)
	require.NoError(t, err)
}

func TestMigrationsAreOrdered(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}
