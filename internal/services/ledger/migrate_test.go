package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/pkg/config"
)

var migratedAt = time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)

func TestMigrate_CSVToSQLite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	from := Options{Backend: config.BackendCSV, Path: filepath.Join(dir, "ledger.csv")}
	to := Options{Backend: config.BackendSQLite, Path: filepath.Join(dir, "ledger.db")}

	src, err := Open(from)
	require.NoError(t, err)
	_, err = src.Upsert(ctx, "a/b/c", models.StatusProcessing, WithReference(testRef, "x.mp3"))
	require.NoError(t, err)
	_, err = src.Upsert(ctx, "a/b/c", models.StatusFailed, WithError("No audio URL found"))
	require.NoError(t, err)
	_, err = src.Upsert(ctx, "a/b/d", models.StatusCompleted, WithOutput("/out/y.mp3", 10, migratedAt))
	require.NoError(t, err)
	require.NoError(t, src.Close())

	n, err := Migrate(ctx, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, to.Path, "dry run writes nothing")

	n, err = Migrate(ctx, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst, err := Open(Options{Backend: config.BackendSQLite, Path: to.Path, ReadOnly: true})
	require.NoError(t, err)
	defer dst.Close()

	entry, err := dst.Get(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "No audio URL found", entry.Error)
	assert.Equal(t, "x.mp3", entry.MP3File)

	counts, err := dst.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusCompleted])
	assert.Equal(t, 1, counts[models.StatusFailed])
}

func TestMigrate_SamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	_, err := Migrate(context.Background(),
		Options{Backend: config.BackendCSV, Path: path},
		Options{Backend: config.BackendSQLite, Path: path}, false)
	assert.Error(t, err)
}
