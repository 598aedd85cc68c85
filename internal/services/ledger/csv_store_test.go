package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/episode-harvester/internal/models"
)

func TestCSVStore_PersistsEveryPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode_metadata.csv")
	ctx := context.Background()

	store, err := NewCSVStore(path)
	require.NoError(t, err)
	assert.FileExists(t, path, "an empty ledger is written on open")

	started := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	entry := &models.LedgerEntry{
		Identity:          "jane/show/ep",
		MP3File:           "src_jane_show_20240305.mp3",
		Status:            models.StatusFailed,
		Error:             "Download error: unexpected EOF, retry later",
		DownloadStartedAt: &started,
		Description:       "line one\nline two",
		Attempts:          2,
		UpdatedAt:         started,
	}
	require.NoError(t, store.Put(ctx, entry))

	// a fresh store sees the write without any explicit flush or close
	reloaded, err := NewCSVStore(path)
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, "jane/show/ep")
	require.NoError(t, err)
	assert.Equal(t, entry.Error, got.Error)
	assert.Equal(t, entry.Description, got.Description)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.DownloadStartedAt)
	assert.True(t, started.Equal(*got.DownloadStartedAt))
	assert.True(t, started.Equal(got.UpdatedAt))

	_, err = reloaded.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCSVStore_BackfillsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.csv")
	legacy := "\ufeffmp3_file,status,error,output_path,file_size,extra\n" +
		"src_a_b_20240305.mp3,completed,,/out/src_a_b_20240305.mp3,1234,ignored\n" +
		"src_c_d_20240306.mp3,FAILED,No audio URL found,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := NewCSVStore(path)
	require.NoError(t, err)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "src_a_b_20240305.mp3", entries[0].Identity, "mp3_file keys rows when identity is absent")
	assert.Equal(t, models.StatusCompleted, entries[0].Status)
	assert.Equal(t, int64(1234), entries[0].FileSize)
	assert.Empty(t, entries[0].Title)
	assert.Equal(t, models.StatusFailed, entries[1].Status)

	// the rewrite on open upgrades the header
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	require.NoError(t, err)
	assert.Equal(t, Columns, header)
}

func TestCSVStore_ListFiltersAndKeepsOrder(t *testing.T) {
	store, err := NewCSVStore(filepath.Join(t.TempDir(), "ledger.csv"))
	require.NoError(t, err)
	ctx := context.Background()

	for _, e := range []models.LedgerEntry{
		{Identity: "z", Status: models.StatusFailed},
		{Identity: "a", Status: models.StatusCompleted},
		{Identity: "m", Status: models.StatusFailed},
	} {
		e := e
		require.NoError(t, store.Put(ctx, &e))
	}

	failed, err := store.List(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "z", failed[0].Identity)
	assert.Equal(t, "m", failed[1].Identity)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCSVStore_UnwritableLocation(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewCSVStore(filepath.Join(blocker, "ledger.csv"))
	assert.Error(t, err)
}

func TestCSVStore_ReadOnlyDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")

	store, err := OpenCSVStoreReadOnly(path)
	require.NoError(t, err)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoFileExists(t, path)
}
