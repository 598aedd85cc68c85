package audiometa

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_UndecodableMP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not really an mp3"), 0o644))

	info, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, int64(len("not really an mp3")), info.Size)
	assert.Empty(t, info.Title)
	assert.Zero(t, info.Duration)
}

func TestRead_NonMP3SkipsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	info, err := Read(path)
	require.NoError(t, err)
	assert.Zero(t, info.Duration)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.mp3"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Read(t.TempDir())
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "", FormatDuration(0))
	assert.Equal(t, "00:45:12", FormatDuration(45*time.Minute+12*time.Second))
	assert.Equal(t, "01:02:03", FormatDuration(time.Hour+2*time.Minute+3*time.Second+400*time.Millisecond))
}
