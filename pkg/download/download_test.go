package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) Options {
	options := DefaultOptions()
	options.TempDir = filepath.Join(t.TempDir(), "tmp")
	options.Timeout = 5 * time.Second
	return options
}

func audioServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
}

func TestDefaultOptions(t *testing.T) {
	options := DefaultOptions()

	assert.Equal(t, 8192, options.ChunkSize)
	assert.Equal(t, int64(1<<30), options.MaxSize)
	assert.Equal(t, 10*time.Minute, options.Timeout)
	assert.False(t, options.ValidateAudio)
	assert.Contains(t, options.UserAgent, "Mozilla/5.0")
}

func TestNewDownloader_FillsZeroValues(t *testing.T) {
	downloader := NewDownloader(Options{})

	require.NotNil(t, downloader.client)
	assert.Equal(t, 8192, downloader.options.ChunkSize)
	assert.NotEmpty(t, downloader.options.TempDir)
}

func TestDownload_Success(t *testing.T) {
	audioData := strings.Repeat("audio-data", 2000)
	server := audioServer(audioData)
	defer server.Close()

	options := testOptions(t)
	options.ChunkSize = 512
	dest := filepath.Join(t.TempDir(), "show_ep.mp3")

	var calls int
	var last int64
	options.ProgressFunc = func(downloaded, total int64) {
		calls++
		assert.GreaterOrEqual(t, downloaded, last, "progress never goes backwards")
		assert.Equal(t, int64(len(audioData)), total)
		last = downloaded
	}

	result, err := NewDownloader(options).Download(context.Background(), server.URL+"/ep.mp3", dest)
	require.NoError(t, err)

	assert.Equal(t, dest, result.Path)
	assert.Equal(t, int64(len(audioData)), result.BytesWritten)
	assert.Equal(t, int64(len(audioData)), result.ContentLength)
	assert.Equal(t, "audio/mpeg", result.ContentType)
	assert.Greater(t, calls, 1)
	assert.Equal(t, int64(len(audioData)), last)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, audioData, string(content))

	parts, _ := filepath.Glob(filepath.Join(options.TempDir, "*"+partSuffix))
	assert.Empty(t, parts, "no partial file remains after success")
}

func TestDownload_NoContentLengthSkipsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("chunk-one"))
		flusher.Flush()
		_, _ = w.Write([]byte("chunk-two"))
	}))
	defer server.Close()

	options := testOptions(t)
	options.ProgressFunc = func(downloaded, total int64) {
		t.Errorf("unexpected progress callback %d/%d", downloaded, total)
	}
	dest := filepath.Join(t.TempDir(), "ep.mp3")

	result, err := NewDownloader(options).Download(context.Background(), server.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), result.ContentLength)
	assert.Equal(t, int64(len("chunk-onechunk-two")), result.BytesWritten)
}

func TestDownload_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "ep.mp3")
	_, err := NewDownloader(testOptions(t)).Download(context.Background(), server.URL, dest)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.NoFileExists(t, dest)
}

func TestDownload_TruncatedStreamLeavesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer server.Close()

	options := testOptions(t)
	dest := filepath.Join(t.TempDir(), "ep.mp3")

	_, err := NewDownloader(options).Download(context.Background(), server.URL, dest)
	require.Error(t, err)
	assert.NoFileExists(t, dest)

	parts, _ := filepath.Glob(filepath.Join(options.TempDir, "*"+partSuffix))
	assert.Empty(t, parts)
}

func TestDownload_TooLarge(t *testing.T) {
	server := audioServer(strings.Repeat("x", 2048))
	defer server.Close()

	options := testOptions(t)
	options.MaxSize = 1024
	dest := filepath.Join(t.TempDir(), "ep.mp3")

	_, err := NewDownloader(options).Download(context.Background(), server.URL, dest)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, dest)
}

func TestDownload_TooLargeWithoutContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	options := testOptions(t)
	options.MaxSize = 1024
	dest := filepath.Join(t.TempDir(), "ep.mp3")

	_, err := NewDownloader(options).Download(context.Background(), server.URL, dest)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, dest)
}

func TestDownload_InvalidContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not audio</html>"))
	}))
	defer server.Close()

	options := testOptions(t)
	options.ValidateAudio = true
	dest := filepath.Join(t.TempDir(), "ep.mp3")

	_, err := NewDownloader(options).Download(context.Background(), server.URL, dest)
	assert.ErrorIs(t, err, ErrContentType)
	assert.NoFileExists(t, dest)
}

func TestDownload_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "ep.mp3")
	_, err := NewDownloader(testOptions(t)).Download(ctx, server.URL, dest)
	assert.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestCleanupOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "run-1")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	oldPart := filepath.Join(nested, ".ep.mp3-123.part")
	newPart := filepath.Join(dir, ".ep2.mp3-456.part")
	keeper := filepath.Join(dir, "ep.mp3")
	for _, p := range []string{oldPart, newPart, keeper} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPart, past, past))
	require.NoError(t, os.Chtimes(keeper, past, past))

	removed, err := CleanupOldTempFiles(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldPart)
	assert.FileExists(t, newPart)
	assert.FileExists(t, keeper, "only partial downloads are swept")

	removed, err = CleanupOldTempFiles(filepath.Join(dir, "missing"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPercentSteps(t *testing.T) {
	var got []int
	progress := PercentSteps(10, func(percent int) { got = append(got, percent) })

	for _, n := range []int64{5, 12, 15, 31, 31, 99, 100} {
		progress(n, 100)
	}
	progress(10, 0)

	assert.Equal(t, []int{10, 30, 90, 100}, got)
}

func TestIsAudioContentType(t *testing.T) {
	assert.True(t, isAudioContentType("audio/mpeg"))
	assert.True(t, isAudioContentType("Audio/MP4"))
	assert.True(t, isAudioContentType("application/octet-stream"))
	assert.False(t, isAudioContentType("text/html; charset=utf-8"))
	assert.False(t, isAudioContentType(""))
}
