package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrTooLarge is returned when the body exceeds Options.MaxSize
	ErrTooLarge = errors.New("download exceeds maximum size")

	// ErrIncomplete is returned when fewer bytes arrive than Content-Length announced
	ErrIncomplete = errors.New("download incomplete")

	// ErrContentType is returned when ValidateAudio rejects the response
	ErrContentType = errors.New("unexpected content type")
)

// partSuffix marks in-flight downloads so orphans can be swept later
const partSuffix = ".part"

// Options configures the download behavior
type Options struct {
	TempDir       string        // Directory for in-flight files; must share a filesystem with the destination
	ChunkSize     int           // Copy buffer size in bytes
	MaxSize       int64         // Maximum file size in bytes (0 = no limit)
	Timeout       time.Duration // Whole-transfer timeout
	ProgressFunc  ProgressFunc  // Optional progress callback
	UserAgent     string        // User agent string
	ValidateAudio bool          // Validate content-type is audio
	Logger        *slog.Logger
}

// ProgressFunc is called during download to report progress. It is only
// called when the total size is known.
type ProgressFunc func(downloaded, total int64)

// DefaultOptions returns default download options
func DefaultOptions() Options {
	return Options{
		TempDir:   os.TempDir(),
		ChunkSize: 8192,
		MaxSize:   1 << 30,
		Timeout:   10 * time.Minute,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Result describes a finished download
type Result struct {
	Path          string // Final destination path
	BytesWritten  int64
	ContentType   string
	ContentLength int64 // -1 when the server did not announce one
}

// StatusError is a non-2xx response from the audio host
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for %s", e.StatusCode, e.URL)
}

// Downloader streams audio files to their final location
type Downloader struct {
	client  *http.Client
	options Options
	log     *slog.Logger
}

// NewDownloader creates a new downloader with the given options
func NewDownloader(options Options) *Downloader {
	if options.ChunkSize <= 0 {
		options.ChunkSize = 8192
	}
	if options.TempDir == "" {
		options.TempDir = os.TempDir()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		client: &http.Client{
			Timeout: options.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true, // Don't compress audio
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		options: options,
		log:     logger,
	}
}

// CallOption overrides options for a single Download call
type CallOption func(*Options)

// InTempDir places the in-flight file in dir
func InTempDir(dir string) CallOption {
	return func(o *Options) {
		o.TempDir = dir
	}
}

// OnProgress reports progress for this call only
func OnProgress(fn ProgressFunc) CallOption {
	return func(o *Options) {
		o.ProgressFunc = fn
	}
}

// Download fetches url into destPath. Bytes go to a .part file in TempDir
// which is synced and renamed over destPath only after the whole body has
// arrived, so destPath either holds a complete file or is untouched.
func (d *Downloader) Download(ctx context.Context, url, destPath string, opts ...CallOption) (*Result, error) {
	options := d.options
	for _, opt := range opts {
		opt(&options)
	}

	d.log.Debug("starting download", "url", url, "dest", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", options.UserAgent)
	req.Header.Set("Accept", "audio/*,*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if options.ValidateAudio && !isAudioContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrContentType, contentType)
	}

	contentLength := resp.ContentLength
	if options.MaxSize > 0 && contentLength > options.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, contentLength, options.MaxSize)
	}

	tempFile, err := createTempFile(options.TempDir, destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	written, err := copyToFile(resp.Body, tempFile, contentLength, options)
	if err == nil {
		err = tempFile.Sync()
	}
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil && contentLength >= 0 && written != contentLength {
		err = fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, written, contentLength)
	}
	if err == nil {
		err = os.Rename(tempPath, destPath)
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("failed to download: %w", err)
	}

	d.log.Debug("download finished", "bytes", written, "dest", destPath)

	return &Result{
		Path:          destPath,
		BytesWritten:  written,
		ContentType:   contentType,
		ContentLength: contentLength,
	}, nil
}

// createTempFile creates the in-flight file next to other run artifacts
func createTempFile(dir, destPath string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	pattern := "." + filepath.Base(destPath) + "-*" + partSuffix
	return os.CreateTemp(dir, pattern)
}

// copyToFile streams src to dst in ChunkSize pieces, enforcing MaxSize
func copyToFile(src io.Reader, dst *os.File, totalSize int64, options Options) (int64, error) {
	reader := src
	if options.ProgressFunc != nil && totalSize > 0 {
		reader = &progressReader{
			reader:   src,
			total:    totalSize,
			callback: options.ProgressFunc,
		}
	}

	if options.MaxSize > 0 {
		// one byte past the limit tells "exactly MaxSize" apart from "too big"
		reader = io.LimitReader(reader, options.MaxSize+1)
	}

	chunk := options.ChunkSize
	if chunk <= 0 {
		chunk = 8192
	}
	buf := make([]byte, chunk)
	written, err := io.CopyBuffer(onlyWriter{dst}, reader, buf)
	if err != nil {
		return written, err
	}
	if options.MaxSize > 0 && written > options.MaxSize {
		return written, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, options.MaxSize)
	}
	return written, nil
}

// onlyWriter hides ReadFrom so CopyBuffer actually uses the chunk buffer
type onlyWriter struct {
	io.Writer
}

// CleanupOldTempFiles removes .part files older than maxAge under dir,
// left behind by interrupted runs. It returns how many were removed.
func CleanupOldTempFiles(dir string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partSuffix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})

	if removed > 0 {
		slog.Debug("cleaned up old partial downloads", "count", removed, "dir", dir)
	}
	return removed, err
}

// PercentSteps adapts fn into a ProgressFunc that fires once per step
// percent, with strictly increasing values.
func PercentSteps(step int, fn func(percent int)) ProgressFunc {
	if step <= 0 {
		step = 10
	}
	last := 0
	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		pct := int(downloaded * 100 / total)
		if pct > 100 {
			pct = 100
		}
		pct -= pct % step
		if pct > last {
			last = pct
			fn(pct)
		}
	}
}

// isAudioContentType checks if content type is audio
func isAudioContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.HasPrefix(contentType, "audio/") ||
		strings.HasPrefix(contentType, "application/octet-stream") || // Some servers use this for audio
		strings.HasPrefix(contentType, "binary/octet-stream")
}

// progressReader wraps a reader to report progress
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	callback   ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		pr.callback(pr.downloaded, pr.total)
	}
	return n, err
}
