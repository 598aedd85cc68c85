package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/killallgit/episode-harvester/pkg/download"
)

// DirName is the hidden directory under the output dir holding run dirs.
// Keeping it on the output filesystem makes the final rename atomic.
const DirName = ".harvester-tmp"

// Service hands out per-run temp directories and sweeps ones left behind
// by crashed runs
type Service struct {
	root   string
	maxAge time.Duration
	log    *slog.Logger
}

// NewService creates a cleanup service rooted under outputDir
func NewService(outputDir string, maxAge time.Duration) *Service {
	return &Service{
		root:   filepath.Join(outputDir, DirName),
		maxAge: maxAge,
		log:    slog.Default(),
	}
}

// Root returns the directory that holds run dirs
func (s *Service) Root() string {
	return s.root
}

// RunDir is a temp directory owned by a single pipeline run
type RunDir struct {
	ID   string
	Path string
}

// NewRunDir creates a fresh run directory named by a random run ID
func (s *Service) NewRunDir() (*RunDir, error) {
	id := uuid.NewString()
	path := filepath.Join(s.root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating run temp dir: %w", err)
	}
	s.log.Debug("created run temp dir", "run_id", id, "path", path)
	return &RunDir{ID: id, Path: path}, nil
}

// Remove deletes the run directory and everything in it
func (r *RunDir) Remove() error {
	if r == nil || r.Path == "" {
		return nil
	}
	if err := os.RemoveAll(r.Path); err != nil {
		return fmt.Errorf("removing run temp dir: %w", err)
	}
	return nil
}

// Sweep removes stale partial downloads and then any run dir older than
// maxAge. It returns the number of run dirs removed.
func (s *Service) Sweep() (int, error) {
	if _, err := download.CleanupOldTempFiles(s.root, s.maxAge); err != nil {
		s.log.Warn("partial download sweep failed", "error", err)
	}

	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading temp root: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("failed to remove stale run dir", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("removed stale run temp dirs", "count", removed)
	}
	return removed, nil
}
