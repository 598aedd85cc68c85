package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Columns is the ledger file header, in write order
var Columns = []string{
	"identity",
	"mp3_file",
	"status",
	"error",
	"output_path",
	"download_started_at",
	"download_finished_at",
	"file_size",
	"candidate_name",
	"podcast_title",
	"episode_title",
	"date_posted",
	"hyperlink",
	"audio_url",
	"title",
	"description",
	"duration",
	"extracted_at",
	"attempts",
	"updated_at",
}

// CSVStore keeps the ledger in memory and rewrites the whole file on every
// Put through a temp file and rename, so the file on disk is always complete.
type CSVStore struct {
	path     string
	readOnly bool

	mu      sync.RWMutex
	entries map[string]*models.LedgerEntry
	order   []string
	loaded  os.FileInfo // file as of the last load, nil if it did not exist
}

// Ensure CSVStore implements Store
var _ Store = (*CSVStore)(nil)

// NewCSVStore loads path, creating an empty ledger if it does not exist.
// The file is written once up front so an unwritable location fails here.
func NewCSVStore(path string) (*CSVStore, error) {
	s := &CSVStore{
		path:    path,
		entries: make(map[string]*models.LedgerEntry),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCSVStoreReadOnly loads path without writing it. A missing file reads
// as an empty ledger. Reads pick up whatever a writer in another process
// has renamed into place since the last read. Put still works but nothing
// guards concurrent writers.
func OpenCSVStoreReadOnly(path string) (*CSVStore, error) {
	s := &CSVStore{
		path:     path,
		readOnly: true,
		entries:  make(map[string]*models.LedgerEntry),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// refresh reloads a read-only store when the file on disk is no longer the
// one last loaded
func (s *CSVStore) refresh() error {
	if !s.readOnly {
		return nil
	}
	info, err := statLedger(s.path)
	if err != nil {
		return err
	}

	s.mu.RLock()
	current := sameFile(s.loaded, info)
	s.mu.RUnlock()
	if current {
		return nil
	}
	return s.reload()
}

func (s *CSVStore) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := statLedger(s.path)
	if err != nil {
		return err
	}
	s.entries = make(map[string]*models.LedgerEntry, len(s.entries))
	s.order = nil
	s.loaded = info
	return s.load()
}

func statLedger(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking ledger: %w", err)
	}
	return info, nil
}

// sameFile reports whether b is still the file a was. Writers replace the
// ledger by rename, so a new inode, size or mtime all mean new content.
func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func (s *CSVStore) Get(ctx context.Context, identity string) (*models.LedgerEntry, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[identity]
	if !ok {
		return nil, ErrEntryNotFound
	}
	clone := *entry
	return &clone, nil
}

func (s *CSVStore) Put(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.Identity == "" {
		return errors.New("ledger entry has no identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.entries[entry.Identity]
	clone := *entry
	s.entries[entry.Identity] = &clone
	if !existed {
		s.order = append(s.order, entry.Identity)
	}

	if err := s.flush(); err != nil {
		// keep memory consistent with disk
		if existed {
			s.entries[entry.Identity] = previous
		} else {
			delete(s.entries, entry.Identity)
			s.order = s.order[:len(s.order)-1]
		}
		return err
	}
	return nil
}

func (s *CSVStore) List(ctx context.Context, statuses ...models.Status) ([]models.LedgerEntry, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.LedgerEntry, 0, len(s.order))
	for _, id := range s.order {
		entry := s.entries[id]
		if matchesStatus(entry.Status, statuses) {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (s *CSVStore) Close() error {
	return nil
}

func matchesStatus(status models.Status, statuses []models.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if status == want {
			return true
		}
	}
	return false
}

// load reads the ledger by header name. Unknown columns are ignored and
// missing ones read as empty. Files without an identity column fall back to
// mp3_file as the key.
func (s *CSVStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading ledger header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(record) {
				return record[i]
			}
			return ""
		}

		entry := decodeEntry(get)
		if entry.Identity == "" {
			entry.Identity = entry.MP3File
		}
		if entry.Identity == "" {
			continue
		}
		if _, seen := s.entries[entry.Identity]; !seen {
			s.order = append(s.order, entry.Identity)
		}
		s.entries[entry.Identity] = entry
	}

	return nil
}

// flush writes every entry to a sibling temp file, syncs it and renames it
// over the ledger. Callers hold s.mu.
func (s *CSVStore) flush() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating ledger temp file: %w", err)
	}
	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)
	err = writer.Write(Columns)
	for _, id := range s.order {
		if err != nil {
			break
		}
		err = writer.Write(encodeEntry(s.entries[id]))
	}
	if err == nil {
		writer.Flush()
		err = writer.Error()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, s.path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

func encodeEntry(e *models.LedgerEntry) []string {
	return []string{
		e.Identity,
		e.MP3File,
		string(e.Status),
		e.Error,
		e.OutputPath,
		formatTime(e.DownloadStartedAt),
		formatTime(e.DownloadFinishedAt),
		strconv.FormatInt(e.FileSize, 10),
		e.CandidateName,
		e.PodcastTitle,
		e.EpisodeTitle,
		e.DatePosted,
		e.Hyperlink,
		e.AudioURL,
		e.Title,
		e.Description,
		e.Duration,
		formatTime(e.ExtractedAt),
		strconv.Itoa(e.Attempts),
		formatTime(&e.UpdatedAt),
	}
}

func decodeEntry(get func(string) string) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		Identity:           strings.TrimSpace(get("identity")),
		MP3File:            strings.TrimSpace(get("mp3_file")),
		Status:             models.Status(strings.ToLower(strings.TrimSpace(get("status")))),
		Error:              get("error"),
		OutputPath:         get("output_path"),
		DownloadStartedAt:  parseTime(get("download_started_at")),
		DownloadFinishedAt: parseTime(get("download_finished_at")),
		CandidateName:      get("candidate_name"),
		PodcastTitle:       get("podcast_title"),
		EpisodeTitle:       get("episode_title"),
		DatePosted:         get("date_posted"),
		Hyperlink:          get("hyperlink"),
		AudioURL:           get("audio_url"),
		Title:              get("title"),
		Description:        get("description"),
		Duration:           get("duration"),
		ExtractedAt:        parseTime(get("extracted_at")),
	}
	if !entry.Status.Valid() {
		entry.Status = models.StatusPending
	}
	entry.FileSize, _ = strconv.ParseInt(strings.TrimSpace(get("file_size")), 10, 64)
	entry.Attempts, _ = strconv.Atoi(strings.TrimSpace(get("attempts")))
	if t := parseTime(get("updated_at")); t != nil {
		entry.UpdatedAt = *t
	}
	return entry
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and the space-separated form older ledgers used
func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
