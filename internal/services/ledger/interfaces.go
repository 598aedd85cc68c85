package ledger

import (
	"context"
	"time"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Store persists ledger entries. Every Put must be durable before it returns.
type Store interface {
	Get(ctx context.Context, identity string) (*models.LedgerEntry, error)
	Put(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, statuses ...models.Status) ([]models.LedgerEntry, error)
	Close() error
}

// Service defines the ledger operations the pipeline and API depend on
type Service interface {
	// Upsert applies a status transition for identity under the merge policy
	// and returns the entry as stored.
	Upsert(ctx context.Context, identity string, status models.Status, opts ...UpsertOption) (*models.LedgerEntry, error)

	Get(ctx context.Context, identity string) (*models.LedgerEntry, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.LedgerEntry, error)
	List(ctx context.Context) ([]models.LedgerEntry, error)
	Summary(ctx context.Context) (Counts, error)

	Close() error
}

// Counts is the number of entries per status
type Counts map[models.Status]int

// Total sums all statuses
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// UpsertOption is a functional option for an upsert
type UpsertOption func(*upsertConfig)

type upsertConfig struct {
	patch     models.LedgerEntry
	reattempt bool
}

// WithReattempt marks the write as part of an explicit re-attempt, which is
// allowed to move a completed entry to another status.
func WithReattempt() UpsertOption {
	return func(cfg *upsertConfig) {
		cfg.reattempt = true
	}
}

// WithError records a human-readable failure message
func WithError(msg string) UpsertOption {
	return func(cfg *upsertConfig) {
		cfg.patch.Error = msg
	}
}

// WithReference copies the catalog fields and canonical file name
func WithReference(ref models.EpisodeReference, mp3File string) UpsertOption {
	return func(cfg *upsertConfig) {
		cfg.patch.MP3File = mp3File
		cfg.patch.CandidateName = ref.CandidateName
		cfg.patch.PodcastTitle = ref.PodcastTitle
		cfg.patch.EpisodeTitle = ref.EpisodeTitle
		cfg.patch.DatePosted = ref.DatePosted
		cfg.patch.Hyperlink = ref.Hyperlink
	}
}

// WithCandidate records the resolved audio URL and extracted metadata
func WithCandidate(c *models.AudioCandidate) UpsertOption {
	return func(cfg *upsertConfig) {
		if c == nil {
			return
		}
		cfg.patch.AudioURL = c.URL
		WithMetadata(c.Metadata, c.ExtractedAt)(cfg)
	}
}

// WithMetadata records extracted page metadata
func WithMetadata(meta models.PageMetadata, extractedAt time.Time) UpsertOption {
	return func(cfg *upsertConfig) {
		if meta.Title != nil {
			cfg.patch.Title = *meta.Title
		}
		if meta.Description != nil {
			cfg.patch.Description = *meta.Description
		}
		if meta.Duration != nil {
			cfg.patch.Duration = *meta.Duration
		}
		if !extractedAt.IsZero() {
			t := extractedAt
			cfg.patch.ExtractedAt = &t
		}
	}
}

// WithDownloadStarted records when the attempt began
func WithDownloadStarted(at time.Time) UpsertOption {
	return func(cfg *upsertConfig) {
		cfg.patch.DownloadStartedAt = &at
	}
}

// WithOutput records the published file
func WithOutput(path string, size int64, finishedAt time.Time) UpsertOption {
	return func(cfg *upsertConfig) {
		cfg.patch.OutputPath = path
		cfg.patch.FileSize = size
		if !finishedAt.IsZero() {
			cfg.patch.DownloadFinishedAt = &finishedAt
		}
	}
}
