package pipeline

import (
	"context"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/pkg/download"
)

// Resolver turns a catalog reference into a playable audio URL
type Resolver interface {
	Resolve(ctx context.Context, hyperlink, episodeTitle string, maxAttempts int) (*models.AudioCandidate, error)
}

// Downloader writes one audio URL to its final path
type Downloader interface {
	Download(ctx context.Context, url, destPath string, opts ...download.CallOption) (*download.Result, error)
}

// PageFetcher fetches episode pages for the metadata refresh of files
// already on disk
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Summary counts what a RunAll pass did with each catalog row
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Existing   int `json:"existing"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// Succeeded reports whether every dispatched row ended with a file on disk
func (s Summary) Succeeded() bool {
	return s.Failed == 0 && s.Skipped == 0
}
