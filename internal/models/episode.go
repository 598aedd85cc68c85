package models

import (
	"strings"
	"time"

	"github.com/killallgit/episode-harvester/pkg/naming"
)

// EpisodeReference is one catalog row. It is never mutated after loading.
type EpisodeReference struct {
	CandidateName string `json:"candidate_name"`
	PodcastTitle  string `json:"podcast_title"`
	EpisodeTitle  string `json:"episode_title"`
	DatePosted    string `json:"date_posted"`
	Hyperlink     string `json:"hyperlink,omitempty"`
	Row           int    `json:"row"` // 1-based line in the catalog file
}

// Parts returns the fields that feed identity and filename derivation.
func (r EpisodeReference) Parts() naming.Parts {
	return naming.Parts{
		Candidate: r.CandidateName,
		Show:      r.PodcastTitle,
		Episode:   r.EpisodeTitle,
		Date:      r.DatePosted,
	}
}

// HasTitle reports whether the row carries an episode title.
func (r EpisodeReference) HasTitle() bool {
	return strings.TrimSpace(r.EpisodeTitle) != ""
}

// PageMetadata holds auxiliary fields scraped from an episode page.
// A nil field means no rule matched.
type PageMetadata struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Duration    *string `json:"duration,omitempty"`
}

// AudioCandidate is a resolved stream URL plus what was extracted with it.
type AudioCandidate struct {
	URL         string       `json:"url"`
	AllURLs     []string     `json:"all_urls"`
	SourceURL   string       `json:"source_url"`
	Metadata    PageMetadata `json:"metadata"`
	ExtractedAt time.Time    `json:"extracted_at"`
}
