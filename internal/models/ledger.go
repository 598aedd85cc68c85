package models

import (
	"time"
)

// Status represents where an episode is in its download lifecycle
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final outcome of an attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LedgerEntry is the persisted outcome record for one episode identity.
type LedgerEntry struct {
	Identity string `json:"identity" gorm:"primaryKey"`
	MP3File  string `json:"mp3_file" gorm:"index"`
	Status   Status `json:"status" gorm:"index;not null"`
	Error    string `json:"error,omitempty" gorm:"type:text"`

	OutputPath         string     `json:"output_path,omitempty"`
	DownloadStartedAt  *time.Time `json:"download_started_at,omitempty"`
	DownloadFinishedAt *time.Time `json:"download_finished_at,omitempty"`
	FileSize           int64      `json:"file_size"`

	// Catalog fields, kept so failed rows can be retried without the catalog
	CandidateName string `json:"candidate_name"`
	PodcastTitle  string `json:"podcast_title"`
	EpisodeTitle  string `json:"episode_title"`
	DatePosted    string `json:"date_posted"`
	Hyperlink     string `json:"hyperlink,omitempty"`

	// Extraction results
	AudioURL    string     `json:"audio_url,omitempty" gorm:"column:audio_url"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty" gorm:"type:text"`
	Duration    string     `json:"duration,omitempty"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`

	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

// TableName pins the table name for the sqlite backend
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Reference rebuilds the catalog reference a ledger row was created from.
func (e *LedgerEntry) Reference() EpisodeReference {
	return EpisodeReference{
		CandidateName: e.CandidateName,
		PodcastTitle:  e.PodcastTitle,
		EpisodeTitle:  e.EpisodeTitle,
		DatePosted:    e.DatePosted,
		Hyperlink:     e.Hyperlink,
	}
}
