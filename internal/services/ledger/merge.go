package ledger

import (
	"reflect"
	"time"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Merge folds incoming into existing and reports whether the stored entry
// changes.
//
//   - No existing entry: incoming is inserted.
//   - Existing completed, incoming not completed: ignored unless reattempt.
//   - Otherwise the incoming status wins and its non-empty fields overwrite.
//
// Empty incoming fields never clobber stored values. Attempts grows by one
// on every transition into processing, which also clears the previous
// error. A completed outcome clears the error.
// UpdatedAt is left for the caller to stamp.
func Merge(existing *models.LedgerEntry, incoming models.LedgerEntry, reattempt bool) (models.LedgerEntry, bool) {
	if existing == nil {
		merged := incoming
		if merged.Status == models.StatusProcessing {
			merged.Attempts = 1
		}
		return merged, true
	}

	if existing.Status == models.StatusCompleted && incoming.Status != models.StatusCompleted && !reattempt {
		return *existing, false
	}

	merged := *existing
	if incoming.Status == models.StatusProcessing && existing.Status != models.StatusProcessing {
		merged.Attempts++
		merged.Error = ""
	}
	merged.Status = incoming.Status
	overlay(&merged, &incoming)
	if merged.Status == models.StatusCompleted {
		merged.Error = ""
	}

	return merged, !sameContent(existing, &merged)
}

func overlay(dst, src *models.LedgerEntry) {
	setString(&dst.MP3File, src.MP3File)
	setString(&dst.Error, src.Error)
	setString(&dst.OutputPath, src.OutputPath)
	setTime(&dst.DownloadStartedAt, src.DownloadStartedAt)
	setTime(&dst.DownloadFinishedAt, src.DownloadFinishedAt)
	if src.FileSize > 0 {
		dst.FileSize = src.FileSize
	}
	setString(&dst.CandidateName, src.CandidateName)
	setString(&dst.PodcastTitle, src.PodcastTitle)
	setString(&dst.EpisodeTitle, src.EpisodeTitle)
	setString(&dst.DatePosted, src.DatePosted)
	setString(&dst.Hyperlink, src.Hyperlink)
	setString(&dst.AudioURL, src.AudioURL)
	setString(&dst.Title, src.Title)
	setString(&dst.Description, src.Description)
	setString(&dst.Duration, src.Duration)
	setTime(&dst.ExtractedAt, src.ExtractedAt)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil && !v.IsZero() {
		t := *v
		*dst = &t
	}
}

// sameContent compares everything except UpdatedAt, with times compared
// as instants.
func sameContent(a, b *models.LedgerEntry) bool {
	x, y := *a, *b
	x.UpdatedAt, y.UpdatedAt = time.Time{}, time.Time{}
	if !sameTime(x.DownloadStartedAt, y.DownloadStartedAt) ||
		!sameTime(x.DownloadFinishedAt, y.DownloadFinishedAt) ||
		!sameTime(x.ExtractedAt, y.ExtractedAt) {
		return false
	}
	x.DownloadStartedAt, y.DownloadStartedAt = nil, nil
	x.DownloadFinishedAt, y.DownloadFinishedAt = nil, nil
	x.ExtractedAt, y.ExtractedAt = nil, nil
	return reflect.DeepEqual(x, y)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
