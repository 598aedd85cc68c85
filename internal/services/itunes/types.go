package itunes

import (
	"time"
)

// iTunesResponse represents the top-level response from the search API
type iTunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []iTunesResult `json:"results"`
}

// iTunesResult is a single podcastEpisode result
type iTunesResult struct {
	WrapperType string `json:"wrapperType"`
	Kind        string `json:"kind"`

	CollectionID      int64     `json:"collectionId"`
	TrackID           int64     `json:"trackId"`
	CollectionName    string    `json:"collectionName"`
	TrackName         string    `json:"trackName"`
	CollectionViewURL string    `json:"collectionViewUrl"`
	FeedURL           string    `json:"feedUrl"`
	TrackViewURL      string    `json:"trackViewUrl"`
	ReleaseDate       time.Time `json:"releaseDate"`
	TrackTimeMillis   int       `json:"trackTimeMillis"`

	// Episode-specific fields
	EpisodeURL           string `json:"episodeUrl,omitempty"`
	EpisodeGUID          string `json:"episodeGuid,omitempty"`
	Description          string `json:"description,omitempty"`
	ShortDescription     string `json:"shortDescription,omitempty"`
	EpisodeFileExtension string `json:"episodeFileExtension,omitempty"`
	EpisodeContentType   string `json:"episodeContentType,omitempty"`
}

// Episode is a search hit reduced to what resolution needs
type Episode struct {
	TrackID        int64     `json:"trackId"`
	Title          string    `json:"title"`
	Show           string    `json:"show"`
	TrackViewURL   string    `json:"trackViewUrl"`
	EpisodeURL     string    `json:"episodeUrl,omitempty"`
	FeedURL        string    `json:"feedUrl,omitempty"`
	Description    string    `json:"description,omitempty"`
	ReleaseDate    time.Time `json:"releaseDate"`
	DurationMillis int       `json:"durationMillis"`
}

// SearchOptions narrows an episode search
type SearchOptions struct {
	Entity  string // Default: podcastEpisode
	Limit   int    // Default: 20, max 200
	Country string
}

func transformToEpisodes(resp *iTunesResponse) []Episode {
	episodes := make([]Episode, 0, len(resp.Results))
	for _, r := range resp.Results {
		description := r.Description
		if description == "" {
			description = r.ShortDescription
		}
		episodes = append(episodes, Episode{
			TrackID:        r.TrackID,
			Title:          r.TrackName,
			Show:           r.CollectionName,
			TrackViewURL:   r.TrackViewURL,
			EpisodeURL:     r.EpisodeURL,
			FeedURL:        r.FeedURL,
			Description:    description,
			ReleaseDate:    r.ReleaseDate,
			DurationMillis: r.TrackTimeMillis,
		})
	}
	return episodes
}
