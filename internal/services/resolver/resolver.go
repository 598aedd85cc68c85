// Package resolver turns an episode reference into a playable audio URL,
// first from the catalog hyperlink and then through episode search with
// progressively relaxed queries.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/internal/services/extractor"
	"github.com/killallgit/episode-harvester/internal/services/fetcher"
	"github.com/killallgit/episode-harvester/internal/services/itunes"
	"github.com/killallgit/episode-harvester/pkg/naming"
)

// ErrNotFound means every attempt finished without an audio candidate.
var ErrNotFound = errors.New("no audio candidate found")

// PageFetcher retrieves page text
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// EpisodeSearcher queries an episode search index
type EpisodeSearcher interface {
	SearchEpisodes(ctx context.Context, term string, opts *itunes.SearchOptions) ([]itunes.Episode, error)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Config tunes resolution
type Config struct {
	// SearchCandidates caps how many ranked search hits one attempt tries.
	// It is a separate budget from the attempt count.
	SearchCandidates int
	Sleep            Sleeper
	Now              func() time.Time
	Logger           *slog.Logger
}

// Resolver orchestrates page fetches, extraction and search fallback
type Resolver struct {
	pages     PageFetcher
	search    EpisodeSearcher
	extractor *extractor.Extractor
	config    Config
}

// New creates a Resolver. search may be nil to disable the fallback.
func New(pages PageFetcher, search EpisodeSearcher, ex *extractor.Extractor, cfg Config) *Resolver {
	if cfg.SearchCandidates <= 0 {
		cfg.SearchCandidates = 5
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if ex == nil {
		ex = extractor.New()
	}
	return &Resolver{
		pages:     pages,
		search:    search,
		extractor: ex,
		config:    cfg,
	}
}

// Resolve makes up to maxAttempts passes over the hyperlink and the search
// fallback. Attempt i searches with the last i words of the title dropped.
// Between attempts it waits 2^i seconds when attempt i hit a transport error
// and 1+i seconds otherwise. It returns ErrNotFound when nothing was found.
func (r *Resolver) Resolve(ctx context.Context, hyperlink, episodeTitle string, maxAttempts int) (*models.AudioCandidate, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	link, linkOK := UsableURL(hyperlink)
	log := r.config.Logger.With("title", episodeTitle)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		transport := false

		if linkOK {
			candidate, err := r.fromPage(ctx, link)
			if candidate != nil {
				return candidate, nil
			}
			if err != nil {
				log.Debug("direct page failed", "url", link, "attempt", attempt+1, "error", err)
				transport = transport || fetcher.IsTransient(err)
			}
		}

		if query := RelaxQuery(episodeTitle, attempt); query != "" && r.search != nil {
			candidate, sawTransport := r.fromSearch(ctx, query, episodeTitle, log)
			if candidate != nil {
				return candidate, nil
			}
			transport = transport || sawTransport
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt < maxAttempts-1 {
			delay := Backoff(attempt, transport)
			log.Debug("no audio candidate yet", "attempt", attempt+1, "max_attempts", maxAttempts, "retry_in", delay, "transport_error", transport)
			if err := r.config.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, ErrNotFound
}

// Backoff is the wait after attempt (0-based) before the next one.
func Backoff(attempt int, transportError bool) time.Duration {
	if transportError {
		return time.Duration(math.Pow(2, float64(attempt))) * time.Second
	}
	return time.Duration(1+attempt) * time.Second
}

// fromPage fetches a page and returns a candidate only if extraction found
// at least one audio URL.
func (r *Resolver) fromPage(ctx context.Context, pageURL string) (*models.AudioCandidate, error) {
	text, err := r.pages.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	result := r.extractor.Extract(text)
	if len(result.AudioURLs) == 0 {
		return nil, nil
	}

	return &models.AudioCandidate{
		URL:         result.AudioURLs[0],
		AllURLs:     result.AudioURLs,
		SourceURL:   pageURL,
		Metadata:    result.Metadata,
		ExtractedAt: r.config.Now(),
	}, nil
}

// fromSearch tries ranked search hits in order. Each hit is tried once.
func (r *Resolver) fromSearch(ctx context.Context, query, episodeTitle string, log *slog.Logger) (*models.AudioCandidate, bool) {
	episodes, err := r.search.SearchEpisodes(ctx, query, nil)
	if err != nil {
		log.Debug("search failed", "query", query, "error", err)
		return nil, fetcher.IsTransient(err)
	}

	transport := false
	hits := RankMatches(episodes, query, episodeTitle)
	if len(hits) > r.config.SearchCandidates {
		hits = hits[:r.config.SearchCandidates]
	}

	for _, hit := range hits {
		if ctx.Err() != nil {
			return nil, transport
		}

		if hit.EpisodeURL != "" && r.extractor.MatchesAudio(hit.EpisodeURL) {
			return r.fromSearchHit(hit), false
		}

		for _, pageURL := range hitPages(hit) {
			candidate, err := r.fromPage(ctx, pageURL)
			if candidate != nil {
				return candidate, false
			}
			if err != nil {
				log.Debug("search hit page failed", "url", pageURL, "error", err)
				transport = transport || fetcher.IsTransient(err)
			}
		}
	}

	return nil, transport
}

// hitPages lists the pages worth scraping for a hit whose episode URL is
// not itself audio: the listing page, then the episode URL, which is often
// a player or an extensionless enclosure.
func hitPages(hit itunes.Episode) []string {
	var pages []string
	for _, raw := range []string{hit.TrackViewURL, hit.EpisodeURL} {
		if u, ok := UsableURL(raw); ok && (len(pages) == 0 || pages[0] != u) {
			pages = append(pages, u)
		}
	}
	return pages
}

func (r *Resolver) fromSearchHit(hit itunes.Episode) *models.AudioCandidate {
	var meta models.PageMetadata
	if hit.Title != "" {
		title := hit.Title
		meta.Title = &title
	}
	if hit.Description != "" {
		description := hit.Description
		meta.Description = &description
	}
	if hit.DurationMillis > 0 {
		duration := formatMillis(hit.DurationMillis)
		meta.Duration = &duration
	}

	source := hit.TrackViewURL
	if source == "" {
		source = hit.EpisodeURL
	}

	return &models.AudioCandidate{
		URL:         hit.EpisodeURL,
		AllURLs:     []string{hit.EpisodeURL},
		SourceURL:   source,
		Metadata:    meta,
		ExtractedAt: r.config.Now(),
	}
}

// SearchTerm renders a title as a plain lowercase query.
func SearchTerm(title string) string {
	n := naming.Normalize(title)
	if n == naming.Unknown {
		return ""
	}
	return strings.ReplaceAll(n, "_", " ")
}

// RelaxQuery returns the search term for an attempt. Attempt i drops the
// last i words of the normalized title, but only while more than i+1 words
// exist; shorter titles are searched in full.
func RelaxQuery(title string, attempt int) string {
	words := strings.Fields(SearchTerm(title))
	if attempt > 0 && len(words) > attempt+1 {
		words = words[:len(words)-attempt]
	}
	return strings.Join(words, " ")
}

// RankMatches orders hits by how well their normalized title fits: equal to
// the full title first, equal to the (possibly relaxed) query second,
// containing the query third, the rest last. Input order is preserved within
// each group.
func RankMatches(episodes []itunes.Episode, query, fullTitle string) []itunes.Episode {
	want := SearchTerm(fullTitle)
	var exact, queryExact, partial, rest []itunes.Episode
	for _, ep := range episodes {
		got := SearchTerm(ep.Title)
		switch {
		case got == "":
			rest = append(rest, ep)
		case got == want:
			exact = append(exact, ep)
		case got == query:
			queryExact = append(queryExact, ep)
		case strings.Contains(got, query):
			partial = append(partial, ep)
		default:
			rest = append(rest, ep)
		}
	}
	ranked := make([]itunes.Episode, 0, len(episodes))
	for _, group := range [][]itunes.Episode{exact, queryExact, partial, rest} {
		ranked = append(ranked, group...)
	}
	return ranked
}

// UsableURL accepts absolute http(s) URLs only, which also rules out
// placeholder values like "unavailable".
func UsableURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}

// formatMillis renders a track length as HH:MM:SS, or MM:SS under an hour.
func formatMillis(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
