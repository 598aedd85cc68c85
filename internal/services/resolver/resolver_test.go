package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/episode-harvester/internal/services/extractor"
	"github.com/killallgit/episode-harvester/internal/services/fetcher"
	"github.com/killallgit/episode-harvester/internal/services/itunes"
)

type pageResponse struct {
	body string
	err  error
}

type mockPages struct {
	mu    sync.Mutex
	pages map[string]pageResponse
	calls []string
}

func (m *mockPages) Fetch(ctx context.Context, rawURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rawURL)
	resp, ok := m.pages[rawURL]
	if !ok {
		return "", &fetcher.Error{URL: rawURL, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
	}
	return resp.body, resp.err
}

type mockSearch struct {
	mu      sync.Mutex
	results map[string][]itunes.Episode
	err     error
	terms   []string
}

func (m *mockSearch) SearchEpisodes(ctx context.Context, term string, opts *itunes.SearchOptions) ([]itunes.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = append(m.terms, term)
	if m.err != nil {
		return nil, m.err
	}
	return m.results[term], nil
}

type recordedSleeps struct {
	delays []time.Duration
}

func (s *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestResolver(pages PageFetcher, search EpisodeSearcher, sleeps *recordedSleeps) *Resolver {
	return New(pages, search, extractor.New(), Config{
		Sleep: sleeps.sleep,
		Now:   func() time.Time { return fixedNow },
	})
}

const episodePage = `<html><head><title>Ep 12: The Long Road</title>
<meta name="description" content="The road trip episode"></head>
<body><a href="https://traffic.megaphone.fm/MT0012.mp3?updated=1">listen</a></body></html>`

func TestResolve_DirectHyperlink(t *testing.T) {
	pages := &mockPages{pages: map[string]pageResponse{
		"https://example.com/ep12": {body: episodePage},
	}}
	search := &mockSearch{}
	sleeps := &recordedSleeps{}

	r := newTestResolver(pages, search, sleeps)
	candidate, err := r.Resolve(context.Background(), "https://example.com/ep12", "Ep 12: The Long Road", 3)
	require.NoError(t, err)

	assert.Equal(t, "https://traffic.megaphone.fm/MT0012.mp3?updated=1", candidate.URL)
	assert.Equal(t, "https://example.com/ep12", candidate.SourceURL)
	require.NotNil(t, candidate.Metadata.Title)
	assert.Equal(t, "Ep 12: The Long Road", *candidate.Metadata.Title)
	assert.Equal(t, fixedNow, candidate.ExtractedAt)
	assert.Empty(t, search.terms, "search is not consulted when the page has audio")
	assert.Empty(t, sleeps.delays)
}

func TestResolve_NotFoundAfterAllAttempts(t *testing.T) {
	pages := &mockPages{pages: map[string]pageResponse{
		"https://example.com/ep12": {body: "<html><body>nothing here</body></html>"},
	}}
	search := &mockSearch{}
	sleeps := &recordedSleeps{}

	r := newTestResolver(pages, search, sleeps)
	candidate, err := r.Resolve(context.Background(), "https://example.com/ep12", "Ep 12: The Long Road", 3)

	assert.Nil(t, candidate)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, pages.calls, 3, "the page is refetched on each attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
	assert.Equal(t, []string{
		"ep 12 the long road",
		"ep 12 the long",
		"ep 12 the",
	}, search.terms)
}

func TestResolve_TransientErrorsBackOffExponentially(t *testing.T) {
	transient := &fetcher.Error{URL: "https://example.com/ep12", StatusCode: http.StatusServiceUnavailable, Transient: true, Err: errors.New("unavailable")}
	pages := &mockPages{pages: map[string]pageResponse{
		"https://example.com/ep12": {err: transient},
	}}
	sleeps := &recordedSleeps{}

	r := newTestResolver(pages, nil, sleeps)
	_, err := r.Resolve(context.Background(), "https://example.com/ep12", "Ep 12", 4)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.delays)
}

func TestResolve_UnavailableHyperlinkUsesSearch(t *testing.T) {
	search := &mockSearch{results: map[string][]itunes.Episode{
		"ep 12 the long road": {
			{Title: "Unrelated Show", EpisodeURL: "https://cdn.example.com/other.mp3"},
			{
				Title:          "Ep 12: The Long Road",
				TrackViewURL:   "https://podcasts.apple.com/us/podcast/ep-12/id1?i=1",
				EpisodeURL:     "https://traffic.megaphone.fm/MT0012.mp3",
				Description:    "The road trip episode",
				DurationMillis: 2712000,
			},
		},
	}}
	pages := &mockPages{}
	sleeps := &recordedSleeps{}

	r := newTestResolver(pages, search, sleeps)
	candidate, err := r.Resolve(context.Background(), "unavailable", "Ep 12: The Long Road", 3)
	require.NoError(t, err)

	assert.Equal(t, "https://traffic.megaphone.fm/MT0012.mp3", candidate.URL)
	assert.Equal(t, "https://podcasts.apple.com/us/podcast/ep-12/id1?i=1", candidate.SourceURL)
	require.NotNil(t, candidate.Metadata.Duration)
	assert.Equal(t, "45:12", *candidate.Metadata.Duration)
	assert.Empty(t, pages.calls, "an unusable hyperlink is never fetched")
}

func TestResolve_SearchHitPageIsExtracted(t *testing.T) {
	search := &mockSearch{results: map[string][]itunes.Episode{
		"the long road": {
			{Title: "The Long Road", TrackViewURL: "https://podcasts.apple.com/ep12"},
		},
	}}
	pages := &mockPages{pages: map[string]pageResponse{
		"https://podcasts.apple.com/ep12": {body: episodePage},
	}}

	r := newTestResolver(pages, search, &recordedSleeps{})
	candidate, err := r.Resolve(context.Background(), "", "The Long Road", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://podcasts.apple.com/ep12", candidate.SourceURL)
	assert.Equal(t, []string{"https://podcasts.apple.com/ep12"}, pages.calls)
}

func TestResolve_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := &recordedSleeps{}
	r := New(&mockPages{}, nil, nil, Config{Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleeps.sleep(ctx, d)
	}})

	_, err := r.Resolve(ctx, "https://example.com/missing", "Ep 12", 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sleeps.delays, 1)
}

func TestRelaxQuery(t *testing.T) {
	tests := []struct {
		title   string
		attempt int
		want    string
	}{
		{"Ep 12: The Long Road", 0, "ep 12 the long road"},
		{"Ep 12: The Long Road", 2, "ep 12 the"},
		{"Ep 12: The Long Road", 3, "ep 12"},
		{"Ep 12: The Long Road", 4, "ep 12 the long road"},
		{"Café Society", 1, "cafe society"},
		{"Interlude", 3, "interlude"},
		{"", 0, ""},
		{"!!!", 0, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RelaxQuery(tt.title, tt.attempt), "%q attempt %d", tt.title, tt.attempt)
	}
}

func TestRankMatches(t *testing.T) {
	episodes := []itunes.Episode{
		{Title: "The Long Road Home (Part 2)"},
		{Title: "Something Else"},
		{Title: "The Long Road"},
		{Title: ""},
	}

	ranked := RankMatches(episodes, "the long road", "The Long Road")
	require.Len(t, ranked, 4)
	assert.Equal(t, "The Long Road", ranked[0].Title, "exact matches come first")
	assert.Equal(t, "The Long Road Home (Part 2)", ranked[1].Title)
	assert.Equal(t, "Something Else", ranked[2].Title)
	assert.Equal(t, "", ranked[3].Title)
}

func TestRankMatches_RelaxedQueryPrefersFullTitle(t *testing.T) {
	full := "Episode Twelve Interview With Jane Doe"
	query := RelaxQuery(full, 2)
	require.Equal(t, "episode twelve interview with", query)

	episodes := []itunes.Episode{
		{Title: "Episode Twelve Interview With Someone", EpisodeURL: "https://partial"},
		{Title: "Episode Twelve Interview With", EpisodeURL: "https://truncated"},
		{Title: "Episode Twelve: Interview with Jane Doe", EpisodeURL: "https://full"},
	}

	ranked := RankMatches(episodes, query, full)
	require.Len(t, ranked, 3)
	assert.Equal(t, "https://full", ranked[0].EpisodeURL)
	assert.Equal(t, "https://truncated", ranked[1].EpisodeURL)
	assert.Equal(t, "https://partial", ranked[2].EpisodeURL)
}

func TestResolve_SearchHitEpisodePageIsExtracted(t *testing.T) {
	search := &mockSearch{results: map[string][]itunes.Episode{
		"the long road": {
			{Title: "The Long Road", EpisodeURL: "https://feeds.example.com/stream/123"},
		},
	}}
	pages := &mockPages{pages: map[string]pageResponse{
		"https://feeds.example.com/stream/123": {body: episodePage},
	}}

	r := newTestResolver(pages, search, &recordedSleeps{})
	candidate, err := r.Resolve(context.Background(), "", "The Long Road", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://traffic.megaphone.fm/MT0012.mp3?updated=1", candidate.URL)
	assert.Equal(t, "https://feeds.example.com/stream/123", candidate.SourceURL)
	assert.Equal(t, []string{"https://feeds.example.com/stream/123"}, pages.calls)
}

func TestResolve_SearchHitTriesListingThenEpisodeURL(t *testing.T) {
	search := &mockSearch{results: map[string][]itunes.Episode{
		"the long road": {
			{
				Title:        "The Long Road",
				TrackViewURL: "https://podcasts.apple.com/ep12",
				EpisodeURL:   "https://anchor.example.com/play/123",
			},
		},
	}}
	pages := &mockPages{pages: map[string]pageResponse{
		"https://podcasts.apple.com/ep12":     {body: "<html><body>no links</body></html>"},
		"https://anchor.example.com/play/123": {body: episodePage},
	}}

	r := newTestResolver(pages, search, &recordedSleeps{})
	candidate, err := r.Resolve(context.Background(), "", "The Long Road", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://anchor.example.com/play/123", candidate.SourceURL)
	assert.Equal(t, []string{"https://podcasts.apple.com/ep12", "https://anchor.example.com/play/123"}, pages.calls)
}

func TestHitPages(t *testing.T) {
	assert.Empty(t, hitPages(itunes.Episode{}))
	assert.Equal(t, []string{"https://a.example/1"}, hitPages(itunes.Episode{
		TrackViewURL: "https://a.example/1",
		EpisodeURL:   "https://a.example/1",
	}))
	assert.Equal(t, []string{"https://a.example/2"}, hitPages(itunes.Episode{
		TrackViewURL: "unavailable",
		EpisodeURL:   "https://a.example/2",
	}))
}

func TestSearchCandidatesBudget(t *testing.T) {
	var hits []itunes.Episode
	for _, u := range []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"} {
		hits = append(hits, itunes.Episode{Title: "Road Trip", TrackViewURL: u})
	}
	search := &mockSearch{results: map[string][]itunes.Episode{"road trip": hits}}
	pages := &mockPages{}

	r := New(pages, search, nil, Config{SearchCandidates: 2, Sleep: (&recordedSleeps{}).sleep})
	_, err := r.Resolve(context.Background(), "", "Road Trip", 1)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, pages.calls, 2)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, false))
	assert.Equal(t, 3*time.Second, Backoff(2, false))
	assert.Equal(t, time.Second, Backoff(0, true))
	assert.Equal(t, 8*time.Second, Backoff(3, true))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
