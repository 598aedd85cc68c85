package extractor

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_StripsTrailingQuote(t *testing.T) {
	result := New().Extract(`https://traffic.megaphone.fm/ABC123.mp3"junk after the quote`)

	assert.Equal(t, []string{"https://traffic.megaphone.fm/ABC123.mp3"}, result.AudioURLs)
}

func TestExtract_PriorityOrderAndDedupe(t *testing.T) {
	text := `
		<a href="https://pdst.fm/e/abc">tracked</a>
		<audio src='https://cdn.example.com/episode-12.mp3?x=1&amp;y=2'></audio>
		<a href="https://pdst.fm/e/abc">again</a>
		<source src="https://cdn.example.com/audio/episode-12.m4a">
	`

	result := New().Extract(text)

	assert.Equal(t, []string{
		"https://cdn.example.com/episode-12.mp3?x=1&y=2",
		"https://cdn.example.com/audio/episode-12.m4a",
		"https://pdst.fm/e/abc",
	}, result.AudioURLs)
}

func TestExtract_NoMatchesIsNotAnError(t *testing.T) {
	result := New().Extract("plain text with no links at all")

	assert.NotNil(t, result.AudioURLs)
	assert.Empty(t, result.AudioURLs)
	assert.Nil(t, result.Metadata.Title)
	assert.Nil(t, result.Metadata.Description)
	assert.Nil(t, result.Metadata.Duration)
}

func TestExtract_MetadataFallbacks(t *testing.T) {
	text := `<html><head>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="An episode about &amp; things">
		</head><body>
		<h1 class="headline">Header <b>Title</b></h1>
		<span itemprop="duration">45:12</span>
		</body></html>`

	result := New().Extract(text)

	require.NotNil(t, result.Metadata.Title)
	assert.Equal(t, "OG Title", *result.Metadata.Title, "og:title outranks h1 when <title> is missing")
	require.NotNil(t, result.Metadata.Description)
	assert.Equal(t, "An episode about & things", *result.Metadata.Description)
	require.NotNil(t, result.Metadata.Duration)
	assert.Equal(t, "45:12", *result.Metadata.Duration)
}

func TestExtract_FieldsComeFromDifferentRules(t *testing.T) {
	text := `<title>  Page   Title </title>
		<div class="episode-description">Short summary</div>
		<div data-duration="3600"></div>`

	result := New().Extract(text)

	require.NotNil(t, result.Metadata.Title)
	assert.Equal(t, "Page Title", *result.Metadata.Title)
	require.NotNil(t, result.Metadata.Description)
	assert.Equal(t, "Short summary", *result.Metadata.Description)
	require.NotNil(t, result.Metadata.Duration)
	assert.Equal(t, "3600", *result.Metadata.Duration)
}

func TestExtract_SelectorFallback(t *testing.T) {
	text := `<html><head><meta name="twitter:title" content="Twitter Title"></head><body></body></html>`

	result := New().Extract(text)

	require.NotNil(t, result.Metadata.Title)
	assert.Equal(t, "Twitter Title", *result.Metadata.Title)
}

func TestExtract_FeedEnclosures(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Morning Talk</title>
    <description>Daily show</description>
    <item>
      <title>Episode One</title>
      <description>First episode</description>
      <enclosure url="https://media.example.org/stream/1" length="1000" type="audio/mpeg"/>
      <itunes:duration>00:42:00</itunes:duration>
    </item>
  </channel>
</rss>`

	result := New().Extract(feed)

	assert.Equal(t, []string{"https://media.example.org/stream/1"}, result.AudioURLs)
	require.NotNil(t, result.Metadata.Duration)
	assert.Equal(t, "00:42:00", *result.Metadata.Duration)
	require.NotNil(t, result.Metadata.Description)
	assert.Equal(t, "First episode", *result.Metadata.Description)
}

func TestMatchesAudio(t *testing.T) {
	e := New()

	assert.True(t, e.MatchesAudio("https://cdn.example.com/ep.mp3"))
	assert.True(t, e.MatchesAudio("https://traffic.megaphone.fm/ABC123"))
	assert.True(t, e.MatchesAudio("https://traffic.libsyn.com/show/ep1"))
	assert.False(t, e.MatchesAudio("https://podcasts.apple.com/us/podcast/id123?i=456"))
	assert.False(t, e.MatchesAudio(""))
}

func TestNewWithRules(t *testing.T) {
	custom := []AudioRule{{Name: "ogg", Pattern: regexp.MustCompile(`https://[^"'\s<>]*\.ogg`)}}
	e := NewWithRules(custom, map[Field][]FieldRule{
		FieldTitle: {ci(`<title>(.*?)</title>`)},
	})

	result := e.Extract(`<title>Custom</title> https://x.example/a.ogg https://x.example/b.mp3`)

	assert.Equal(t, []string{"https://x.example/a.ogg"}, result.AudioURLs)
	require.NotNil(t, result.Metadata.Title)
	assert.Equal(t, "Custom", *result.Metadata.Title)
	assert.Nil(t, result.Metadata.Duration)
}
