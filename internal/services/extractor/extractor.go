// Package extractor pulls candidate audio stream URLs and episode metadata
// out of fetched page text using ordered rule lists.
package extractor

import (
	"html"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Result is everything found on one page. Absence is never an error:
// no matches gives an empty AudioURLs slice and nil metadata fields.
type Result struct {
	AudioURLs []string
	Metadata  models.PageMetadata
}

// Extractor evaluates audio and metadata rules against page text
type Extractor struct {
	audioRules []AudioRule
	fieldRules map[Field][]FieldRule
}

// New returns an Extractor using the default rule tables
func New() *Extractor {
	return NewWithRules(DefaultAudioRules, DefaultFieldRules)
}

// NewWithRules returns an Extractor with custom rule tables
func NewWithRules(audio []AudioRule, fields map[Field][]FieldRule) *Extractor {
	return &Extractor{
		audioRules: audio,
		fieldRules: fields,
	}
}

// Extract runs every rule against pageText
func (e *Extractor) Extract(pageText string) Result {
	p := &Page{text: pageText}

	return Result{
		AudioURLs: e.audioURLs(p),
		Metadata: models.PageMetadata{
			Title:       e.field(p, FieldTitle),
			Description: e.field(p, FieldDescription),
			Duration:    e.field(p, FieldDuration),
		},
	}
}

// MatchesAudio reports whether rawURL on its own has the shape of one of the
// audio rules, which lets a search hit skip a page fetch.
func (e *Extractor) MatchesAudio(rawURL string) bool {
	for _, rule := range e.audioRules {
		if loc := rule.Pattern.FindStringIndex(rawURL); loc != nil && loc[0] == 0 && loc[1] == len(rawURL) {
			return true
		}
	}
	return false
}

func (e *Extractor) audioURLs(p *Page) []string {
	urls := make([]string, 0)
	seen := make(map[string]bool)
	add := func(raw string) {
		u := cleanURL(raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	for _, rule := range e.audioRules {
		for _, m := range rule.Pattern.FindAllString(p.text, -1) {
			add(m)
		}
	}

	// Feed enclosures rank after anything matched in the raw text
	if feed := p.feed(); feed != nil {
		for _, item := range feed.Items {
			for _, enc := range item.Enclosures {
				if enc != nil && isAudioEnclosure(enc.URL, enc.Type) {
					add(enc.URL)
				}
			}
		}
	}

	return urls
}

func (e *Extractor) field(p *Page, f Field) *string {
	for _, rule := range e.fieldRules[f] {
		raw, ok := rule.Extract(p)
		if !ok {
			continue
		}
		if v := cleanText(raw); v != "" {
			return &v
		}
	}
	return nil
}

// cleanURL cuts a match at the first quote, undoes HTML entity escaping and
// drops trailing separators picked up from scripts.
func cleanURL(raw string) string {
	if i := strings.IndexAny(raw, `"'`); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ReplaceAll(raw, "&amp;", "&")
	raw = strings.TrimRight(raw, `\,;`)
	if !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
		return ""
	}
	return raw
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func cleanText(raw string) string {
	text := tagPattern.ReplaceAllString(raw, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true,
}

func isAudioEnclosure(rawURL, contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mediaType, "audio/") {
		return true
	}
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return audioExtensions[strings.ToLower(path.Ext(u))]
}
