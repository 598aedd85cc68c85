package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

// AudioRule is one URL shape recognised as a playable stream. Rules are
// evaluated in slice order and that order is the candidate priority.
type AudioRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// urlTail is what may follow a matched prefix inside an attribute or script.
const urlTail = `[^"'\s<>]*`

// DefaultAudioRules lists direct file links first, then tracker and CDN
// redirect shapes.
var DefaultAudioRules = []AudioRule{
	{"mp3", regexp.MustCompile(`https://` + urlTail + `\.mp3` + urlTail)},
	{"m4a", regexp.MustCompile(`https://` + urlTail + `audio` + urlTail + `\.m4a` + urlTail)},
	{"aac", regexp.MustCompile(`https://` + urlTail + `\.aac` + urlTail)},
	{"podtrac-dts", regexp.MustCompile(`https://dts\.podtrac\.com/` + urlTail)},
	{"chartable", regexp.MustCompile(`https://chrt\.fm/track/` + urlTail)},
	{"podsights", regexp.MustCompile(`https://pdst\.fm/` + urlTail)},
	{"megaphone", regexp.MustCompile(`https://traffic\.megaphone\.fm/` + urlTail)},
	{"podtrac-play", regexp.MustCompile(`https://play\.podtrac\.com/` + urlTail)},
	{"podtrac-redirect", regexp.MustCompile(`https://www\.podtrac\.com/pts/redirect\.mp3/` + urlTail)},
	{"libsyn", regexp.MustCompile(`https://` + `[a-zA-Z0-9.-]*\.libsyn\.com/` + urlTail)},
}

// Field names a metadata field.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldDuration    Field = "duration"
)

// FieldRule yields a value for one metadata field, or false when it does not
// apply to the page.
type FieldRule interface {
	Extract(p *Page) (string, bool)
}

// RegexRule takes capture group 1 of the first match.
type RegexRule struct {
	Pattern *regexp.Regexp
}

func (r RegexRule) Extract(p *Page) (string, bool) {
	m := r.Pattern.FindStringSubmatch(p.text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// SelectorRule reads the first node matching a CSS selector. Attr selects an
// attribute; empty Attr reads the node text.
type SelectorRule struct {
	Selector string
	Attr     string
}

func (r SelectorRule) Extract(p *Page) (string, bool) {
	doc := p.document()
	if doc == nil {
		return "", false
	}
	sel := doc.Find(r.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	if r.Attr != "" {
		return sel.Attr(r.Attr)
	}
	return sel.Text(), true
}

// ReadabilityRule summarises the main article text readability finds.
type ReadabilityRule struct {
	MaxRunes int
}

func (r ReadabilityRule) Extract(p *Page) (string, bool) {
	article, ok := p.article()
	if !ok {
		return "", false
	}
	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return "", false
	}
	if runes := []rune(text); r.MaxRunes > 0 && len(runes) > r.MaxRunes {
		text = string(runes[:r.MaxRunes])
	}
	return text, true
}

// FeedRule reads a field from a parsed RSS/Atom document.
type FeedRule struct {
	Pick func(feed *gofeed.Feed) string
}

func (r FeedRule) Extract(p *Page) (string, bool) {
	feed := p.feed()
	if feed == nil {
		return "", false
	}
	v := r.Pick(feed)
	return v, v != ""
}

func ci(pattern string) RegexRule {
	return RegexRule{Pattern: regexp.MustCompile(`(?i)` + pattern)}
}

func firstItem(feed *gofeed.Feed) *gofeed.Item {
	if len(feed.Items) == 0 {
		return nil
	}
	return feed.Items[0]
}

// DefaultFieldRules holds the ordered fallbacks for each field. The regex
// rules come first; parsed-document rules only run when they all miss.
var DefaultFieldRules = map[Field][]FieldRule{
	FieldTitle: {
		ci(`<title>(.*?)</title>`),
		ci(`<meta property="og:title" content="(.*?)"`),
		ci(`<h1[^>]*>(.*?)</h1>`),
		ci(`<meta name="title" content="(.*?)"`),
		SelectorRule{Selector: `meta[name="twitter:title"]`, Attr: "content"},
		SelectorRule{Selector: "article h2"},
		FeedRule{Pick: func(f *gofeed.Feed) string {
			if item := firstItem(f); item != nil && item.Title != "" {
				return item.Title
			}
			return f.Title
		}},
	},
	FieldDescription: {
		ci(`<meta name="description" content="(.*?)"`),
		ci(`<meta property="og:description" content="(.*?)"`),
		ci(`<div[^>]*class="[^"]*description[^"]*"[^>]*>(.*?)</div>`),
		ci(`<meta name="twitter:description" content="(.*?)"`),
		SelectorRule{Selector: `[itemprop="description"]`},
		FeedRule{Pick: func(f *gofeed.Feed) string {
			if item := firstItem(f); item != nil && item.Description != "" {
				return item.Description
			}
			return f.Description
		}},
		ReadabilityRule{MaxRunes: 300},
	},
	FieldDuration: {
		ci(`duration.*?(\d+(?::\d+)+)`),
		ci(`"duration":\s*"(.*?)"`),
		ci(`itemprop="duration"[^>]*>(.*?)<`),
		ci(`data-duration="(.*?)"`),
		SelectorRule{Selector: `meta[itemprop="duration"]`, Attr: "content"},
		FeedRule{Pick: func(f *gofeed.Feed) string {
			if item := firstItem(f); item != nil && item.ITunesExt != nil {
				return item.ITunesExt.Duration
			}
			return ""
		}},
	},
}

// Page lazily parses the text the rules run against. It is used by a single
// Extract call and is not safe for concurrent use.
type Page struct {
	text string

	docParsed bool
	doc       *goquery.Document

	articleParsed bool
	articleOK     bool
	art           readability.Article

	feedParsed bool
	parsedFeed *gofeed.Feed
}

func (p *Page) document() *goquery.Document {
	if !p.docParsed {
		p.docParsed = true
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.text))
		if err == nil {
			p.doc = doc
		}
	}
	return p.doc
}

func (p *Page) article() (readability.Article, bool) {
	if !p.articleParsed {
		p.articleParsed = true
		if looksLikeHTML(p.text) {
			art, err := readability.FromReader(strings.NewReader(p.text), nil)
			p.art, p.articleOK = art, err == nil
		}
	}
	return p.art, p.articleOK
}

func (p *Page) feed() *gofeed.Feed {
	if !p.feedParsed {
		p.feedParsed = true
		if looksLikeFeed(p.text) {
			feed, err := gofeed.NewParser().ParseString(p.text)
			if err == nil {
				p.parsedFeed = feed
			}
		}
	}
	return p.parsedFeed
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(leading(text, 1024))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

func looksLikeFeed(text string) bool {
	head := strings.ToLower(leading(text, 1024))
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed") || strings.Contains(head, "<rdf:rdf")
}

func leading(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
