package pipeline

import (
	"strings"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/internal/services/resolver"
)

// titleCutMarkers end the "real" title on pages that pad it with the show
// name or a tagline
var titleCutMarkers = []string{"|", " - ", ":"}

// TitleVariants lists the search titles tried when retrying a failed entry,
// most specific first. Variants that produce the same search term as an
// earlier one are dropped.
func TitleVariants(ref models.EpisodeReference) []string {
	title := strings.TrimSpace(ref.EpisodeTitle)
	if title == "" {
		return nil
	}

	candidates := []string{title}

	cut := -1
	for _, marker := range titleCutMarkers {
		if i := strings.Index(title, marker); i > 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut > 0 {
		candidates = append(candidates, strings.TrimSpace(title[:cut]))
	}

	if words := strings.Fields(title); len(words) > 3 {
		candidates = append(candidates, strings.Join(words[:3], " "))
	}

	if show := strings.TrimSpace(ref.PodcastTitle); show != "" {
		candidates = append(candidates, show+" "+title)
	}

	seen := make(map[string]bool, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, c := range candidates {
		term := resolver.SearchTerm(c)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		variants = append(variants, c)
	}
	return variants
}
