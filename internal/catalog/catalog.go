// Package catalog reads the episode catalog file into references.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Catalog column headers. Matching ignores case and surrounding spaces.
const (
	ColumnCandidate = "Candidate name"
	ColumnShow      = "Podcast title"
	ColumnEpisode   = "Episode title"
	ColumnDate      = "Date posted"
	ColumnHyperlink = "Hyperlink"
)

var requiredColumns = []string{ColumnCandidate, ColumnShow, ColumnEpisode, ColumnDate}

// ErrMissingColumn is returned when a required header is absent
var ErrMissingColumn = errors.New("catalog is missing a required column")

// Load reads the catalog at path. A missing file wraps os.ErrNotExist.
func Load(path string) ([]models.EpisodeReference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	refs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return refs, nil
}

// Read parses catalog CSV from r. Extra columns are ignored, cells are
// trimmed, and rows are returned in input order with Row set to the line
// the record starts on.
func Read(r io.Reader) ([]models.EpisodeReference, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		key := headerKey(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[headerKey(col)]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}

	var refs []models.EpisodeReference
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		cell := func(col string) string {
			if i, ok := index[headerKey(col)]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		line, _ := reader.FieldPos(0)
		refs = append(refs, models.EpisodeReference{
			CandidateName: cell(ColumnCandidate),
			PodcastTitle:  cell(ColumnShow),
			EpisodeTitle:  cell(ColumnEpisode),
			DatePosted:    cell(ColumnDate),
			Hyperlink:     cell(ColumnHyperlink),
			Row:           line,
		})
	}

	return refs, nil
}

func headerKey(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
