// Package naming derives stable episode identities and canonical output
// filenames from catalog references. Every function here is pure and total.
package naming

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Unknown replaces any name that normalizes to nothing.
const Unknown = "unknown"

// Extension is the canonical audio file extension.
const Extension = ".mp3"

const separator = '_'

// Identity is the normalized key addressing one logical episode.
type Identity string

// Parts are the reference fields naming cares about.
type Parts struct {
	Candidate string
	Show      string
	Episode   string
	Date      string
}

// Normalize folds s to ASCII, lowercases it, collapses every run of
// non-alphanumeric characters into a single underscore and trims the
// result. An empty result becomes Unknown.
func Normalize(s string) string {
	folded := foldASCII(s)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte(separator)
			}
			pendingSep = false
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if pendingSep && b.Len() > 0 {
				b.WriteByte(separator)
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}

	if b.Len() == 0 {
		return Unknown
	}
	return b.String()
}

// foldASCII decomposes accented characters and drops the combining marks,
// so "Café" becomes "Cafe". Remaining non-ASCII runes act as separators.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// IdentityOf returns the identity for a reference. The episode title is the
// disambiguator; when it is empty the raw date string takes its place.
func IdentityOf(p Parts) Identity {
	disambiguator := Normalize(p.Episode)
	if disambiguator == Unknown {
		disambiguator = "date_" + Normalize(p.Date)
	}
	return Identity(Normalize(p.Candidate) + "/" + Normalize(p.Show) + "/" + disambiguator)
}

// DateSegment renders a posting date as YYYYMMDD. It accepts M/D/YYYY,
// MM/DD/YYYY, YYYYMMDD and YYYY-MM-DD. Any other input yields now's date and
// ok=false so the caller can log the fallback.
func DateSegment(raw string, now time.Time) (segment string, ok bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"1/2/2006", "20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("20060102"), true
		}
	}
	return now.Format("20060102"), false
}

// BaseName returns the canonical filename stem without a part suffix.
func BaseName(source string, p Parts, now time.Time) string {
	date, _ := DateSegment(p.Date, now)
	return strings.Join([]string{
		Normalize(source),
		Normalize(p.Candidate),
		Normalize(p.Show),
		date,
	}, string(separator))
}

// FileName appends the optional _partN suffix and the extension. Parts below
// 2 produce the plain base name.
func FileName(base string, part int) string {
	if part < 2 {
		return base + Extension
	}
	return fmt.Sprintf("%s_part%d%s", base, part, Extension)
}

// Assignment is the naming decision for one input reference.
type Assignment struct {
	Identity Identity
	FileName string
	// Duplicate is set on every reference after the first with the same identity.
	Duplicate bool
}

// Plan names a batch of references. Distinct identities that share a base
// name are ordered by identity, so the suffixes do not depend on input row
// order: the first keeps the plain name and the others get _part2, _part3
// and so on. The result is index-aligned with refs.
func Plan(source string, refs []Parts, now time.Time) []Assignment {
	out := make([]Assignment, len(refs))
	bases := make(map[string][]Identity)
	baseOf := make(map[Identity]string)
	seen := make(map[Identity]bool)

	for i, ref := range refs {
		id := IdentityOf(ref)
		out[i].Identity = id
		if seen[id] {
			out[i].Duplicate = true
			continue
		}
		seen[id] = true
		base := BaseName(source, ref, now)
		baseOf[id] = base
		bases[base] = append(bases[base], id)
	}

	names := make(map[Identity]string, len(baseOf))
	for base, ids := range bases {
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		for n, id := range ids {
			names[id] = FileName(base, n+1)
		}
	}

	for i := range out {
		out[i].FileName = names[out[i].Identity]
	}
	return out
}
