package catalog

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Record carries the row fields the merger needs to build a catalog entry.
type Record struct {
	Year        string
	FirstAuthor string
	Title       string
	URL         string // empty when no document URL resolved
}

var (
	nonAlphaRe    = regexp.MustCompile(`[^a-zA-Z]`)
	nonAlnumWSRe  = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// foldDiacritics decomposes accented runes and strips the combining marks,
// so "Müller" survives as "Muller" instead of losing the rune entirely.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(s string) string {
	out, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		return s
	}
	return out
}

// PublicationID derives the stable catalog identifier: year, an
// alphabetic-only truncation of the primary author's surname, and the first
// five alphanumeric words of the title, lowercased and underscore-joined.
func PublicationID(year, firstAuthor, title string) string {
	author := nonAlphaRe.ReplaceAllString(fold(firstAuthor), "")
	if len(author) > 15 {
		author = author[:15]
	}

	titleWords := strings.Fields(nonAlnumWSRe.ReplaceAllString(fold(title), ""))
	if len(titleWords) > 5 {
		titleWords = titleWords[:5]
	}

	id := strings.ToLower(year + "_" + author + "_" + strings.Join(titleWords, "_"))
	return underscoresRe.ReplaceAllString(id, "_")
}

// GroupKey categorizes a raw year string: integer years at or above cutoff
// keep their value, everything else lands in the "older" bucket.
func GroupKey(year string, cutoff int) YearKey {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < cutoff {
		return OlderYearKey()
	}
	return NumericKey(y)
}

// Merge inserts a record into the catalog, grouped by categorized year.
// A case-insensitive exact title match anywhere in the catalog blocks the
// insertion: the bool result is false for duplicates.
func Merge(cat Catalog, rec Record, cutoff int) (Catalog, bool) {
	titleLower := strings.ToLower(rec.Title)
	for _, group := range cat {
		for _, pub := range group.Publications {
			if strings.ToLower(pub.Title) == titleLower {
				zap.L().Warn("catalog: duplicate publication skipped",
					zap.String("title", rec.Title),
				)
				return cat, false
			}
		}
	}

	pub := Publication{
		ID:     PublicationID(rec.Year, rec.FirstAuthor, rec.Title),
		Title:  rec.Title,
		URL:    rec.URL,
		Type:   "journal",
		Status: "published",
	}

	key := GroupKey(rec.Year, cutoff)
	zap.L().Info("catalog: adding publication",
		zap.String("id", pub.ID),
		zap.String("year", key.String()),
	)

	for i := range cat {
		if cat[i].Year == key {
			cat[i].Publications = append(cat[i].Publications, pub)
			return cat, true
		}
	}
	return append(cat, YearGroup{Year: key, Publications: []Publication{pub}}), true
}
