// Package doi normalizes publication identifiers and builds resolver URLs.
package doi

import "strings"

// ResolverBase is the primary public DOI resolver.
const ResolverBase = "https://doi.org/"

// AlternativeResolverBases are tried when the primary resolver yields nothing.
var AlternativeResolverBases = []string{
	"https://dx.doi.org/",
	"http://doi.org/",
}

// prefixes recognized by Normalize, in match order. Exactly one is stripped.
var prefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"doi:",
	"DOI:",
}

// Normalize trims whitespace and strips a single recognized URL/scheme prefix
// from a raw identifier. Normalizing an already-canonical identifier returns
// it unchanged. Malformed values pass through untouched.
func Normalize(raw string) string {
	id := strings.TrimSpace(raw)
	for _, p := range prefixes {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}

// WellFormed reports whether id looks like a registered DOI. Callers treat a
// false result as a warning, not a hard failure: resolution on a malformed
// identifier fails downstream without aborting the batch.
func WellFormed(id string) bool {
	return strings.HasPrefix(id, "10.")
}

// ResolverURL builds the primary resolver URL for a canonical identifier.
func ResolverURL(id string) string {
	return ResolverBase + id
}

// AlternativeResolverURLs builds fallback resolver URLs for a canonical
// identifier, tried in order after the primary resolver fails.
func AlternativeResolverURLs(id string) []string {
	urls := make([]string, 0, len(AlternativeResolverBases))
	for _, base := range AlternativeResolverBases {
		urls = append(urls, base+id)
	}
	return urls
}
