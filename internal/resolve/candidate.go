package resolve

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies which discovery strategy produced a candidate.
type Source string

const (
	SourceRedirect  Source = "redirect"
	SourceMetaTag   Source = "meta-tag"
	SourcePublisher Source = "publisher-pattern"
	SourceAnchor    Source = "anchor-heuristic"
	SourceLanding   Source = "landing-page"
)

// Candidate is a URL discovered during landing-page inspection that might
// point at the document. Candidates live only for one resolution attempt.
type Candidate struct {
	URL    string
	Source Source
}

// pdfURLTokens mark a URL as plausibly pointing at a PDF even without a
// .pdf suffix (viewer endpoints, download handlers, content-type params).
var pdfURLTokens = []string{
	"pdf",
	"download",
	"filetype=pdf",
	"content-type=application/pdf",
}

// LikelyPDFURL reports whether a URL plausibly points at a PDF document,
// either by extension or by indicator tokens in the path or query.
func LikelyPDFURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".pdf") {
		return true
	}
	for _, tok := range pdfURLTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// absolutize resolves a possibly-relative href against the landing page URL.
// Root-relative and document-relative forms both resolve against the page's
// authority; absolute URLs pass through unchanged.
func absolutize(href string, page *url.URL) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", eris.Wrapf(err, "resolve: parse candidate href %q", href)
	}
	return page.ResolveReference(ref).String(), nil
}
