package resolve

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy inspects a parsed landing page and returns candidate document
// URLs. Strategies are pure: no network access, no shared state. New
// publisher knowledge becomes a new strategy entry or rule, never a branch
// inside an existing one.
type Strategy func(doc *goquery.Document, page *url.URL) []Candidate

// metaTagStrategy reads citation metadata tags. A citation_pdf_url tag is
// the strongest signal a page can give; failing that, any meta tag whose
// content mentions a PDF is worth trying.
func metaTagStrategy(doc *goquery.Document, _ *url.URL) []Candidate {
	var candidates []Candidate

	if content, ok := doc.Find(`meta[name="citation_pdf_url"]`).Attr("content"); ok && content != "" {
		candidates = append(candidates, Candidate{URL: content, Source: SourceMetaTag})
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		if strings.Contains(strings.ToLower(content), ".pdf") {
			candidates = append(candidates, Candidate{URL: content, Source: SourceMetaTag})
		}
	})

	return candidates
}

// anchorStrategy scans every hyperlink for PDF indicator tokens in the
// visible text or the target. It is the generic net under the publisher
// rules; noisy, but the shared URL filter weeds out the junk.
func anchorStrategy(doc *goquery.Document, _ *url.URL) []Candidate {
	textTokens := []string{"pdf", "download", "full text"}
	hrefTokens := []string{".pdf", "pdf", "download"}

	var candidates []Candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" {
			return
		}
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		lowerHref := strings.ToLower(href)

		for _, tok := range textTokens {
			if strings.Contains(text, tok) {
				candidates = append(candidates, Candidate{URL: href, Source: SourceAnchor})
				break
			}
		}
		for _, tok := range hrefTokens {
			if strings.Contains(lowerHref, tok) {
				candidates = append(candidates, Candidate{URL: href, Source: SourceAnchor})
				break
			}
		}
	})

	return candidates
}

// publisherStrategy applies hand-tuned per-publisher link rules. Rules carry
// the domain knowledge generic heuristics miss: PMC's predictable pdf path,
// Wiley's pdfdirect endpoints, IEEE's text-labeled download anchors.
func publisherStrategy(rules []PublisherRule) Strategy {
	return func(doc *goquery.Document, page *url.URL) []Candidate {
		host := strings.ToLower(page.Host)

		var candidates []Candidate
		for _, rule := range rules {
			if !strings.Contains(host, rule.HostContains) {
				continue
			}

			if rule.rewrite != nil {
				if rewritten, ok := rule.rewrite(page); ok {
					candidates = append(candidates, Candidate{URL: rewritten, Source: SourcePublisher})
				}
			}

			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				if href == "" {
					return
				}
				text := strings.ToLower(strings.TrimSpace(s.Text()))
				if rule.Match(strings.ToLower(href), text) {
					candidates = append(candidates, Candidate{URL: href, Source: SourcePublisher})
				}
			})
		}
		return candidates
	}
}
