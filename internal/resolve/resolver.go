// Package resolve turns a publication identifier into a best-guess document
// URL by following the public resolver's redirects and inspecting the
// publisher landing page with layered heuristics.
package resolve

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/doi"
	"github.com/midel-lab/pubfetch/internal/resilience"
)

// browserUA mimics a desktop browser; resolver endpoints and several
// publishers refuse obviously-scripted agents.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Resolution is the outcome of one identifier resolution.
type Resolution struct {
	URL    string
	Source Source
	// Direct is true when the resolver's final redirect already pointed at
	// the document, with no page inspection needed.
	Direct bool
}

// Options configures a Resolver.
type Options struct {
	Timeout   time.Duration // default 30s
	UserAgent string
	Rules     []PublisherRule

	// ResolverBase and FallbackBases override the public DOI resolver
	// authorities. Identifier strings are appended verbatim.
	ResolverBase  string
	FallbackBases []string
}

// Resolver resolves identifiers against the public DOI resolver. It holds
// two clients: the secure one is always tried first, the insecure one is
// used only when the secure attempt fails on certificate validation.
type Resolver struct {
	secure     *http.Client
	insecure   *http.Client
	strategies []Strategy
	ua         string
	base       string
	fallbacks  []string
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts Options) *Resolver {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = browserUA
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultPublisherRules()
	}
	if opts.ResolverBase == "" {
		opts.ResolverBase = doi.ResolverBase
	}
	if opts.FallbackBases == nil {
		opts.FallbackBases = doi.AlternativeResolverBases
	}

	return &Resolver{
		secure: &http.Client{Timeout: opts.Timeout},
		insecure: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // cert-failure fallback only
			},
		},
		// Priority order: citation metadata beats publisher rules beats
		// generic anchor scanning.
		strategies: []Strategy{
			metaTagStrategy,
			publisherStrategy(rules),
			anchorStrategy,
		},
		ua:        opts.UserAgent,
		base:      opts.ResolverBase,
		fallbacks: opts.FallbackBases,
	}
}

// Resolve resolves a canonical identifier through the primary resolver.
// Resolution failure is common and expected: callers treat any error as
// "no resolution" for the row, never as a batch-fatal condition.
func (r *Resolver) Resolve(ctx context.Context, id string) (Resolution, error) {
	return r.resolveFrom(ctx, r.base+id)
}

// ResolveWithFallbacks tries the primary resolver, then each alternative
// resolver authority, returning the first successful resolution.
func (r *Resolver) ResolveWithFallbacks(ctx context.Context, id string) (Resolution, error) {
	res, err := r.Resolve(ctx, id)
	if err == nil {
		return res, nil
	}

	lastErr := err
	for _, base := range r.fallbacks {
		alt := base + id
		zap.L().Info("resolve: trying alternative resolver",
			zap.String("doi", id),
			zap.String("resolver", alt),
		)
		res, err = r.resolveFrom(ctx, alt)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return Resolution{}, eris.Wrapf(lastErr, "resolve: all resolvers failed for %s", id)
}

func (r *Resolver) resolveFrom(ctx context.Context, resolverURL string) (Resolution, error) {
	resp, err := r.get(ctx, resolverURL)
	if err != nil {
		return Resolution{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return Resolution{}, eris.Errorf("resolve: status %d from %s", resp.StatusCode, resolverURL)
	}

	landing := resp.Request.URL
	zap.L().Debug("resolve: landed on publisher page",
		zap.String("resolver", resolverURL),
		zap.String("landing", landing.String()),
	)

	// Redirected straight to the document: done.
	if strings.HasSuffix(strings.ToLower(landing.Path), ".pdf") {
		return Resolution{URL: landing.String(), Source: SourceRedirect, Direct: true}, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Resolution{}, eris.Wrap(err, "resolve: parse landing page")
	}

	// Pool candidates across strategies, then take the first one that
	// survives absolutization and the URL-shape filter, in strategy order.
	for _, strategy := range r.strategies {
		for _, cand := range strategy(doc, landing) {
			abs, err := absolutize(cand.URL, landing)
			if err != nil {
				zap.L().Debug("resolve: skipping unparseable candidate",
					zap.String("href", cand.URL),
					zap.Error(err),
				)
				continue
			}
			if LikelyPDFURL(abs) {
				zap.L().Info("resolve: found document candidate",
					zap.String("url", abs),
					zap.String("source", string(cand.Source)),
				)
				return Resolution{URL: abs, Source: cand.Source}, nil
			}
		}
	}

	// The landing page may itself be the document behind a handler URL.
	zap.L().Warn("resolve: no candidate survived, falling back to landing page",
		zap.String("landing", landing.String()),
	)
	return Resolution{URL: landing.String(), Source: SourceLanding}, nil
}

// get issues a redirect-following GET with the secure client, falling back
// to the insecure client only on certificate validation failure.
func (r *Resolver) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := r.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := r.secure.Do(req)
	if err == nil {
		return resp, nil
	}
	if !resilience.IsCertError(err) {
		return nil, eris.Wrapf(err, "resolve: get %s", rawURL)
	}

	zap.L().Warn("resolve: certificate validation failed, retrying without verification",
		zap.String("url", rawURL),
	)
	req, err = r.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err = r.insecure.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: insecure get %s", rawURL)
	}
	return resp, nil
}

func (r *Resolver) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, eris.Wrapf(err, "resolve: parse url %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: create request")
	}
	req.Header.Set("User-Agent", r.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	return req, nil
}
