// Package download retrieves resolved document URLs to disk, riding out
// transient failures, access blocks, and broken certificate chains.
package download

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/resilience"
)

// FailureKind names the terminal failure class of a fetch.
type FailureKind string

const (
	FailNone      FailureKind = ""
	FailTransient FailureKind = "transient"
	FailForbidden FailureKind = "forbidden"
	FailCorrupt   FailureKind = "corrupt"
)

// Outcome is the result of one Fetch call, consumed immediately by the
// caller.
type Outcome struct {
	OK    bool
	Bytes int64
	Pages int // 0 when structural verification was skipped or failed
	Kind  FailureKind
	Err   error
}

// pdfMagic is the signature expected at the start of a PDF body.
var pdfMagic = []byte("%PDF")

// userAgents is the identity pool rotated across attempts; some publishers
// block a repeated agent after the first refusal.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
}

// Options configures a Downloader.
type Options struct {
	MaxAttempts    int           // default 3
	Timeout        time.Duration // per-transfer, default 60s
	MinSize        int64         // bytes below which a download is corrupt, default 1000
	ForbiddenDelay time.Duration // wait after a 403 before the next attempt, default 5s
	BackoffUnit    time.Duration // base for 2^attempt backoff, default 1s
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MinSize <= 0 {
		o.MinSize = 1000
	}
	if o.ForbiddenDelay <= 0 {
		o.ForbiddenDelay = 5 * time.Second
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	return o
}

// Downloader fetches documents with retry, identity rotation, and content
// validation. A zero Downloader is not usable; construct with NewDownloader.
type Downloader struct {
	secure   *http.Client
	insecure *http.Client
	opts     Options
}

// NewDownloader creates a Downloader with the given options.
func NewDownloader(opts Options) *Downloader {
	opts = opts.withDefaults()
	return &Downloader{
		secure: &http.Client{Timeout: opts.Timeout},
		insecure: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // cert-failure fallback only
			},
		},
		opts: opts,
	}
}

// Fetch retrieves rawURL into dest. authClient, when non-nil, is an
// authenticated session client already scoped to the URL's domain and is
// used for every attempt. A failed terminal state never leaves a partial
// file at dest.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string, authClient *http.Client) Outcome {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "ftp" {
		return d.fetchFTP(ctx, rawURL, dest)
	}

	var last Outcome
	for attempt := 0; attempt < d.opts.MaxAttempts; attempt++ {
		zap.L().Info("download: attempt",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", d.opts.MaxAttempts),
		)

		last = d.attempt(ctx, rawURL, dest, attempt, authClient)
		if last.OK {
			return last
		}
		removeIfExists(dest)

		if attempt >= d.opts.MaxAttempts-1 {
			break
		}

		// 403 gets a flat, longer pause before the next identity; anything
		// else backs off exponentially.
		var delay time.Duration
		if last.Kind == FailForbidden {
			delay = d.opts.ForbiddenDelay
			zap.L().Warn("download: access forbidden, waiting before next attempt",
				zap.String("url", rawURL),
				zap.Duration("delay", delay),
			)
		} else {
			delay = time.Duration(math.Pow(2, float64(attempt))) * d.opts.BackoffUnit
			zap.L().Warn("download: attempt failed, backing off",
				zap.String("url", rawURL),
				zap.Duration("delay", delay),
				zap.Error(last.Err),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			last.Err = eris.Wrap(ctx.Err(), "download: cancelled")
			return last
		case <-timer.C:
		}
	}

	removeIfExists(dest)
	return last
}

func (d *Downloader) attempt(ctx context.Context, rawURL, dest string, attempt int, authClient *http.Client) Outcome {
	req, err := d.newRequest(ctx, rawURL, attempt)
	if err != nil {
		return Outcome{Kind: FailTransient, Err: err}
	}

	resp, err := d.do(req, authClient)
	if err != nil {
		return Outcome{Kind: FailTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return Outcome{
			Kind: FailForbidden,
			Err:  eris.Errorf("download: 403 from %s (may require subscription access)", rawURL),
		}
	case resp.StatusCode >= 400:
		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			// Still retried: publishers serve erratic 4xx under load.
			zap.L().Warn("download: non-transient status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
			)
		}
		return Outcome{Kind: FailTransient, Err: eris.Errorf("download: status %d from %s", resp.StatusCode, rawURL)}
	}

	body := bufio.NewReader(resp.Body)
	d.warnIfNotPDF(rawURL, resp, body)

	n, err := writeFile(dest, body)
	if err != nil {
		return Outcome{Kind: FailTransient, Err: eris.Wrapf(err, "download: write %s", dest)}
	}

	if n < d.opts.MinSize {
		return Outcome{
			Bytes: n,
			Kind:  FailCorrupt,
			Err:   eris.Errorf("download: %s is %d bytes, below the %d-byte floor", dest, n, d.opts.MinSize),
		}
	}

	pages := verifyPDF(dest)
	zap.L().Info("download: complete",
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Int("pages", pages),
	)
	return Outcome{OK: true, Bytes: n, Pages: pages}
}

// do issues the request on the session client when present, else the secure
// client. Either way a certificate validation failure gets one unverified
// retry; the session's cookie jar carries over to that retry.
func (d *Downloader) do(req *http.Request, authClient *http.Client) (*http.Response, error) {
	client := authClient
	if client == nil {
		client = d.secure
	}

	resp, err := client.Do(req)
	if err == nil {
		return resp, nil
	}
	if !resilience.IsCertError(err) {
		return nil, eris.Wrapf(err, "download: get %s", req.URL.String())
	}

	zap.L().Warn("download: certificate validation failed, retrying without verification",
		zap.String("url", req.URL.String()),
	)
	fallback := d.insecure
	if authClient != nil {
		// Keep the session's cookie jar on the unverified retry.
		fallback = &http.Client{
			Timeout:   authClient.Timeout,
			Jar:       authClient.Jar,
			Transport: d.insecure.Transport,
		}
	}
	retry := req.Clone(req.Context())
	resp, err = fallback.Do(retry)
	if err != nil {
		return nil, eris.Wrapf(err, "download: insecure get %s", req.URL.String())
	}
	return resp, nil
}

func (d *Downloader) newRequest(ctx context.Context, rawURL string, attempt int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "download: create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", userAgents[attempt%len(userAgents)])
	req.Header.Set("Accept", "application/pdf,application/octet-stream,*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// Some hosts refuse referrer-less document requests.
	req.Header.Set("Referer", rawURL)
	return req, nil
}

// warnIfNotPDF checks the content-type header and, failing that, peeks at
// the first bytes for the PDF signature. Absence is logged, not fatal: some
// publishers serve PDFs under generic content types.
func (d *Downloader) warnIfNotPDF(rawURL string, resp *http.Response, body *bufio.Reader) {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "pdf") || strings.HasSuffix(strings.ToLower(rawURL), ".pdf") {
		return
	}
	head, _ := body.Peek(len(pdfMagic))
	if !bytes.HasPrefix(head, pdfMagic) {
		zap.L().Warn("download: response does not look like a PDF, continuing",
			zap.String("url", rawURL),
			zap.String("content_type", contentType),
		)
	}
}

// verifyPDF opens the written file as a PDF and returns its page count,
// or 0 when the structure does not parse. Verification failure is advisory.
func verifyPDF(path string) int {
	f, reader, err := pdf.Open(path)
	if err != nil {
		zap.L().Warn("download: saved file failed PDF verification",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0
	}
	defer func() { _ = f.Close() }()
	return reader.NumPage()
}

func writeFile(dest string, r io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

func removeIfExists(path string) {
	if _, err := os.Stat(path); err == nil {
		if rmErr := os.Remove(path); rmErr != nil {
			zap.L().Error("download: failed to remove partial file",
				zap.String("path", path),
				zap.Error(rmErr),
			)
		}
	}
}
