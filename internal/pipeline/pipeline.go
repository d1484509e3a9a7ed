// Package pipeline orchestrates the per-row resolve, fetch, and catalog
// merge flow. Rows are processed strictly sequentially; a row's failure is
// recorded and never stops the batch.
package pipeline

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/midel-lab/pubfetch/internal/catalog"
	"github.com/midel-lab/pubfetch/internal/doi"
	"github.com/midel-lab/pubfetch/internal/download"
	"github.com/midel-lab/pubfetch/internal/input"
	"github.com/midel-lab/pubfetch/internal/resolve"
	"github.com/midel-lab/pubfetch/internal/session"
)

// Config controls a pipeline run.
type Config struct {
	OutputDir   string
	CatalogPath string
	YearCutoff  int

	// RowsPerSecond throttles row processing to stay polite to publisher
	// servers. Default 1.
	RowsPerSecond float64
}

// FailedRow records a row that could not be downloaded, for the report.
type FailedRow struct {
	Title  string
	Author string
	DOI    string
	Reason string
}

// Summary accumulates the outcome of one run.
type Summary struct {
	RunID     string
	Succeeded int
	Failed    []FailedRow
	Blocked   []string // hosts that returned 403 during the run
}

// Total returns the number of rows processed.
func (s *Summary) Total() int {
	return s.Succeeded + len(s.Failed)
}

// Runner wires the resolver, downloader, and optional session into the
// sequential batch loop.
type Runner struct {
	resolver   *resolve.Resolver
	downloader *download.Downloader
	sess       *session.Manager // nil when running unauthenticated
	limiter    *rate.Limiter
	blocked    *Blocklist
	cfg        Config
}

// NewRunner creates a Runner. sess may be nil.
func NewRunner(r *resolve.Resolver, d *download.Downloader, sess *session.Manager, cfg Config) *Runner {
	if cfg.YearCutoff == 0 {
		cfg.YearCutoff = catalog.DefaultYearCutoff
	}
	if cfg.RowsPerSecond <= 0 {
		cfg.RowsPerSecond = 1
	}
	return &Runner{
		resolver:   r,
		downloader: d,
		sess:       sess,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RowsPerSecond), 1),
		blocked:    NewBlocklist(),
		cfg:        cfg,
	}
}

// Run downloads every row's document into the output directory. Failures
// are per-row; the only errors returned are batch-fatal setup problems or
// context cancellation.
func (r *Runner) Run(ctx context.Context, rows []input.Row) (*Summary, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create output dir %s", r.cfg.OutputDir)
	}

	summary := &Summary{RunID: uuid.NewString()}
	zap.L().Info("pipeline: starting run",
		zap.String("run_id", summary.RunID),
		zap.Int("rows", len(rows)),
	)

	for i, row := range rows {
		if err := r.limiter.Wait(ctx); err != nil {
			summary.Blocked = r.blocked.Hosts()
			return summary, eris.Wrap(err, "pipeline: run cancelled")
		}
		r.processRow(ctx, i, row, summary)
	}

	summary.Blocked = r.blocked.Hosts()
	zap.L().Info("pipeline: run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

func (r *Runner) processRow(ctx context.Context, i int, row input.Row, summary *Summary) {
	if row.Skippable() {
		zap.L().Warn("pipeline: skipping row with missing title or DOI", zap.Int("row", i+1))
		summary.Failed = append(summary.Failed, failedRow(row, "missing title or DOI"))
		return
	}

	id := doi.Normalize(row.DOI)
	if !doi.WellFormed(id) {
		zap.L().Warn("pipeline: identifier does not look like a DOI, continuing",
			zap.Int("row", i+1),
			zap.String("doi", id),
		)
	}

	dest := filepath.Join(r.cfg.OutputDir, Filename(row.Year, row.FirstAuthor, row.Title))
	if _, err := os.Stat(dest); err == nil {
		zap.L().Info("pipeline: file already exists, skipping", zap.String("dest", dest))
		summary.Succeeded++
		return
	}

	res, err := r.resolver.ResolveWithFallbacks(ctx, id)
	if err != nil {
		zap.L().Warn("pipeline: resolution failed",
			zap.Int("row", i+1),
			zap.String("doi", id),
			zap.Error(err),
		)
		summary.Failed = append(summary.Failed, failedRow(row, "could not resolve DOI"))
		return
	}

	host := hostOf(res.URL)
	if r.blocked.Blocked(host) {
		zap.L().Warn("pipeline: host blocked earlier in this run, skipping",
			zap.String("host", host),
		)
		summary.Failed = append(summary.Failed, failedRow(row, "publisher blocked automated access ("+host+")"))
		return
	}

	out := r.downloader.Fetch(ctx, res.URL, dest, r.authClientFor(res.URL))
	if !out.OK {
		if out.Kind == download.FailForbidden {
			r.blocked.Add(host)
			if name, gated := session.SubscriptionDomains[host]; gated {
				zap.L().Warn("pipeline: publisher requires subscription access",
					zap.String("host", host),
					zap.String("publisher", name),
				)
			}
		}
		zap.L().Error("pipeline: download failed",
			zap.Int("row", i+1),
			zap.String("url", res.URL),
			zap.Error(out.Err),
		)
		summary.Failed = append(summary.Failed, failedRow(row, string(out.Kind)+" download failure"))
		return
	}

	summary.Succeeded++
}

// MergeCatalog inserts every complete row into the catalog, resolving a
// document URL best-effort along the way, and persists the result when
// anything was added. Duplicate titles are skipped, never errors.
func (r *Runner) MergeCatalog(ctx context.Context, rows []input.Row) (added, skipped int, err error) {
	cat, err := catalog.Load(r.cfg.CatalogPath)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range rows {
		if row.Skippable() {
			skipped++
			continue
		}

		// URL is best-effort decoration: a failed or implausible resolution
		// leaves it empty rather than failing the merge.
		var docURL string
		if res, rerr := r.resolver.ResolveWithFallbacks(ctx, doi.Normalize(row.DOI)); rerr == nil {
			if resolve.LikelyPDFURL(res.URL) {
				docURL = res.URL
			}
		}

		var inserted bool
		cat, inserted = catalog.Merge(cat, catalog.Record{
			Year:        row.Year,
			FirstAuthor: row.FirstAuthor,
			Title:       row.Title,
			URL:         docURL,
		}, r.cfg.YearCutoff)
		if inserted {
			added++
		} else {
			skipped++
		}
	}

	if added == 0 {
		zap.L().Info("pipeline: no new catalog entries")
		return added, skipped, nil
	}
	if err := catalog.Save(cat, r.cfg.CatalogPath); err != nil {
		return added, skipped, err
	}
	return added, skipped, nil
}

func (r *Runner) authClientFor(rawURL string) *http.Client {
	if r.sess == nil {
		return nil
	}
	return r.sess.ClientFor(rawURL)
}

func failedRow(row input.Row, reason string) FailedRow {
	title := row.Title
	if title == "" {
		title = "Missing Title"
	}
	author := row.FirstAuthor
	if author == "" {
		author = "Missing Author"
	}
	d := row.DOI
	if d == "" {
		d = "Missing DOI"
	}
	return FailedRow{Title: title, Author: author, DOI: d, Reason: reason}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
