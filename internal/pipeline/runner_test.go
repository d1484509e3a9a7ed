package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midel-lab/pubfetch/internal/catalog"
	"github.com/midel-lab/pubfetch/internal/download"
	"github.com/midel-lab/pubfetch/internal/input"
	"github.com/midel-lab/pubfetch/internal/resolve"
)

func pdfPayload() []byte {
	body := make([]byte, 2048)
	copy(body, "%PDF-1.4\n")
	return body
}

// newPublisherServer serves /resolve/<id> landing pages whose citation meta
// tag points at /files/<id>.pdf, and the files themselves. Paths under
// /gated/ return 403.
func newPublisherServer(t *testing.T, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/resolve/"):
			id := strings.TrimPrefix(r.URL.Path, "/resolve/")
			fmt.Fprintf(w, `<html><head><meta name="citation_pdf_url" content="%s/files/%s.pdf"></head></html>`, srv.URL, id)
		case strings.HasPrefix(r.URL.Path, "/resolve-gated/"):
			id := strings.TrimPrefix(r.URL.Path, "/resolve-gated/")
			fmt.Fprintf(w, `<html><head><meta name="citation_pdf_url" content="%s/gated/%s.pdf"></head></html>`, srv.URL, id)
		case strings.HasPrefix(r.URL.Path, "/files/"):
			if fetches != nil {
				fetches.Add(1)
			}
			_, _ = w.Write(pdfPayload())
		case strings.HasPrefix(r.URL.Path, "/gated/"):
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRunner(t *testing.T, srvURL, resolvePrefix string) *Runner {
	t.Helper()
	resolver := resolve.NewResolver(resolve.Options{
		ResolverBase:  srvURL + resolvePrefix,
		FallbackBases: []string{},
	})
	dl := download.NewDownloader(download.Options{
		MaxAttempts:    2,
		ForbiddenDelay: time.Millisecond,
		BackoffUnit:    time.Millisecond,
	})
	return NewRunner(resolver, dl, nil, Config{
		OutputDir:     t.TempDir(),
		CatalogPath:   filepath.Join(t.TempDir(), "catalog.json"),
		RowsPerSecond: 1000,
	})
}

func TestRunner_DownloadsRows(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve/")

	rows := []input.Row{
		{Title: "First Paper", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/aaa"},
		{Title: "Second Paper", FirstAuthor: "Jones", Year: "2024", DOI: "doi:10.1000/bbb"},
	}

	summary, err := r.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)

	data, err := os.ReadFile(filepath.Join(r.cfg.OutputDir, "2023-Smith-First Paper.pdf"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	_, err = os.Stat(filepath.Join(r.cfg.OutputDir, "2024-Jones-Second Paper.pdf"))
	assert.NoError(t, err)
}

func TestRunner_SkipsExistingFile(t *testing.T) {
	var fetches atomic.Int64
	srv := newPublisherServer(t, &fetches)
	r := newTestRunner(t, srv.URL, "/resolve/")

	dest := filepath.Join(r.cfg.OutputDir, "2023-Smith-First Paper.pdf")
	require.NoError(t, os.MkdirAll(r.cfg.OutputDir, 0o755))
	require.NoError(t, os.WriteFile(dest, pdfPayload(), 0o644))

	rows := []input.Row{
		{Title: "First Paper", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/aaa"},
	}
	summary, err := r.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int64(0), fetches.Load())
}

func TestRunner_BlocklistsHostAfter403(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve-gated/")

	rows := []input.Row{
		{Title: "Gated One", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/aaa"},
		{Title: "Gated Two", FirstAuthor: "Jones", Year: "2024", DOI: "10.1000/bbb"},
	}
	summary, err := r.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Succeeded)
	require.Len(t, summary.Failed, 2)

	assert.Contains(t, summary.Failed[0].Reason, "forbidden")
	// The second row never reaches the downloader.
	assert.Contains(t, summary.Failed[1].Reason, "blocked automated access")
	require.Len(t, summary.Blocked, 1)
}

func TestRunner_RecordsIncompleteRows(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve/")

	summary, err := r.Run(context.Background(), []input.Row{
		{Title: "No Identifier", FirstAuthor: "Smith", Year: "2023"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "missing title or DOI", summary.Failed[0].Reason)
	assert.Equal(t, "Missing DOI", summary.Failed[0].DOI)
}

func TestRunner_RecordsResolutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	r := newTestRunner(t, srv.URL, "/resolve/")

	summary, err := r.Run(context.Background(), []input.Row{
		{Title: "Unresolvable", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/missing"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "could not resolve DOI", summary.Failed[0].Reason)
}

func TestRunner_Cancellation(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, []input.Row{
		{Title: "Paper", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/aaa"},
	})
	require.Error(t, err)
}

func TestRunner_MergeCatalog(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve/")

	rows := []input.Row{
		{Title: "First Paper", FirstAuthor: "Smith", Year: "2023", DOI: "10.1000/aaa"},
		{Title: "FIRST PAPER", FirstAuthor: "Smith", Year: "2024", DOI: "10.1000/dup"}, // duplicate title
		{Title: "", FirstAuthor: "Jones", Year: "2024", DOI: "10.1000/bbb"},            // skippable
	}

	added, skipped, err := r.MergeCatalog(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, skipped)

	cat, err := catalog.Load(r.cfg.CatalogPath)
	require.NoError(t, err)
	require.Len(t, cat, 1)
	require.Len(t, cat[0].Publications, 1)
	assert.Equal(t, "First Paper", cat[0].Publications[0].Title)
	assert.True(t, strings.HasSuffix(cat[0].Publications[0].URL, "/files/10.1000/aaa.pdf"))
}

func TestRunner_MergeCatalogNoChangesWritesNothing(t *testing.T) {
	srv := newPublisherServer(t, nil)
	r := newTestRunner(t, srv.URL, "/resolve/")

	added, skipped, err := r.MergeCatalog(context.Background(), []input.Row{
		{Title: "", FirstAuthor: "Jones", Year: "2024", DOI: "10.1000/bbb"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, skipped)

	_, statErr := os.Stat(r.cfg.CatalogPath)
	assert.True(t, os.IsNotExist(statErr))
}
