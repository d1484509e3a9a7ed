package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(base string) *Resolver {
	return NewResolver(Options{
		Timeout:       2 * time.Second,
		ResolverBase:  base + "/resolve/",
		FallbackBases: []string{},
	})
}

func TestResolve_DirectPDFRedirect(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/content/paper.pdf", http.StatusFound)
	})
	mux.HandleFunc("/content/paper.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	res, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.True(t, res.Direct)
	assert.Equal(t, SourceRedirect, res.Source)
	assert.Equal(t, srv.URL+"/content/paper.pdf", res.URL)
}

func TestResolve_MetaTagWins(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/article/1", http.StatusFound)
	})
	mux.HandleFunc("/article/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
			<meta name="citation_pdf_url" content="/files/1.pdf">
		</head><body>
			<a href="/other/download">Download</a>
		</body></html>`))
	})

	res, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.False(t, res.Direct)
	assert.Equal(t, SourceMetaTag, res.Source)
	assert.Equal(t, srv.URL+"/files/1.pdf", res.URL)
}

func TestResolve_AnchorHeuristicFallback(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/article/1", http.StatusFound)
	})
	mux.HandleFunc("/article/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a href="/about">About</a>
			<a href="/files/paper.pdf">Full Text</a>
		</body></html>`))
	})

	res, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.Equal(t, SourceAnchor, res.Source)
	assert.Equal(t, srv.URL+"/files/paper.pdf", res.URL)
}

func TestResolve_LandingPageLastResort(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/resolve/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/article/1", http.StatusFound)
	})
	mux.HandleFunc("/article/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>abstract only</p></body></html>`))
	})

	res, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.Equal(t, SourceLanding, res.Source)
	assert.Equal(t, srv.URL+"/article/1", res.URL)
}

func TestResolve_ErrorStatusIsResolutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	assert.Error(t, err)
}

func TestResolveWithFallbacks_UsesAlternativeResolver(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	mux := http.NewServeMux()
	working := httptest.NewServer(mux)
	defer working.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, working.URL+"/paper.pdf", http.StatusFound)
	})
	mux.HandleFunc("/paper.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	r := NewResolver(Options{
		Timeout:       2 * time.Second,
		ResolverBase:  broken.URL + "/resolve/",
		FallbackBases: []string{working.URL + "/alt/"},
	})

	res, err := r.ResolveWithFallbacks(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.True(t, res.Direct)
}

func TestResolve_InsecureFallbackOnCertFailure(t *testing.T) {
	// TLS server with a self-signed cert: the secure client fails on
	// certificate validation and the insecure client must take over.
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/resolve/10.1/x" {
			http.Redirect(w, r, "/paper.pdf", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	res, err := newTestResolver(srv.URL).Resolve(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.True(t, res.Direct)
}

func TestResolve_NonCertErrorDoesNotFallBack(t *testing.T) {
	r := newTestResolver("http://127.0.0.1:1")
	_, err := r.Resolve(context.Background(), "10.1/x")
	assert.Error(t, err)
}
