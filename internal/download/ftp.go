package download

import (
	"context"
	"net"
	"net/url"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/midel-lab/pubfetch/internal/resilience"
)

// fetchFTP retrieves an ftp:// candidate. Legacy publisher mirrors still
// hand out FTP locations; the identity-rotation and 403 machinery do not
// apply, but the minimum-size and cleanup rules do.
func (d *Downloader) fetchFTP(ctx context.Context, rawURL, dest string) Outcome {
	cfg := resilience.RetryConfig{
		MaxAttempts: d.opts.MaxAttempts,
		BackoffUnit: d.opts.BackoffUnit,
		OnRetry:     resilience.RetryLogger("ftp", "fetch"),
	}

	n, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		return d.ftpOnce(ctx, rawURL, dest)
	})
	if err != nil {
		removeIfExists(dest)
		return Outcome{Kind: FailTransient, Err: err}
	}

	if n < d.opts.MinSize {
		removeIfExists(dest)
		return Outcome{
			Bytes: n,
			Kind:  FailCorrupt,
			Err:   eris.Errorf("download: ftp %s is %d bytes, below the %d-byte floor", dest, n, d.opts.MinSize),
		}
	}

	pages := verifyPDF(dest)
	zap.L().Info("download: ftp complete",
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Int("pages", pages),
	)
	return Outcome{OK: true, Bytes: n, Pages: pages}
}

func (d *Downloader) ftpOnce(ctx context.Context, rawURL, dest string) (int64, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return 0, err
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(d.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrapf(err, "download: ftp dial %s", host), 0)
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return 0, eris.Wrapf(err, "download: ftp login %s", host)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrapf(err, "download: ftp retrieve %s", path), 0)
	}
	defer func() { _ = resp.Close() }()

	n, err := writeFile(dest, resp)
	if err != nil {
		removeIfExists(dest)
		return n, eris.Wrapf(err, "download: ftp write %s", dest)
	}
	return n, nil
}

// parseFTPURL extracts host (with default port 21) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "download: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("download: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("download: empty path in ftp url")
	}

	return host, path, nil
}
