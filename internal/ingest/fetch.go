package ingest

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/empowerher/riskgrid/internal/resilience"
)

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Retry      resilience.RetryPolicy
	Client     *http.Client
}

// Fetcher downloads incident datasets over HTTP with retries on transient
// failures.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	retry     resilience.RetryPolicy
}

// NewFetcher creates a Fetcher. A zero rate disables limiting.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "riskgrid/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("ingest.download")
	}
	return &Fetcher{
		client:    client,
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     retry,
	}
}

// IsRemote reports whether src is an http(s) URL.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Download fetches rawURL into dir, naming the file after the last URL path
// segment, and returns the written path.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "ingest: parse url")
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("ingest: cannot derive a file name from %q", rawURL)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create download directory")
	}
	dest := filepath.Join(dir, name)

	n, err := resilience.Retry(ctx, f.retry, func(ctx context.Context) (int64, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "ingest: rate limit wait")
		}
		return f.fetchTo(ctx, rawURL, dest)
	})
	if err != nil {
		_ = os.Remove(dest)
		return "", eris.Wrapf(err, "ingest: download %s", rawURL)
	}

	zap.L().Info("ingest: downloaded", zap.String("url", rawURL), zap.String("path", dest), zap.Int64("bytes", n))
	return dest, nil
}

func (f *Fetcher) fetchTo(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &resilience.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		return n, eris.Wrap(err, "ingest: write file")
	}
	return n, nil
}

// ExtractSingle extracts the one file of a ZIP archive into destDir.
// Archives holding more than one file are rejected.
func ExtractSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "ingest: open zip")
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return "", eris.Errorf("ingest: zip must hold exactly 1 file, got %d", len(files))
	}
	return extractEntry(files[0], destDir)
}

func extractEntry(f *zip.File, destDir string) (string, error) {
	// zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("ingest: illegal zip path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "ingest: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "ingest: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "ingest: write file")
	}
	return destPath, nil
}
