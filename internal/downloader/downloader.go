package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/hoststatus"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/metrics"
)

// Result reports one completed transfer.
type Result struct {
	Bytes   int64
	Elapsed time.Duration
}

// Engine streams resolved direct URLs to disk. Writes land in a .part file
// and are renamed only after the byte count checks out, so a crash or
// cancellation never leaves a truncated file under its final name.
type Engine struct {
	cfg     *config.Config
	client  *fetch.Client
	status  *hoststatus.Checker
	log     *logging.Logger
	metrics *metrics.Manager
}

func New(cfg *config.Config, client *fetch.Client, status *hoststatus.Checker, log *logging.Logger, m *metrics.Manager) *Engine {
	return &Engine{cfg: cfg, client: client, status: status, log: log.With("download"), metrics: m}
}

// Exists reports whether dest already holds a complete copy, the skip check
// that makes re-runs idempotent. A HEAD preflight catches files left behind
// at the wrong size by an older client; when the preflight itself fails the
// non-empty file is trusted.
func (e *Engine) Exists(ctx context.Context, url, dest string) bool {
	fi, err := os.Stat(dest)
	if err != nil || fi.Size() == 0 {
		return false
	}
	resp, err := e.client.Head(ctx, url)
	if err != nil {
		return true
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 && resp.ContentLength != fi.Size() {
		e.log.Debugf("size mismatch for %s: have %d, server %d", dest, fi.Size(), resp.ContentLength)
		return false
	}
	return true
}

// Download fetches url into dest. Transient failures retry with exponential
// backoff up to the configured ceiling; non-retryable statuses and
// filesystem errors fail immediately.
func (e *Engine) Download(ctx context.Context, url, dest string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &errs.FilesystemError{Path: filepath.Dir(dest), Err: err}
	}

	start := time.Now()
	var written int64
	minWait := time.Duration(e.cfg.Concurrency.Backoff.MinMS) * time.Millisecond
	maxWait := time.Duration(e.cfg.Concurrency.Backoff.MaxMS) * time.Millisecond
	backoff := retry.WithCappedDuration(maxWait,
		retry.WithMaxRetries(uint64(e.cfg.Concurrency.MaxRetries-1), retry.NewExponential(minWait)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			e.metrics.IncRetries(1)
			e.log.Debugf("retry %d for %s", attempt, url)
		}
		n, err := e.attempt(ctx, url, dest)
		if err == nil {
			written = n
			return nil
		}
		var de *errs.DownloadError
		if errors.As(err, &de) && de.Retryable {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		// Unwrap the retry package's marker so callers see our taxonomy.
		var de *errs.DownloadError
		if errors.As(err, &de) {
			return nil, de
		}
		var fe *errs.FilesystemError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &errs.DownloadError{URL: url, Retryable: false, Err: err}
	}

	e.metrics.AddBytes(written)
	e.metrics.IncDownloadsSuccess()
	elapsed := time.Since(start)
	e.metrics.ObserveDownloadSeconds(elapsed.Seconds())
	return &Result{Bytes: written, Elapsed: elapsed}, nil
}

// attempt performs one transfer into the .part file. The part file is
// removed on any failure so the next attempt starts clean.
func (e *Engine) attempt(ctx context.Context, url, dest string) (int64, error) {
	resp, err := e.client.Get(ctx, url)
	if err != nil {
		// No response at all usually means the serving subdomain died;
		// record it so sibling items skip straight to fallback.
		if e.status != nil && ctx.Err() == nil {
			if name := e.status.MarkOffline(url); name != "" {
				e.log.Warnf("subdomain %s marked offline", name)
			}
		}
		return 0, &errs.DownloadError{URL: url, Retryable: ctx.Err() == nil, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, &errs.DownloadError{URL: url, Status: resp.StatusCode, Retryable: errs.RetryableStatus(resp.StatusCode)}
	}

	part := dest + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, &errs.FilesystemError{Path: part, Err: err}
	}

	buf := make([]byte, copyBufSize(resp.ContentLength))
	written, err := io.CopyBuffer(f, resp.Body, buf)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return 0, &errs.DownloadError{URL: url, Retryable: ctx.Err() == nil, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return 0, &errs.FilesystemError{Path: part, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return 0, &errs.FilesystemError{Path: part, Err: err}
	}

	// Integrity: the write is complete only when the byte count matches
	// the declared length, or is non-zero when the server declared none.
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		_ = os.Remove(part)
		return 0, &errs.DownloadError{
			URL:       url,
			Retryable: true,
			Err:       fmt.Errorf("short body: %d of %d bytes", written, resp.ContentLength),
		}
	}
	if written == 0 {
		_ = os.Remove(part)
		return 0, &errs.DownloadError{URL: url, Retryable: true, Err: errors.New("empty body")}
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, &errs.FilesystemError{Path: dest, Err: err}
	}
	return written, nil
}

// copyBufSize scales the copy buffer with the declared size: small media
// gets small buffers, multi-hundred-megabyte videos get 1 MiB.
func copyBufSize(contentLength int64) int {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case contentLength < 0:
		return 128 * kb
	case contentLength < 1*mb:
		return 16 * kb
	case contentLength < 10*mb:
		return 64 * kb
	case contentLength < 50*mb:
		return 128 * kb
	case contentLength < 250*mb:
		return 512 * kb
	default:
		return 1 * mb
	}
}
