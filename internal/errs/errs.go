package errs

import (
	"errors"
	"fmt"
)

// The error taxonomy separates per-URL fatal errors, album-fatal errors and
// item-level errors that the coordinator retries or falls back on. Workers
// catch item-level errors at the item boundary; sibling items keep running.

// InvalidURLError marks a URL that does not match the platform's known
// host/path patterns. Never retried; the URL is reported and skipped.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// CrawlError is fatal for the whole album: the expected structural anchors
// are absent, meaning the site layout changed or the album is gone.
type CrawlError struct {
	URL    string
	Reason string
	Cause  error
}

func (e *CrawlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crawl %s: %s: %v", e.URL, e.Reason, e.Cause)
	}
	return fmt.Sprintf("crawl %s: %s", e.URL, e.Reason)
}

func (e *CrawlError) Unwrap() error { return e.Cause }

// ResolutionCause explains why the fast path gave up on an item.
type ResolutionCause string

const (
	// CauseBlocked: the host status check reported the serving subdomain
	// as non-operational, or the page fetch was intercepted by the
	// anti-scraping layer.
	CauseBlocked ResolutionCause = "blocked"
	// CauseEmpty: the page parsed but contained no media source.
	CauseEmpty ResolutionCause = "empty"
	// CauseExhausted: the fast fetch errored past its retry budget.
	CauseExhausted ResolutionCause = "exhausted"
)

// ResolutionError reports a failed fast-path resolution. The coordinator
// reacts by dispatching the item to the rendering fallback; a second
// ResolutionError from the fallback is terminal.
type ResolutionError struct {
	PageURL string
	Cause   ResolutionCause
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.PageURL, e.Cause, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.PageURL, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DownloadError reports a failed byte transfer. Retryable errors are retried
// up to the configured ceiling; non-retryable statuses fail immediately.
type DownloadError struct {
	URL       string
	Status    int // HTTP status when applicable, 0 otherwise
	Retryable bool
	Err       error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FilesystemError wraps disk or permission problems. Retries cannot fix
// these, so the item fails immediately.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error classification permits another
// attempt of the same path.
func IsRetryable(err error) bool {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Retryable
	}
	var fe *FilesystemError
	if errors.As(err, &fe) {
		return false
	}
	var ie *InvalidURLError
	if errors.As(err, &ie) {
		return false
	}
	return false
}

// RetryableStatus classifies an HTTP status code for the download and fast
// resolution paths. 429 and transient 5xx retry; client errors for missing
// or forbidden resources do not.
func RetryableStatus(code int) bool {
	switch {
	case code == 429:
		return true
	case code == 500, code == 502, code == 503, code == 504:
		return true
	default:
		return false
	}
}
