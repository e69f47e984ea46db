package model

import "time"

// Status tracks a media item through resolution and download.
type Status string

const (
	StatusPending           Status = "pending"
	StatusResolvingFast     Status = "resolving_fast"
	StatusResolvingFallback Status = "resolving_fallback"
	StatusResolved          Status = "resolved"
	StatusDownloading       Status = "downloading"
	StatusDone              Status = "done"
	StatusFailed            Status = "failed"
	StatusSkipped           Status = "skipped"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition may occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusSkipped
}

// CanTransition encodes the allowed forward edges of the item state machine.
// The only backward edge, resolving_fast -> pending, is reserved for
// re-queueing an interrupted item; the in-process retry loop keeps the item
// in resolving_fast across attempts.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return to == StatusResolvingFast || to == StatusSkipped || to == StatusFailed
	case StatusResolvingFast:
		return to == StatusResolved || to == StatusResolvingFallback || to == StatusPending || to == StatusFailed
	case StatusResolvingFallback:
		return to == StatusResolved || to == StatusFailed
	case StatusResolved:
		return to == StatusDownloading || to == StatusSkipped || to == StatusFailed
	case StatusDownloading:
		return to == StatusDone || to == StatusFailed
	}
	return false
}

// MediaItem is one media file referenced by an album or a single-file URL.
// Items are created by the crawler (or directly for single-file URLs) and
// mutated only through the coordinator's transition helpers.
type MediaItem struct {
	PageURL          string // item reference page, normalized
	DirectURL        string // resolved byte-fetchable URL, empty until resolved
	FileName         string // target filename; hint from the page until resolved
	Status           Status
	FastAttempts     int
	FallbackAttempts int
	LastError        string
}

// AlbumTask groups the items of one album (or a single file) for one run.
type AlbumTask struct {
	URL   string
	Name  string // sanitized display title, used as the directory name
	Dir   string // destination directory
	Items []*MediaItem
}

// Outstanding counts items that have not reached a terminal status.
func (t *AlbumTask) Outstanding() int {
	n := 0
	for _, it := range t.Items {
		if !it.Status.Terminal() {
			n++
		}
	}
	return n
}

// Outcome is the terminal classification of a DownloadResult.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// DownloadResult is produced exactly once per MediaItem and consumed by the
// progress manager.
type DownloadResult struct {
	Album    string
	PageURL  string
	FileName string
	Dest     string
	Bytes    int64
	Elapsed  time.Duration
	Outcome  Outcome
	Fallback bool // resolved through the rendering path
	Err      error
}
