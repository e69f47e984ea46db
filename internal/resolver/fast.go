package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sethvargo/go-retry"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/hoststatus"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
	"bunkrgrab/internal/util"
)

// Media source selectors on a viewer page: videos and archives expose a
// <source src>, pictures the main media <img>.
const (
	sourceSelector = "source[src]"
	imageSelector  = `img[class*="max-h-full"][class*="object-cover"][src]`
)

// Fast is the non-rendering resolution path: fetch the viewer page, lift the
// media source attribute, verify the serving subdomain is operational.
type Fast struct {
	client  *fetch.Client
	status  *hoststatus.Checker
	log     *logging.Logger
	retries int
	minWait time.Duration
	maxWait time.Duration
}

func NewFast(cfg *config.Config, client *fetch.Client, status *hoststatus.Checker, log *logging.Logger) *Fast {
	return &Fast{
		client:  client,
		status:  status,
		log:     log.With("resolver"),
		retries: cfg.Concurrency.MaxRetries,
		minWait: time.Duration(cfg.Concurrency.Backoff.MinMS) * time.Millisecond,
		maxWait: time.Duration(cfg.Concurrency.Backoff.MaxMS) * time.Millisecond,
	}
}

// Resolve fetches the item page with the fast retry budget and extracts a
// direct URL. Every failure is a *errs.ResolutionError whose cause tells the
// coordinator whether the rendering fallback is worth trying.
func (f *Fast) Resolve(ctx context.Context, item *model.MediaItem) (*Resolved, error) {
	doc, err := f.fetchPage(ctx, item)
	if err != nil {
		return nil, err
	}

	if fetch.BlockedBody(doc) {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseBlocked}
	}

	direct := extractDirect(doc)
	if direct == "" {
		return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseEmpty}
	}
	if f.status != nil && f.status.IsOffline(direct) {
		return nil, &errs.ResolutionError{
			PageURL: item.PageURL,
			Cause:   errs.CauseBlocked,
			Err:     errors.New("serving subdomain marked non-operational"),
		}
	}

	name := item.FileName
	if name == "" {
		name = util.URLPathBase(direct)
	}
	return &Resolved{URL: direct, FileName: name}, nil
}

// fetchPage retries transient fetch errors with exponential backoff. A
// blocking status (403) aborts retries immediately: more requests will not
// un-block us, the renderer might.
func (f *Fast) fetchPage(ctx context.Context, item *model.MediaItem) (*goquery.Document, error) {
	var doc *goquery.Document
	backoff := retry.WithCappedDuration(f.maxWait,
		retry.WithMaxRetries(uint64(f.retries-1), retry.NewExponential(f.minWait)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		item.FastAttempts++
		d, err := f.client.Page(ctx, item.PageURL)
		if err == nil {
			doc = d
			return nil
		}
		var se *fetch.StatusError
		if errors.As(err, &se) {
			if se.Code == http.StatusForbidden {
				return &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseBlocked, Err: err}
			}
			if !errs.RetryableStatus(se.Code) {
				return &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
			}
		}
		f.log.Debugf("fast fetch %s attempt %d: %v", item.PageURL, item.FastAttempts, err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return doc, nil
	}
	var re *errs.ResolutionError
	if errors.As(err, &re) {
		return nil, re
	}
	return nil, &errs.ResolutionError{PageURL: item.PageURL, Cause: errs.CauseExhausted, Err: err}
}

func extractDirect(doc *goquery.Document) string {
	if src, ok := doc.Find(sourceSelector).First().Attr("src"); ok {
		return strings.TrimSpace(src)
	}
	if src, ok := doc.Find(imageSelector).First().Attr("src"); ok {
		return strings.TrimSpace(src)
	}
	return ""
}
