package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/internal/classifier"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
	"bunkrgrab/internal/util"
)

// Album page structure: the title lives in the subs container's h1, each
// item is an anchor stretched over its card. The class lists are utility
// soup but they are the only stable hooks the markup offers.
const (
	titleSelector = "div.text-subs h1"
	itemSelector  = `a[class*="after:absolute"][class*="after:inset-0"][href]`
)

// Crawler turns an album page into an ordered list of item descriptors.
type Crawler struct {
	client *fetch.Client
	log    *logging.Logger
}

func New(client *fetch.Client, log *logging.Logger) *Crawler {
	return &Crawler{client: client, log: log.With("crawler")}
}

// Crawl fetches and parses the album page for a classified URL. For single
// URLs it synthesizes a one-item task without touching the network. A page
// without the expected anchors is a CrawlError: fatal for the whole album,
// no partial crawl.
func (c *Crawler) Crawl(ctx context.Context, res classifier.Result) (*model.AlbumTask, error) {
	if res.Kind == classifier.KindSingle {
		return &model.AlbumTask{
			URL:  res.URL,
			Name: res.ID,
			Items: []*model.MediaItem{{
				PageURL: res.URL,
				Status:  model.StatusPending,
			}},
		}, nil
	}

	doc, err := c.client.Page(ctx, res.URL)
	if err != nil {
		return nil, &errs.CrawlError{URL: res.URL, Reason: "fetch failed", Cause: err}
	}
	if fetch.BlockedBody(doc) {
		return nil, &errs.CrawlError{URL: res.URL, Reason: "blocked by protection page"}
	}

	task := &model.AlbumTask{URL: res.URL, Name: albumName(doc, res.ID)}
	var badHref error
	doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		page, err := classifier.NormalizeItemPage(res.URL, href)
		if err != nil {
			// A malformed href skips that item, not the album.
			badHref = err
			return
		}
		task.Items = append(task.Items, &model.MediaItem{
			PageURL:  page,
			FileName: itemNameHint(s),
			Status:   model.StatusPending,
		})
	})
	if len(task.Items) == 0 {
		if badHref != nil {
			return nil, &errs.CrawlError{URL: res.URL, Reason: "no usable item anchors", Cause: badHref}
		}
		return nil, &errs.CrawlError{URL: res.URL, Reason: "no item anchors found"}
	}
	c.log.Infof("album %q: %d items", task.Name, len(task.Items))
	return task, nil
}

// albumName prefers the page title, falling back to the album id when the
// container is missing. The result is filesystem-safe.
func albumName(doc *goquery.Document, id string) string {
	if t := strings.TrimSpace(doc.Find(titleSelector).First().Text()); t != "" {
		return util.SafeName(t)
	}
	return util.SafeName(id)
}

// itemNameHint lifts a filename hint from the card when present, so filter
// rules can reject items before any resolution work.
func itemNameHint(s *goquery.Selection) string {
	if t := strings.TrimSpace(s.Find("p").First().Text()); t != "" {
		return t
	}
	if t, ok := s.Attr("title"); ok {
		return strings.TrimSpace(t)
	}
	return ""
}
