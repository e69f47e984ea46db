package hoststatus

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/logging"
)

const operational = "Operational"

// The status page lists one row per storage server; the row container keeps
// these utility classes across redesigns more reliably than any id.
const serverRowSelector = "div.flex.items-center.gap-4.py-4.border-b.border-soft"

// Store persists offline observations between runs. Satisfied by state.DB.
type Store interface {
	OfflineHosts() ([]string, error)
	SaveOfflineHost(name string) error
}

// Checker caches the platform's server status map and answers whether the
// subdomain serving a direct link is usable. Safe for concurrent use by the
// fast-pool workers.
type Checker struct {
	client *fetch.Client
	page   string
	log    *logging.Logger
	store  Store

	mu      sync.RWMutex
	status  map[string]string
	fetched bool
}

func New(client *fetch.Client, statusPage string, log *logging.Logger, store Store) *Checker {
	c := &Checker{
		client: client,
		page:   statusPage,
		log:    log.With("hoststatus"),
		store:  store,
		status: make(map[string]string),
	}
	if store != nil {
		if hosts, err := store.OfflineHosts(); err == nil {
			for _, h := range hosts {
				c.status[h] = "Non-operational"
			}
		}
	}
	return c
}

// Refresh scrapes the status page once per run. Errors are soft: with no
// status map every subdomain is assumed operational, matching the platform's
// behavior when the status page itself is down.
func (c *Checker) Refresh(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched || c.page == "" {
		return
	}
	c.fetched = true
	doc, err := c.client.Page(ctx, c.page)
	if err != nil {
		c.log.Warnf("status page unavailable: %v", err)
		return
	}
	doc.Find(serverRowSelector).Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Find("p").First().Text())
		st := strings.TrimSpace(s.Find("span").First().Text())
		if name != "" && st != "" {
			c.status[name] = st
		}
	})
	c.log.Debugf("status page: %d servers", len(c.status))
}

// IsOffline reports whether the subdomain of a direct link is marked
// non-operational.
func (c *Checker) IsOffline(directURL string) bool {
	name := SubdomainName(directURL)
	if name == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.status[name]
	return ok && st != operational
}

// MarkOffline records a subdomain observed dead mid-run (no response on
// download) so later items on the same server skip straight to fallback.
// Returns the server name for logging.
func (c *Checker) MarkOffline(directURL string) string {
	name := SubdomainName(directURL)
	if name == "" {
		return ""
	}
	c.mu.Lock()
	c.status[name] = "Non-operational"
	c.mu.Unlock()
	if c.store != nil {
		_ = c.store.SaveOfflineHost(name)
	}
	return name
}

// SubdomainName maps a direct link to the server name used on the status
// page: first host label, capitalized.
func SubdomainName(directURL string) string {
	u, err := url.Parse(directURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
