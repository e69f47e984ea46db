package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/internal/config"
)

// Client wraps a tuned http.Client with the headers the platform expects.
// The crawler, resolver and host status checker all fetch pages through it;
// the downloader reuses the underlying transport for byte streams.
type Client struct {
	HTTP      *http.Client
	userAgent string
	referer   string
}

func New(cfg *config.Config) *Client {
	return &Client{
		HTTP:      NewHTTPClient(cfg),
		userAgent: cfg.Network.UserAgent,
		referer:   cfg.Network.Referer,
	}
}

// NewHTTPClient builds the shared transport: pooled connections, modern TLS
// floor, and header preservation across redirects (the CDN bounces direct
// links between subdomains).
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := time.Duration(cfg.Network.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	client := &http.Client{Transport: tr, Timeout: timeout}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) == 0 {
			return nil
		}
		prev := via[len(via)-1]
		for _, h := range []string{"User-Agent", "Referer", "Range"} {
			if v := prev.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}
		return nil
	}
	return client
}

// StatusError reports a non-2xx page fetch. Callers classify it through
// errs.RetryableStatus.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// Page fetches url and parses it into a goquery document.
func (c *Client) Page(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, false)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

// Get issues a decorated GET for a byte stream. The caller owns the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, true)
	return c.HTTP.Do(req)
}

// Head issues a decorated HEAD, used for size preflight and skip checks.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, true)
	return c.HTTP.Do(req)
}

func (c *Client) decorate(req *http.Request, download bool) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if download {
		// Download hosts refuse requests without the gateway referer.
		if c.referer != "" {
			req.Header.Set("Referer", c.referer)
		}
		req.Header.Set("Connection", "keep-alive")
	}
}

// BlockedBody reports whether a page body smells like the anti-scraping
// interstitial rather than real content.
func BlockedBody(doc *goquery.Document) bool {
	title := strings.ToLower(doc.Find("title").Text())
	return strings.Contains(title, "ddos") || strings.Contains(title, "just a moment")
}
