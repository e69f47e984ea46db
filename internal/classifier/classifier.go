package classifier

import (
	"net/url"
	"regexp"
	"strings"

	"bunkrgrab/internal/errs"
)

// Kind is the coarse shape of a platform URL.
type Kind string

const (
	KindAlbum  Kind = "album"
	KindSingle Kind = "single"
)

// Result carries the classification and the normalized URL the crawler and
// resolver operate on.
type Result struct {
	Kind Kind
	URL  string
	ID   string
}

// Hosts rotate TLDs frequently; accept any bunkr/bunkrr domain and validate
// the path shape instead.
var hostPattern = regexp.MustCompile(`^(?:[a-z0-9-]+\.)?bunkrr?\.[a-z]{2,6}$`)

// Path markers: 'a' albums, 'v' single viewer pages, 'i' picture pages,
// 'd' archive-style direct-download pages.
var pathMarkers = map[string]Kind{
	"a": KindAlbum,
	"v": KindSingle,
	"i": KindSingle,
	"d": KindSingle,
}

// Classify validates a raw URL against the platform's known host/path
// patterns and normalizes it. Archive-style links (/d/) and picture pages
// (/i/) are rewritten to the viewer form (/v/) so the resolver can extract
// metadata instead of triggering an immediate binary response.
func Classify(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "unparseable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "unsupported scheme"}
	}
	host := strings.ToLower(u.Hostname())
	if !hostPattern.MatchString(host) {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "unknown host"}
	}

	segs := splitPath(u.Path)
	if len(segs) != 2 {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "unexpected path shape"}
	}
	marker, id := segs[0], segs[1]
	kind, ok := pathMarkers[marker]
	if !ok {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "unknown path marker"}
	}
	if id == "" {
		return Result{}, &errs.InvalidURLError{URL: raw, Reason: "missing identifier"}
	}

	if marker == "d" || marker == "i" {
		marker = "v"
	}
	u.Scheme = "https"
	u.Path = "/" + marker + "/" + id
	u.RawQuery = ""
	u.Fragment = ""
	return Result{Kind: kind, URL: u.String(), ID: id}, nil
}

// NormalizeItemPage applies the same viewer rewrite to an item href lifted
// from an album page, resolving it against the album's base URL when it is
// relative.
func NormalizeItemPage(albumURL, href string) (string, error) {
	base, err := url.Parse(albumURL)
	if err != nil {
		return "", &errs.InvalidURLError{URL: albumURL, Reason: "unparseable base"}
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", &errs.InvalidURLError{URL: href, Reason: "unparseable href"}
	}
	u := base.ResolveReference(ref)
	res, err := Classify(u.String())
	if err != nil {
		return "", err
	}
	if res.Kind != KindSingle {
		return "", &errs.InvalidURLError{URL: href, Reason: "album link inside album page"}
	}
	return res.URL, nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
