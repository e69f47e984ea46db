package util

import (
	"net/url"
	pathpkg "path"
	"path/filepath"
	"strings"
)

// SafeName returns a conservative, cross-platform-safe file or directory
// name. It trims spaces, preserves the extension, and replaces any rune not
// in [A-Za-z0-9._ -] with '-', collapsing runs of '-'. Falls back to
// "download" when empty after cleaning.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "download"
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	var b strings.Builder
	prevDash := false
	for _, r := range base {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '_' || r == '-' || r == '.' || r == ' '
		if ok {
			b.WriteRune(r)
			prevDash = false
		} else {
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	clean := strings.Trim(b.String(), "-. ")
	if clean == "" {
		clean = "download"
	}
	return clean + ext
}

// URLPathBase extracts the last element of the URL path, ignoring query and
// fragment. Bunkr direct links encode the filename as the final segment.
func URLPathBase(u string) string {
	s := strings.TrimSpace(u)
	if s == "" {
		return "download"
	}
	if pu, err := url.Parse(s); err == nil && pu != nil {
		p := pu.Path
		b := pathpkg.Base(p)
		if b != "" && b != "/" && b != "." {
			if dec, err := url.PathUnescape(b); err == nil {
				return dec
			}
			return b
		}
		return "download"
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	b := filepath.Base(s)
	if b == "" || b == "/" || b == "." {
		return "download"
	}
	return b
}
