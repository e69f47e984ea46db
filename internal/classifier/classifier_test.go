package classifier

import (
	"errors"
	"testing"

	"bunkrgrab/internal/errs"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    Kind
		url     string
		id      string
		wantErr bool
	}{
		{"album", "https://bunkr.si/a/AbC123", KindAlbum, "https://bunkr.si/a/AbC123", "AbC123", false},
		{"single video", "https://bunkr.si/v/file-x9", KindSingle, "https://bunkr.si/v/file-x9", "file-x9", false},
		{"picture page rewritten", "https://bunkr.si/i/pic-1", KindSingle, "https://bunkr.si/v/pic-1", "pic-1", false},
		{"archive page rewritten", "https://bunkr.si/d/zip-7", KindSingle, "https://bunkr.si/v/zip-7", "zip-7", false},
		{"http upgraded", "http://bunkr.si/a/xyz", KindAlbum, "https://bunkr.si/a/xyz", "xyz", false},
		{"double-r domain", "https://bunkrr.su/a/xyz", KindAlbum, "https://bunkrr.su/a/xyz", "xyz", false},
		{"cdn subdomain", "https://media.bunkr.ru/v/abc", KindSingle, "https://media.bunkr.ru/v/abc", "abc", false},
		{"query stripped", "https://bunkr.si/a/xyz?page=2#top", KindAlbum, "https://bunkr.si/a/xyz", "xyz", false},
		{"surrounding whitespace", "  https://bunkr.si/a/xyz  ", KindAlbum, "https://bunkr.si/a/xyz", "xyz", false},
		{"unknown host", "https://example.com/a/xyz", "", "", "", true},
		{"unknown marker", "https://bunkr.si/x/xyz", "", "", "", true},
		{"missing id", "https://bunkr.si/a/", "", "", "", true},
		{"deep path", "https://bunkr.si/a/b/c", "", "", "", true},
		{"bad scheme", "ftp://bunkr.si/a/xyz", "", "", "", true},
		{"not a url", "://nope", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Classify(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Classify(%q) expected error, got %+v", tt.raw, res)
				}
				var ie *errs.InvalidURLError
				if !errors.As(err, &ie) {
					t.Errorf("error should be InvalidURLError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify(%q): %v", tt.raw, err)
			}
			if res.Kind != tt.kind || res.URL != tt.url || res.ID != tt.id {
				t.Errorf("got %+v, want kind=%s url=%s id=%s", res, tt.kind, tt.url, tt.id)
			}
		})
	}
}

func TestNormalizeItemPage(t *testing.T) {
	album := "https://bunkr.si/a/AbC123"

	t.Run("relative href", func(t *testing.T) {
		got, err := NormalizeItemPage(album, "/v/clip-1")
		if err != nil {
			t.Fatal(err)
		}
		if got != "https://bunkr.si/v/clip-1" {
			t.Errorf("got %s", got)
		}
	})

	t.Run("absolute href with archive marker", func(t *testing.T) {
		got, err := NormalizeItemPage(album, "https://bunkr.si/d/zip-7")
		if err != nil {
			t.Fatal(err)
		}
		if got != "https://bunkr.si/v/zip-7" {
			t.Errorf("got %s", got)
		}
	})

	t.Run("nested album link rejected", func(t *testing.T) {
		if _, err := NormalizeItemPage(album, "/a/other"); err == nil {
			t.Error("expected error for album link inside album page")
		}
	})
}
