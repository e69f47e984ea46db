package downloader_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"bunkrgrab/internal/downloader"
	"bunkrgrab/internal/errs"
	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/testutil"
)

func newEngine(t *testing.T) *downloader.Engine {
	t.Helper()
	cfg := testutil.TestConfig(t)
	log := logging.NewWriter(io.Discard, "error", false)
	return downloader.New(cfg, fetch.New(cfg), nil, log, nil)
}

func TestDownload(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "album", "clip.mp4")
	res, err := newEngine(t).Download(context.Background(), srv.URL+"/clip.mp4", dest)
	if err != nil {
		t.Fatal(err)
	}
	if res.Bytes != int64(len(body)) {
		t.Errorf("bytes = %d, want %d", res.Bytes, len(body))
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Error("written content does not match response body")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("part file left behind after success")
	}
}

func TestDownloadRetriesTransientStatus(t *testing.T) {
	body := "media-bytes"
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	res, err := newEngine(t).Download(context.Background(), srv.URL+"/clip.mp4", dest)
	if err != nil {
		t.Fatal(err)
	}
	if res.Bytes != int64(len(body)) {
		t.Errorf("bytes = %d", res.Bytes)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestDownloadNonRetryableStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	_, err := newEngine(t).Download(context.Background(), srv.URL+"/clip.mp4", dest)
	var de *errs.DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if de.Status != http.StatusNotFound || de.Retryable {
		t.Errorf("error = %+v", de)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("404 must not retry, server hits = %d", got)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no file should exist after failure")
	}
}

func TestDownloadShortBodyRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			// Declare more than we send, then cut the connection.
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("partial"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				_ = conn.Close()
			}
			return
		}
		fmt.Fprint(w, "complete-body")
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	res, err := newEngine(t).Download(context.Background(), srv.URL+"/clip.mp4", dest)
	if err != nil {
		t.Fatal(err)
	}
	if res.Bytes != int64(len("complete-body")) {
		t.Errorf("bytes = %d", res.Bytes)
	}
}

func TestExists(t *testing.T) {
	const remoteSize = 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(remoteSize))
	}))
	t.Cleanup(srv.Close)

	e := newEngine(t)
	ctx := context.Background()
	url := srv.URL + "/clip.mp4"
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.mp4")
	if e.Exists(ctx, url, missing) {
		t.Error("missing file reported as existing")
	}

	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if e.Exists(ctx, url, empty) {
		t.Error("zero-byte file must not count as existing")
	}

	full := filepath.Join(dir, "full.mp4")
	if err := os.WriteFile(full, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !e.Exists(ctx, url, full) {
		t.Error("matching-size file should count as existing")
	}

	short := filepath.Join(dir, "short.mp4")
	if err := os.WriteFile(short, []byte("da"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e.Exists(ctx, url, short) {
		t.Error("size mismatch with the server must trigger a re-download")
	}

	// When the preflight fails the non-empty file is trusted.
	if !e.Exists(ctx, "http://127.0.0.1:1/clip.mp4", full) {
		t.Error("unreachable preflight should trust the existing file")
	}
}
