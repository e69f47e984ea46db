package progress

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session_log.txt")
	log := logging.NewWriter(io.Discard, "error", false)
	m, err := New(log, path, false)
	if err != nil {
		t.Fatal(err)
	}
	return m, path
}

func TestSessionLogRecordsFailuresOnly(t *testing.T) {
	m, path := newManager(t)

	m.AddAlbum("Album", 3)
	m.Results() <- model.DownloadResult{Album: "Album", PageURL: "https://bunkr.si/v/ok", FileName: "ok.mp4", Bytes: 10, Outcome: model.OutcomeSuccess}
	m.Results() <- model.DownloadResult{Album: "Album", PageURL: "https://bunkr.si/v/skip", FileName: "skip.mp4", Outcome: model.OutcomeSkipped}
	m.Results() <- model.DownloadResult{Album: "Album", PageURL: "https://bunkr.si/v/bad", FileName: "bad.mp4", Outcome: model.OutcomeFailed, Err: errors.New("status 404")}
	sum := m.Close()

	if sum.Done != 1 || sum.Skipped != 1 || sum.Failed != 1 || sum.Bytes != 10 {
		t.Errorf("summary = %+v", sum)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "https://bunkr.si/v/bad\n" {
		t.Errorf("session log = %q, want exactly the failed source URL", b)
	}
}

func TestSessionLogTruncatedAtStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_log.txt")
	if err := os.WriteFile(path, []byte("https://bunkr.si/v/stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	log := logging.NewWriter(io.Discard, "error", false)
	m, err := New(log, path, false)
	if err != nil {
		t.Fatal(err)
	}
	m.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Errorf("old entries must be truncated, got %q", b)
	}
}

func TestNotifyReceivesAlbumProgress(t *testing.T) {
	m, _ := newManager(t)

	type update struct {
		res         model.DownloadResult
		done, total int
	}
	updates := make(chan update, 2)
	m.SetNotify(func(res model.DownloadResult, done, total int) {
		updates <- update{res, done, total}
	})

	m.AddAlbum("Album", 2)
	m.Results() <- model.DownloadResult{Album: "Album", FileName: "a.mp4", Outcome: model.OutcomeSuccess}
	m.Results() <- model.DownloadResult{Album: "Album", FileName: "b.mp4", Outcome: model.OutcomeSuccess}
	m.Close()

	first := <-updates
	second := <-updates
	if first.done != 1 || first.total != 2 {
		t.Errorf("first update = %d/%d", first.done, first.total)
	}
	if second.done != 2 || second.total != 2 {
		t.Errorf("second update = %d/%d", second.done, second.total)
	}
}

func TestRenderSummary(t *testing.T) {
	s := Summary{Done: 2, Skipped: 1, Failed: 1, Bytes: 2048}
	out := RenderSummary(s, 0, "session_log.txt")
	for _, want := range []string{"2 done", "1 skipped", "1 failed", "session_log.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary %q missing %q", out, want)
		}
	}

	out = RenderSummary(Summary{Done: 1}, 0, "session_log.txt")
	if strings.Contains(out, "session_log.txt") {
		t.Error("log pointer should appear only when failures were recorded")
	}
}
