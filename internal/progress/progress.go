package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/model"
)

// Notify receives a copy of every terminal result plus the owning album's
// progress. The TUI subscribes through this; the manager stays the only
// goroutine touching the log file and the default progress surface.
type Notify func(res model.DownloadResult, albumDone, albumTotal int)

// Manager is the sole consumer of the results channel and the sole writer
// to the session log and the progress surface. Workers never print.
type Manager struct {
	log     *logging.Logger
	results chan model.DownloadResult
	done    chan struct{}

	sessionPath string
	session     *os.File

	bar    *progressbar.ProgressBar
	notify Notify

	mu      sync.Mutex
	albums  map[string]*albumProgress
	summary Summary
}

type albumProgress struct {
	total int
	done  int
}

// Summary aggregates the run for the final report and the exit path.
type Summary struct {
	Done    int
	Failed  int
	Skipped int
	Bytes   int64
}

// New truncates the session log and starts the consumer loop. showBar picks
// the default aggregate progressbar; a TUI passes false and subscribes via
// SetNotify before any album starts.
func New(log *logging.Logger, sessionPath string, showBar bool) (*Manager, error) {
	f, err := os.OpenFile(sessionPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	m := &Manager{
		log:         log.With("progress"),
		results:     make(chan model.DownloadResult, 64),
		done:        make(chan struct{}),
		sessionPath: sessionPath,
		session:     f,
		albums:      make(map[string]*albumProgress),
	}
	if showBar {
		m.bar = progressbar.NewOptions64(0,
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetItsString("file"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer: "=", SaucerHead: ">", SaucerPadding: " ",
				BarStart: "[", BarEnd: "]",
			}),
		)
	}
	go m.loop()
	return m, nil
}

// SetNotify installs the TUI subscriber. Must be called before results flow.
func (m *Manager) SetNotify(n Notify) { m.notify = n }

// Results is the single-consumer channel workers deliver into.
func (m *Manager) Results() chan<- model.DownloadResult { return m.results }

// AddAlbum registers an album before its items are scheduled so the
// aggregate denominator is stable from the first update.
func (m *Manager) AddAlbum(name string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ap, ok := m.albums[name]
	if !ok {
		ap = &albumProgress{}
		m.albums[name] = ap
	}
	ap.total += total
	if m.bar != nil {
		m.bar.ChangeMax64(m.bar.GetMax64() + int64(total))
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for res := range m.results {
		m.consume(res)
	}
}

func (m *Manager) consume(res model.DownloadResult) {
	m.mu.Lock()
	ap, ok := m.albums[res.Album]
	if !ok {
		ap = &albumProgress{}
		m.albums[res.Album] = ap
	}
	ap.done++
	switch res.Outcome {
	case model.OutcomeSuccess:
		m.summary.Done++
		m.summary.Bytes += res.Bytes
	case model.OutcomeFailed:
		m.summary.Failed++
	case model.OutcomeSkipped:
		m.summary.Skipped++
	}
	done, total := ap.done, ap.total
	m.mu.Unlock()

	if res.Outcome == model.OutcomeFailed {
		m.appendFailure(res.PageURL)
	}

	switch res.Outcome {
	case model.OutcomeSuccess:
		m.log.Debugf("done %s (%s)", res.FileName, humanize.Bytes(uint64(res.Bytes)))
	case model.OutcomeSkipped:
		m.log.Debugf("skipped %s", res.FileName)
	case model.OutcomeFailed:
		m.log.Warnf("failed %s: %v", res.PageURL, res.Err)
	}

	if m.bar != nil {
		_ = m.bar.Add(1)
	}
	if m.notify != nil {
		m.notify(res, done, total)
	}
}

// appendFailure writes one source URL per line and syncs immediately, so a
// crash mid-run does not lose recorded failures.
func (m *Manager) appendFailure(url string) {
	if _, err := fmt.Fprintln(m.session, url); err != nil {
		m.log.Errorf("session log write: %v", err)
		return
	}
	if err := m.session.Sync(); err != nil {
		m.log.Errorf("session log sync: %v", err)
	}
}

// Close drains outstanding results, closes the log and returns the summary.
// Callers must have stopped all producers first.
func (m *Manager) Close() Summary {
	close(m.results)
	<-m.done
	if m.bar != nil {
		_ = m.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	_ = m.session.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// RenderSummary formats the final report line for the terminal.
func RenderSummary(s Summary, elapsed time.Duration, sessionPath string) string {
	out := fmt.Sprintf("%s  %s  %s  %s in %s",
		okStyle.Render(fmt.Sprintf("%d done", s.Done)),
		warnStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)),
		failStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		humanize.Bytes(uint64(s.Bytes)),
		elapsed.Round(time.Second),
	)
	if s.Failed > 0 {
		out += "\n" + dimStyle.Render("failed source URLs recorded in "+sessionPath)
	}
	return out
}
