package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"bunkrgrab/internal/model"
)

// The dashboard shows one gradient bar per album plus a tail of recent
// events. It receives itemMsg through Program.Send from the progress
// manager's notify hook; nothing here touches the download pipeline.

type itemMsg struct {
	res   model.DownloadResult
	done  int
	total int
}

type albumMsg struct {
	name  string
	total int
}

type doneMsg struct{}

type albumRow struct {
	name  string
	done  int
	total int
	bar   progress.Model
}

type uiStyles struct {
	header lipgloss.Style
	album  lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
	skip   lipgloss.Style
	dim    lipgloss.Style
}

type Model struct {
	styles uiStyles
	albums []*albumRow
	index  map[string]*albumRow
	events []string
	bytes  int64
	okN    int
	failN  int
	skipN  int
	width  int
	closed bool
	cancel func()
}

const eventTail = 8

func NewModel(cancel func()) *Model {
	return &Model{
		styles: uiStyles{
			header: lipgloss.NewStyle().Bold(true),
			album:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
			ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			skip:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			dim:    lipgloss.NewStyle().Faint(true),
		},
		index:  make(map[string]*albumRow),
		cancel: cancel,
	}
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, a := range m.albums {
			a.bar.Width = barWidth(m.width)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case albumMsg:
		a, ok := m.index[msg.name]
		if !ok {
			a = &albumRow{
				name: msg.name,
				bar:  progress.New(progress.WithDefaultGradient()),
			}
			a.bar.Width = barWidth(m.width)
			m.index[msg.name] = a
			m.albums = append(m.albums, a)
		}
		a.total += msg.total
	case itemMsg:
		m.apply(msg)
	case doneMsg:
		m.closed = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(msg itemMsg) {
	a, ok := m.index[msg.res.Album]
	if !ok {
		a = &albumRow{name: msg.res.Album, bar: progress.New(progress.WithDefaultGradient())}
		a.bar.Width = barWidth(m.width)
		m.index[msg.res.Album] = a
		m.albums = append(m.albums, a)
	}
	a.done = msg.done
	if msg.total > a.total {
		a.total = msg.total
	}

	var line string
	switch msg.res.Outcome {
	case model.OutcomeSuccess:
		m.okN++
		m.bytes += msg.res.Bytes
		line = m.styles.ok.Render("✓ ") + msg.res.FileName + m.styles.dim.Render(" "+humanize.Bytes(uint64(msg.res.Bytes)))
	case model.OutcomeSkipped:
		m.skipN++
		line = m.styles.skip.Render("- ") + msg.res.FileName
	case model.OutcomeFailed:
		m.failN++
		line = m.styles.fail.Render("✗ ") + msg.res.PageURL
	}
	m.events = append(m.events, line)
	if len(m.events) > eventTail {
		m.events = m.events[len(m.events)-eventTail:]
	}
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.header.Render("bunkrgrab"))
	b.WriteString("\n\n")

	if len(m.albums) == 0 {
		b.WriteString(m.styles.dim.Render("crawling..."))
		b.WriteString("\n")
	}
	for _, a := range m.albums {
		pct := 0.0
		if a.total > 0 {
			pct = float64(a.done) / float64(a.total)
		}
		b.WriteString(m.styles.album.Render(a.name))
		b.WriteString(fmt.Sprintf(" %d/%d\n", a.done, a.total))
		b.WriteString(a.bar.ViewAs(pct))
		b.WriteString("\n")
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, e := range m.events {
			b.WriteString(e)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s  %s  %s  %s\n",
		m.styles.ok.Render(fmt.Sprintf("%d done", m.okN)),
		m.styles.skip.Render(fmt.Sprintf("%d skipped", m.skipN)),
		m.styles.fail.Render(fmt.Sprintf("%d failed", m.failN)),
		humanize.Bytes(uint64(m.bytes)),
	))
	b.WriteString(m.styles.dim.Render("q to cancel"))
	b.WriteString("\n")
	return b.String()
}

func barWidth(width int) int {
	if width <= 0 {
		return 40
	}
	w := width - 4
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	return w
}

// Dashboard wraps the running program so callers feed it without importing
// bubbletea.
type Dashboard struct {
	prog *tea.Program
}

// Start launches the dashboard on the alternate screen. cancel is invoked
// when the user quits mid-run.
func Start(cancel func()) *Dashboard {
	p := tea.NewProgram(NewModel(cancel), tea.WithAltScreen())
	d := &Dashboard{prog: p}
	go func() { _, _ = p.Run() }()
	return d
}

// AddAlbum registers an album and its item count.
func (d *Dashboard) AddAlbum(name string, total int) {
	d.prog.Send(albumMsg{name: name, total: total})
}

// Notify is wired as the progress manager's subscriber.
func (d *Dashboard) Notify(res model.DownloadResult, done, total int) {
	d.prog.Send(itemMsg{res: res, done: done, total: total})
}

// Stop ends the program after the run completes and waits for teardown.
func (d *Dashboard) Stop() {
	d.prog.Send(doneMsg{})
	d.prog.Wait()
}
