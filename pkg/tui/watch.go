// Package tui is the terminal viewer for a running bot.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/notify"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	selStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	responseBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
)

const maxResults = 5

// NextFunc blocks until the next event arrives.
type NextFunc func() (notify.Event, error)

type Model struct {
	next       NextFunc
	title      string
	authorized bool
	syncCount  int
	records    []ledger.Record
	results    []notify.ResultEvent
	selected   int
	width      int
	height     int
	err        error
}

func NewModel(title string, next NextFunc) Model {
	return Model{title: title, next: next}
}

type eventMsg notify.Event

type streamErrMsg struct{ err error }

func (m Model) listen() tea.Cmd {
	next := m.next
	return func() tea.Msg {
		ev, err := next()
		if err != nil {
			return streamErrMsg{err}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return m.listen()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.records)-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case eventMsg:
		m.apply(notify.Event(msg))
		return m, m.listen()

	case streamErrMsg:
		m.err = msg.err
	}

	return m, nil
}

func (m *Model) apply(ev notify.Event) {
	switch ev.Type {
	case notify.EventAuthorization:
		if ev.Authorized != nil {
			m.authorized = *ev.Authorized
		}
	case notify.EventSync:
		m.syncCount = ev.SyncCount
	case notify.EventResponses:
		m.records = ev.Records
		if m.selected >= len(m.records) {
			m.selected = max(len(m.records)-1, 0)
		}
	case notify.EventResult:
		if ev.Result != nil {
			m.results = append([]notify.ResultEvent{*ev.Result}, m.results...)
			if len(m.results) > maxResults {
				m.results = m.results[:maxResults]
			}
		}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	var b strings.Builder

	b.WriteString(dimStyle.Render(m.title + " (q to quit, j/k to move)"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	auth := badStyle.Render("● unauthorized")
	if m.authorized {
		auth = okStyle.Render("● authorized")
	}
	pending := 0
	for _, r := range m.records {
		if !r.HasResponse {
			pending++
		}
	}
	fmt.Fprintf(&b, "%s  syncs %d  requests %d  pending %d\n\n", auth, m.syncCount, len(m.records), pending)

	if len(m.records) == 0 {
		b.WriteString(dimStyle.Render("No requests yet."))
		b.WriteString("\n")
	}
	for i, r := range m.records {
		mark := dimStyle.Render("…")
		if r.HasResponse {
			mark = okStyle.Render("✓")
		}
		line := fmt.Sprintf("%s %-20s @%-15s %s", mark, r.Request.ID, r.Request.AuthorHandle, firstLine(r.Request.Text, m.width-45))
		if i == m.selected {
			line = selStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.selected < len(m.records) && m.records[m.selected].HasResponse {
		b.WriteString("\n")
		b.WriteString(responseBox.Render(m.records[m.selected].Response))
		b.WriteString("\n")
	}

	if len(m.results) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("recent sandbox runs"))
		b.WriteString("\n")
		for _, r := range m.results {
			fmt.Fprintf(&b, "  %-20s %-10s exit %-4d %s\n", r.RequestID, r.Kind, r.ExitCode,
				(time.Duration(r.DurationMS) * time.Millisecond).String())
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(badStyle.Render("Disconnected: "))
		b.WriteString(m.err.Error())
		b.WriteString("\n")
	}

	return b.String()
}

func firstLine(s string, width int) string {
	s, _, _ = strings.Cut(s, "\n")
	if width < 10 {
		width = 10
	}
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}

func Run(title string, next NextFunc) error {
	p := tea.NewProgram(NewModel(title, next), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
