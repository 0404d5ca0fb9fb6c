package logviewer

import (
	"io"
	stdlog "log"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/multiworld/internal/bridge"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/tui/components/scrollbar"
	"github.com/grovetools/multiworld/tui/theme"
	"github.com/hpcloud/tail"
)

// LogLineMsg carries one line read from the session log.
type LogLineMsg struct {
	Line string
}

// Model is a scrolling view over the session log.
type Model struct {
	viewport viewport.Model
	tail     *tail.Tail
	mu       *sync.Mutex
	lines    chan LogLineMsg
	content  []string
	follow   bool
	ready    bool
}

// New creates a log viewer of the given size. One row is reserved for the
// status line.
func New(width, height int) Model {
	return Model{
		viewport: viewport.New(width, max(height-1, 1)),
		mu:       &sync.Mutex{},
		lines:    make(chan LogLineMsg, 100),
		follow:   true,
	}
}

// Start tails path from the beginning and keeps following it across
// truncation and re-creation.
func (m *Model) Start(path string) tea.Cmd {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return nil
	}
	m.tail = t

	lines := m.lines
	go func() {
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			lines <- LogLineMsg{Line: line.Text}
		}
	}()
	return m.waitForLine()
}

// Stop halts tailing.
func (m *Model) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tail != nil {
		_ = m.tail.Stop()
		m.tail = nil
	}
}

// Append adds a line as if it had been read from the log.
func (m *Model) Append(line string) {
	m.content = append(m.content, FormatLine(line))
	m.render()
}

// Lines returns the formatted lines currently held.
func (m Model) Lines() []string {
	return m.content
}

// IsFollowing reports whether the view sticks to the newest line.
func (m Model) IsFollowing() bool {
	return m.follow
}

func (m Model) waitForLine() tea.Cmd {
	lines := m.lines
	return func() tea.Msg {
		return <-lines
	}
}

func (m *Model) render() {
	if !m.ready {
		return
	}
	wrap := lipgloss.NewStyle().Width(max(m.viewport.Width-1, 1))
	wrapped := make([]string, len(m.content))
	for i, line := range m.content {
		wrapped[i] = wrap.Render(line)
	}
	m.viewport.SetContent(strings.Join(wrapped, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles resize, new log lines and the follow toggle.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-1, 1)
		m.ready = true
		m.render()
	case LogLineMsg:
		m.Append(msg.Line)
		cmds = append(cmds, m.waitForLine())
	case tea.KeyMsg:
		switch msg.String() {
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.viewport.GotoBottom()
			}
		case "g":
			m.follow = false
			m.viewport.GotoTop()
		case "G":
			m.follow = true
			m.viewport.GotoBottom()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the log with a scrollbar and a status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading session log..."
	}
	status := "follow: off"
	if m.follow {
		status = "follow: on"
	}
	return scrollbar.Overlay(&m.viewport) + "\n" + theme.DefaultTheme.StatusBar.Render(status+"  (f toggle, g/G top/bottom)")
}

// FormatLine renders a session log line with its kind styled. Lines that are
// not in the session log format are passed through.
func FormatLine(line string) string {
	ev, ok := bridge.ParseLogLine(line)
	if !ok {
		return line
	}

	t := theme.DefaultTheme
	var kind lipgloss.Style
	switch ev.Kind {
	case models.EventTransfer:
		kind = t.Success
	case models.EventChat:
		kind = t.Accent
	case models.EventStatus:
		kind = t.Info
	default:
		kind = t.Muted
	}
	return t.Muted.Render(ev.Time.Local().Format("15:04:05")) + " " + kind.Render(string(ev.Kind)) + " " + ev.Message
}
