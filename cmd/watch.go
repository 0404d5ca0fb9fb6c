package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/pkg/daemon"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/tui"
	"github.com/grovetools/multiworld/tui/components/logviewer"
	"github.com/grovetools/multiworld/tui/theme"
	"github.com/spf13/cobra"
)

const watchPollInterval = time.Second

// NewWatchCmd returns the watch command, a live view of the session and
// its log.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the session and its log in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			tui.InitializeTUI()

			// The view still shows the log when the daemon is down.
			client, clientErr := newClient(cmd)
			if client != nil {
				defer client.Close()
			}

			m := newWatchModel(client, clientErr)
			m.logCmd = m.log.Start(cfg.Paths.SessionLog)
			defer m.log.Stop()

			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}

type sessionMsg struct {
	session *models.Session
	err     error
}

type pollMsg struct{}

type watchModel struct {
	client  daemon.Client
	session *models.Session
	err     error
	log     logviewer.Model
	logCmd  tea.Cmd
	width   int
	height  int
}

func newWatchModel(client daemon.Client, err error) watchModel {
	return watchModel{
		client: client,
		err:    err,
		log:    logviewer.New(80, 20),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.logCmd)
}

func (m watchModel) fetch() tea.Cmd {
	client := m.client
	if client == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := client.Session(ctx)
		return sessionMsg{session: s, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, m.resizeLog()
	case sessionMsg:
		m.session, m.err = msg.session, msg.err
		cmds = append(cmds, tea.Tick(watchPollInterval, func(time.Time) tea.Msg { return pollMsg{} }))
		if m.width > 0 {
			cmds = append(cmds, m.resizeLog())
		}
		return m, tea.Batch(cmds...)
	case pollMsg:
		return m, m.fetch()
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

// resizeLog gives the log viewer the rows left below the header.
func (m *watchModel) resizeLog() tea.Cmd {
	rest := m.height - lipgloss.Height(m.header())
	var cmd tea.Cmd
	m.log, cmd = m.log.Update(tea.WindowSizeMsg{Width: m.width, Height: max(rest, 3)})
	return cmd
}

func (m watchModel) header() string {
	t := theme.DefaultTheme
	var b strings.Builder

	switch {
	case m.err != nil:
		b.WriteString(t.Error.Render(m.err.Error()))
	case m.session == nil:
		b.WriteString(t.Muted.Render("Loading session..."))
	case !m.session.State.Active():
		b.WriteString("No session is active.")
		if m.session.LastError != "" {
			b.WriteString("\n" + t.Error.Render(m.session.LastError))
		}
	default:
		s := m.session
		fmt.Fprintf(&b, "%s  hosted by %s", t.Info.Render(string(s.State)), s.HostName)
		if s.ServerAddress != "" {
			fmt.Fprintf(&b, "  %s", t.Highlight.Render(s.ServerAddress))
		}
		for _, p := range s.Participants {
			b.WriteString("\n" + t.RenderStatus(p.Ready, p.Slot))
		}
	}
	return t.RenderBox("Session", b.String())
}

func (m watchModel) View() string {
	return m.header() + "\n" + m.log.View()
}
