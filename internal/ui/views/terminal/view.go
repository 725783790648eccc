package terminal

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/domain"
	"kizuna/internal/ui/theme"
)

// ExecRequestMsg asks the app layer to run a command on the target peer.
type ExecRequestMsg struct{ Command string }

// ExecResultMsg carries the outcome back into the view.
type ExecResultMsg struct {
	Command string
	Output  string
	Err     error
}

// Model is the command-terminal view: a prompt plus a scrollback of results
// from remote executions against the selected peer.
type Model struct {
	input      textinput.Model
	scrollback viewport.Model
	lines      []string
	target     string
	width      int
	height     int
}

func New() Model {
	ti := textinput.New()
	ti.Placeholder = "command to run on peer…"
	ti.CharLimit = 512
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text).Padding(0, 1)

	return Model{input: ti, scrollback: vp}
}

// SetTarget updates the peer shown in the prompt line.
func (m *Model) SetTarget(peer domain.PeerInfo) {
	m.target = peer.Name
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.scrollback.Width = m.width - 2
		m.scrollback.Height = m.height - 4

	case ExecResultMsg:
		m.lines = append(m.lines, theme.Hot.Render("$ "+msg.Command))
		if msg.Err != nil {
			m.lines = append(m.lines, theme.Bad.Render(msg.Err.Error()))
		} else if msg.Output != "" {
			m.lines = append(m.lines, msg.Output)
		}
		m.scrollback.SetContent(strings.Join(m.lines, "\n"))
		m.scrollback.GotoBottom()

	case tea.KeyMsg:
		if msg.String() == "enter" {
			command := strings.TrimSpace(m.input.Value())
			if command != "" {
				m.input.SetValue("")
				return m, func() tea.Msg { return ExecRequestMsg{Command: command} }
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.scrollback, cmd = m.scrollback.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	target := m.target
	if target == "" {
		target = theme.Warn.Render("no peer selected")
	} else {
		target = theme.Good.Render(target)
	}
	header := theme.Title.Render("Command Terminal") + theme.Muted.Render("  target: ") + target
	prompt := theme.Hot.Render("$ ") + m.input.View()
	return lipgloss.NewStyle().Width(m.width).Height(m.height).Render(
		header + "\n" + m.scrollback.View() + "\n" + prompt)
}
