package stream

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/ui/theme"
)

// StreamsMsg replaces the stream operation snapshot shown by the view.
type StreamsMsg struct{ Streams []domain.OperationStatus }

// StartRequestMsg asks the app layer to start a camera stream.
type StartRequestMsg struct{ Quality string }

// ControlRequestMsg asks the app layer to pause, resume or stop a stream.
type ControlRequestMsg struct {
	StreamID domain.OperationID
	Action   string // "pause", "resume", "stop"
}

// Model is the stream viewer: a control shell over the streaming handler.
// Frames render elsewhere; this view shows session state and viewer counts.
type Model struct {
	streams []domain.OperationStatus
	cursor  int
	quality string
	width   int
	height  int
}

func New(defaultQuality string) Model {
	return Model{quality: defaultQuality}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StreamsMsg:
		m.streams = msg.Streams
		if m.cursor >= len(m.streams) && len(m.streams) > 0 {
			m.cursor = len(m.streams) - 1
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.streams)-1 {
				m.cursor++
			}
		case "s":
			quality := m.quality
			return m, func() tea.Msg { return StartRequestMsg{Quality: quality} }
		case "p":
			return m, m.control("pause")
		case "r":
			return m, m.control("resume")
		case "x":
			return m, m.control("stop")
		}
	}
	return m, nil
}

func (m Model) control(action string) tea.Cmd {
	if m.cursor >= len(m.streams) {
		return nil
	}
	id := m.streams[m.cursor].OperationID
	return func() tea.Msg { return ControlRequestMsg{StreamID: id, Action: action} }
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Camera Streams") + "\n\n")

	if len(m.streams) == 0 {
		sb.WriteString(theme.Muted.Render("No active streams. Press s to start one at quality \""+m.quality+"\".") + "\n")
	}
	for i, s := range m.streams {
		viewers := 0
		if s.Progress != nil {
			viewers = int(s.Progress.Current)
		}
		line := fmt.Sprintf("%s %s  %-11s  %d viewer(s)",
			stateDot(s.State), handlers.StreamURL(s.OperationID), s.State, viewers)
		if i == m.cursor {
			line = lipgloss.NewStyle().Background(theme.Surface0).Render("▸ " + line)
		} else {
			line = "  " + line
		}
		sb.WriteString(line + "\n")
	}

	sb.WriteString("\n" + theme.Muted.Render("s:start  p:pause  r:resume  x:stop"))
	return lipgloss.NewStyle().Width(m.width).Height(m.height).Render(sb.String())
}

func stateDot(s domain.OperationState) string {
	switch s {
	case domain.StateInProgress:
		return theme.Good.Render("●")
	case domain.StateFailed:
		return theme.Bad.Render("✗")
	case domain.StateCompleted, domain.StateCancelled:
		return theme.Muted.Render("○")
	default:
		return theme.Warn.Render("◐")
	}
}
