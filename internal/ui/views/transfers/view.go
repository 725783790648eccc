package transfers

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/cli/output"
	"kizuna/internal/domain"
	"kizuna/internal/ui/components"
	"kizuna/internal/ui/theme"
)

// ─── messages ────────────────────────────────────────────────────────────────

// SnapshotMsg carries the per-tick operation snapshot plus the current
// aggregate bandwidth in bytes/sec.
type SnapshotMsg struct {
	Operations []domain.OperationStatus
	Bandwidth  float64
}

// LogMsg appends one entry to the view's log ring.
type LogMsg struct{ Entry components.LogEntry }

// CancelRequestMsg asks the app layer to cancel an operation.
type CancelRequestMsg struct{ OperationID domain.OperationID }

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	ops       []domain.OperationStatus
	cursor    int
	showLogs  bool
	logs      *components.LogRing
	bandwidth *components.Sparkline
	width     int
	height    int
}

func New() Model {
	return Model{
		logs:      components.NewLogRing(),
		bandwidth: components.NewSparkline(),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case SnapshotMsg:
		ops := append([]domain.OperationStatus(nil), msg.Operations...)
		sort.Slice(ops, func(i, j int) bool {
			return ops[i].StartedAt.After(ops[j].StartedAt)
		})
		m.ops = ops
		if m.cursor >= len(ops) && len(ops) > 0 {
			m.cursor = len(ops) - 1
		}
		m.bandwidth.Push(msg.Bandwidth)

	case LogMsg:
		m.logs.Push(msg.Entry)

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.ops)-1 {
				m.cursor++
			}
		case "l":
			m.showLogs = !m.showLogs
		case "c":
			if m.cursor < len(m.ops) && !m.ops[m.cursor].State.Terminal() {
				id := m.ops[m.cursor].OperationID
				return m, func() tea.Msg { return CancelRequestMsg{OperationID: id} }
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	stats := m.renderStatBoxes()
	footer := m.renderBandwidth()
	middleH := m.height - lipgloss.Height(stats) - lipgloss.Height(footer) - 1
	if middleH < 1 {
		middleH = 1
	}

	var middle string
	if m.showLogs {
		middle = m.renderLogs(middleH)
	} else {
		middle = m.renderOperations(middleH)
	}
	middle = lipgloss.NewStyle().Width(m.width).Height(middleH).Render(middle)

	return lipgloss.JoinVertical(lipgloss.Left, stats, middle, footer)
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m Model) tally() (total, active, completed, failed int) {
	total = len(m.ops)
	for _, op := range m.ops {
		switch op.State {
		case domain.StateStarting, domain.StateInProgress:
			active++
		case domain.StateCompleted:
			completed++
		case domain.StateFailed:
			failed++
		}
	}
	return
}

func (m Model) renderStatBoxes() string {
	total, active, completed, failed := m.tally()
	boxW := m.width/4 - 2
	if boxW < 10 {
		boxW = 10
	}
	box := func(label string, n int, style lipgloss.Style) string {
		return theme.Pane.Width(boxW).Render(
			theme.Muted.Render(label) + "\n" + style.Render(fmt.Sprintf("%d", n)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		box("total", total, theme.Title),
		box("active", active, theme.Hot),
		box("completed", completed, theme.Good),
		box("failed", failed, theme.Bad),
	)
}

func (m Model) renderOperations(rows int) string {
	if len(m.ops) == 0 {
		return theme.Muted.Render("No operations yet.  l:logs")
	}
	var sb strings.Builder
	end := rows
	if end > len(m.ops) {
		end = len(m.ops)
	}
	for i := 0; i < end; i++ {
		op := m.ops[i]
		line := fmt.Sprintf("%s %-18s %-11s %s",
			stateIcon(op.State), op.OperationType, op.State, progressCell(op))
		if i == m.cursor {
			line = lipgloss.NewStyle().Background(theme.Surface0).Render("▸ " + line)
		} else {
			line = "  " + line
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (m Model) renderLogs(rows int) string {
	tail := m.logs.Tail(rows)
	if len(tail) == 0 {
		return theme.Muted.Render("Log ring is empty.  l:operations")
	}
	var sb strings.Builder
	for _, e := range tail {
		level := theme.Muted
		switch e.Level {
		case components.LevelWarning:
			level = theme.Warn
		case components.LevelError:
			level = theme.Bad
		}
		sb.WriteString(theme.Muted.Render(e.Timestamp.Format("15:04:05")) + " " +
			level.Render(string(e.Level)) + " " + e.Message + "\n")
	}
	return sb.String()
}

func (m Model) renderBandwidth() string {
	line := theme.Hot.Render(m.bandwidth.Render())
	stats := theme.Muted.Render(fmt.Sprintf("  now %s/s  avg %s/s  moved %s",
		output.FormatBytes(uint64(m.bandwidth.Current())),
		output.FormatBytes(uint64(m.bandwidth.Average())),
		output.FormatBytes(uint64(m.bandwidth.Total()))))
	return "\n" + line + stats
}

func stateIcon(s domain.OperationState) string {
	switch s {
	case domain.StateCompleted:
		return theme.Good.Render("✓")
	case domain.StateFailed:
		return theme.Bad.Render("✗")
	case domain.StateCancelled:
		return theme.Muted.Render("⊘")
	default:
		return theme.Hot.Render("●")
	}
}

func progressCell(op domain.OperationStatus) string {
	p := op.Progress
	if p == nil {
		return ""
	}
	if op.OperationType == domain.CameraStream {
		return fmt.Sprintf("%d viewer(s)", p.Current)
	}
	if p.Total != nil && *p.Total > 0 {
		return fmt.Sprintf("%s / %s (%.0f%%)",
			output.FormatBytes(p.Current), output.FormatBytes(*p.Total), p.Percent())
	}
	return output.FormatBytes(p.Current)
}
