package peers

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/domain"
	"kizuna/internal/ui/theme"
)

// ─── messages ────────────────────────────────────────────────────────────────

// PeersMsg replaces the peer set shown by the view.
type PeersMsg struct{ Peers []domain.PeerInfo }

// ConnectRequestMsg asks the app layer to connect the selected peer.
type ConnectRequestMsg struct{ Peer domain.PeerInfo }

// TrustRequestMsg asks the app layer to trust the selected peer.
type TrustRequestMsg struct {
	Peer     domain.PeerInfo
	Nickname string
}

// UntrustRequestMsg asks the app layer to revoke trust for the selected peer.
type UntrustRequestMsg struct{ Peer domain.PeerInfo }

// ─── list items ──────────────────────────────────────────────────────────────

type peerItem struct{ p domain.PeerInfo }

func (i peerItem) Title() string {
	return trustIcon(i.p.TrustStatus) + " " + connIcon(i.p.ConnectionStatus) + " " + i.p.Name
}

func (i peerItem) Description() string {
	return i.p.DeviceType + "  " + i.p.ID.String()[:8]
}

func (i peerItem) FilterValue() string { return i.p.Name + " " + i.p.DeviceType }

func trustIcon(s domain.TrustStatus) string {
	switch s {
	case domain.Trusted:
		return theme.Good.Render("✓")
	case domain.Blocked:
		return theme.Bad.Render("✗")
	default:
		return theme.Warn.Render("?")
	}
}

func connIcon(s domain.ConnectionStatus) string {
	switch s {
	case domain.Connected:
		return theme.Good.Render("●")
	case domain.Connecting:
		return theme.Warn.Render("◐")
	case domain.ConnError:
		return theme.Bad.Render("✗")
	default:
		return theme.Muted.Render("○")
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	list       list.Model
	detail     viewport.Model
	peers      []domain.PeerInfo
	showDetail bool
	width      int
	height     int
}

func New() Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Peach).BorderForeground(theme.Peach)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Peach)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Peers"
	l.Styles.Title = theme.Title
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text).Padding(1)

	return Model{list: l, detail: vp}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case PeersMsg:
		m.peers = msg.Peers
		cmds = append(cmds, m.list.SetItems(peersToItems(msg.Peers)))
		if m.showDetail {
			m.detail.SetContent(m.renderDetail())
		}

	case tea.KeyMsg:
		if m.Filtering() {
			break
		}
		switch msg.String() {
		case "enter":
			m.showDetail = !m.showDetail
			if m.showDetail {
				m.detail.SetContent(m.renderDetail())
			}
			m.resize()
		case "c":
			if p, ok := m.Selected(); ok {
				return m, func() tea.Msg { return ConnectRequestMsg{Peer: p} }
			}
		case "t":
			if p, ok := m.Selected(); ok {
				return m, func() tea.Msg { return TrustRequestMsg{Peer: p, Nickname: p.Name} }
			}
		case "u":
			if p, ok := m.Selected(); ok {
				return m, func() tea.Msg { return UntrustRequestMsg{Peer: p} }
			}
		}
	}

	var lCmd tea.Cmd
	m.list, lCmd = m.list.Update(msg)
	cmds = append(cmds, lCmd)

	if m.showDetail {
		var vCmd tea.Cmd
		m.detail, vCmd = m.detail.Update(msg)
		cmds = append(cmds, vCmd)
	}

	return m, tea.Batch(cmds...)
}

// Filtering reports whether the list's search filter is currently active.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Selected returns the peer under the cursor.
func (m Model) Selected() (domain.PeerInfo, bool) {
	item, ok := m.list.SelectedItem().(peerItem)
	if !ok {
		return domain.PeerInfo{}, false
	}
	return item.p, true
}

func (m Model) View() string {
	if !m.showDetail {
		return lipgloss.NewStyle().Width(m.width).Height(m.height).Render(m.list.View())
	}

	listW := m.width * 4 / 10
	detailW := m.width - listW

	listPane := lipgloss.NewStyle().Width(listW).Height(m.height).Render(m.list.View())
	detailPane := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Surface1).
		Background(theme.Mantle).
		Width(detailW - 2).
		Height(m.height - 2).
		Render(m.detail.View())

	return lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m *Model) resize() {
	listW := m.width
	if m.showDetail {
		listW = m.width * 4 / 10
	}
	contentH := m.height - 1
	if contentH < 1 {
		contentH = 1
	}
	m.list.SetSize(listW, contentH)
	m.detail.Width = m.width - listW - 4
	m.detail.Height = contentH - 2
}

func (m Model) renderDetail() string {
	p, ok := m.Selected()
	if !ok {
		return theme.Muted.Render("No peer selected.")
	}

	var sb strings.Builder
	sb.WriteString(theme.Title.Render(p.Name) + "\n\n")
	sb.WriteString("identity:    " + p.ID.String() + "\n")
	sb.WriteString("device:      " + p.DeviceType + "\n")
	sb.WriteString("trust:       " + string(p.TrustStatus) + "\n")
	sb.WriteString("connection:  " + string(p.ConnectionStatus) + "\n")
	if p.LastSeen != nil {
		sb.WriteString("last seen:   " + time.Since(*p.LastSeen).Round(time.Second).String() + " ago\n")
	}
	sb.WriteString("\n" + theme.Title.Render("Capabilities") + "\n")
	if len(p.Capabilities) == 0 {
		sb.WriteString(theme.Muted.Render("  (none reported)") + "\n")
	}
	for _, c := range p.Capabilities {
		sb.WriteString("  • " + c + "\n")
	}

	sb.WriteString("\n" + theme.Title.Render("Actions") + "\n")
	for _, a := range actionsFor(p) {
		sb.WriteString("  " + a + "\n")
	}
	return sb.String()
}

// actionsFor is the per-peer action palette; entries depend on connection
// state so the pane never offers an action the peer cannot take.
func actionsFor(p domain.PeerInfo) []string {
	var actions []string
	switch p.ConnectionStatus {
	case domain.Connected:
		actions = append(actions, "s: send selected files", "t: trust", "u: untrust")
	case domain.Connecting:
		actions = append(actions, theme.Muted.Render("connecting…"))
	case domain.ConnError:
		actions = append(actions, "c: reconnect")
	default:
		actions = append(actions, "c: connect")
	}
	if p.TrustStatus == domain.Blocked {
		actions = []string{theme.Bad.Render("peer is blocked")}
	}
	return actions
}

func peersToItems(peers []domain.PeerInfo) []list.Item {
	items := make([]list.Item, len(peers))
	for i, p := range peers {
		items[i] = peerItem{p: p}
	}
	return items
}
