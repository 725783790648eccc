package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/config"
	"kizuna/internal/ui/components"
	"kizuna/internal/ui/theme"
	filesview "kizuna/internal/ui/views/files"
	peersview "kizuna/internal/ui/views/peers"
	settingsview "kizuna/internal/ui/views/settings"
	streamview "kizuna/internal/ui/views/stream"
	terminalview "kizuna/internal/ui/views/terminal"
	transfersview "kizuna/internal/ui/views/transfers"
)

const tickInterval = 50 * time.Millisecond

// ─── ports ───────────────────────────────────────────────────────────────────
// Each port is the minimal interface this orchestration layer requires.
// The concrete handlers satisfy them; tests substitute fakes.

type transferPort interface {
	Subscribe() <-chan domain.OperationStatus
	GetAllOperations() []domain.OperationStatus
	Send(ctx context.Context, files []string, peer domain.PeerID, compression, encryption bool) (domain.OperationStatus, error)
	Cancel(ctx context.Context, opID domain.OperationID) error
	CurrentBandwidth() float64
}

type streamPort interface {
	Subscribe() <-chan domain.OperationStatus
	GetAllOperations() []domain.OperationStatus
	Start(ctx context.Context, quality string, record bool, savePath string) (domain.OperationStatus, string, error)
	Pause(ctx context.Context, streamID domain.OperationID) error
	Resume(ctx context.Context, streamID domain.OperationID) error
	Stop(ctx context.Context, streamID domain.OperationID) error
}

type clipboardPort interface {
	Subscribe() <-chan domain.OperationStatus
	GetAllOperations() []domain.OperationStatus
	Send(ctx context.Context, peer domain.PeerID) error
	Watch(ctx context.Context, peer domain.PeerID) (domain.OperationStatus, error)
}

type execPort interface {
	Execute(ctx context.Context, peer domain.PeerID, command string, timeout time.Duration) (handlers.ExecResult, error)
}

type discoverPort interface {
	NewPeers() <-chan domain.PeerInfo
	GetCachedPeers() []domain.PeerInfo
	StartContinuousDiscovery(ctx context.Context) error
	StopContinuousDiscovery()
}

type trustPort interface {
	AddTrustedPeer(ctx context.Context, peer domain.PeerID, nickname string) error
	RemoveTrustedPeer(ctx context.Context, peer domain.PeerID) error
}

type queuePort interface {
	SetCapacity(ctx context.Context, capacity int)
}

// Ports bundles everything the TUI talks to.
type Ports struct {
	Discover  discoverPort
	Transfer  transferPort
	Streaming streamPort
	Exec      execPort
	Clipboard clipboardPort
	Trust     trustPort
	Queue     queuePort

	Config        config.CLIConfig
	ConfigPath    string
	ConfigUpdates <-chan config.CLIConfig
	QueueCapacity int
}

// ─── tab index ───────────────────────────────────────────────────────────────

type tabID int

const (
	tabPeers tabID = iota
	tabFiles
	tabTransfers
	tabStream
	tabTerminal
	tabSettings
	tabCount
)

var tabLabels = [tabCount]string{
	"Peers", "Files", "Transfers", "Stream", "Terminal", "Settings",
}

// ─── async messages ───────────────────────────────────────────────────────────

type tickMsg time.Time

type actionDoneMsg struct {
	verb string
	err  error
}

type execDoneMsg struct {
	command string
	result  handlers.ExecResult
	err     error
}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Tab     key.Binding
	Jump    key.Binding
	Help    key.Binding
	Palette key.Binding
	Quit    key.Binding
	Select  key.Binding
	Logs    key.Binding
	Send    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
		Jump:    key.NewBinding(key.WithKeys("1", "2", "3"), key.WithHelp("1/2/3", "peers/files/transfers")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Palette: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "palette")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "q", "esc"), key.WithHelp("q", "quit")),
		Select:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "select file")),
		Logs:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "toggle logs")),
		Send:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "send selection")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Help, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Jump},
		{k.Select, k.Send, k.Logs},
		{k.Help, k.Palette, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. It owns tab routing, the 20 Hz tick
// that drains handler notification channels, the help overlay, and the
// command palette. Handler calls are fire-and-forget: the render tick never
// waits on a handler.
type Model struct {
	ports Ports

	peersView    peersview.Model
	filesView    filesview.Model
	transView    transfersview.Model
	streamView   streamview.Model
	termView     terminalview.Model
	settingsView settingsview.Model

	transferCh  <-chan domain.OperationStatus
	streamCh    <-chan domain.OperationStatus
	clipboardCh <-chan domain.OperationStatus
	peersCh     <-chan domain.PeerInfo

	activeTab tabID
	keys      keyMap
	help      help.Model
	showHelp  bool
	palette   components.Palette
	status    string
	width     int
	height    int
}

func NewModel(ports Ports, startDir string) Model {
	return Model{
		ports:        ports,
		peersView:    peersview.New(),
		filesView:    filesview.New(startDir),
		transView:    transfersview.New(),
		streamView:   streamview.New(ports.Config.StreamSettings.DefaultQuality),
		termView:     terminalview.New(),
		settingsView: settingsview.New(ports.Config, ports.ConfigPath),
		transferCh:   ports.Transfer.Subscribe(),
		streamCh:     ports.Streaming.Subscribe(),
		clipboardCh:  ports.Clipboard.Subscribe(),
		peersCh:      ports.Discover.NewPeers(),
		activeTab:    tabPeers,
		keys:         defaultKeys(),
		help:         help.New(),
		palette:      components.NewPalette(),
		status:       "ready",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.termView.Init(),
		m.startDiscoveryCmd(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The palette intercepts all input while open.
	if m.palette.Visible() {
		if _, isKey := msg.(tea.KeyMsg); isKey {
			var cmd tea.Cmd
			m.palette, cmd = m.palette.Update(msg)
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(minInt(m.width-4, 80))
		m.help.Width = m.width
		m.propagateSize()

	case tickMsg:
		cmds = append(cmds, m.drainEvents()...)
		m.pushSnapshots(&cmds)
		cmds = append(cmds, tick())

	case actionDoneMsg:
		if msg.err != nil {
			m.status = msg.verb + " failed: " + msg.err.Error()
			m.logEvent(components.LevelError, domain.OperationID{}, m.status)
		} else {
			m.status = msg.verb + " ok"
		}

	case execDoneMsg:
		var termCmd tea.Cmd
		m.termView, termCmd = m.termView.Update(terminalview.ExecResultMsg{
			Command: msg.command,
			Output:  strings.TrimRight(msg.result.Stdout+msg.result.Stderr, "\n"),
			Err:     msg.err,
		})
		cmds = append(cmds, termCmd)

	case components.PaletteSubmitMsg:
		return m.executePalette(msg.Input)

	case components.PaletteCancelMsg:
		m.status = "ready"

	case filesview.SendRequestMsg:
		peer, ok := m.peersView.Selected()
		if !ok {
			m.status = "select a peer before sending"
			return m, nil
		}
		m.filesView.ClearSelection()
		m.status = fmt.Sprintf("sending %d file(s) to %s", len(msg.Files), peer.Name)
		return m, m.sendFilesCmd(msg.Files, peer.ID)

	case transfersview.CancelRequestMsg:
		return m, m.cancelCmd(msg.OperationID)

	case peersview.ConnectRequestMsg:
		m.status = "connecting to " + msg.Peer.Name
		m.logEvent(components.LevelInfo, domain.OperationID{}, "connect requested: "+msg.Peer.Name)

	case peersview.TrustRequestMsg:
		return m, m.trustCmd(msg.Peer.ID, msg.Nickname)

	case peersview.UntrustRequestMsg:
		return m, m.untrustCmd(msg.Peer.ID)

	case streamview.StartRequestMsg:
		return m, m.startStreamCmd(msg.Quality)

	case streamview.ControlRequestMsg:
		return m, m.streamControlCmd(msg.StreamID, msg.Action)

	case terminalview.ExecRequestMsg:
		peer, ok := m.peersView.Selected()
		if !ok {
			var termCmd tea.Cmd
			m.termView, termCmd = m.termView.Update(terminalview.ExecResultMsg{
				Command: msg.Command,
				Err:     fmt.Errorf("no peer selected"),
			})
			return m, termCmd
		}
		return m, m.execCmd(peer.ID, msg.Command)

	case tea.KeyMsg:
		if m.showHelp {
			if msg.String() == "?" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		if handled, model, cmd := m.handleGlobalKey(msg); handled {
			return model, cmd
		}
	}

	// Propagate the message to the active tab's sub-view.
	var tabCmd tea.Cmd
	switch m.activeTab {
	case tabPeers:
		m.peersView, tabCmd = m.peersView.Update(msg)
	case tabFiles:
		m.filesView, tabCmd = m.filesView.Update(msg)
	case tabTransfers:
		m.transView, tabCmd = m.transView.Update(msg)
	case tabStream:
		m.streamView, tabCmd = m.streamView.Update(msg)
	case tabTerminal:
		m.termView, tabCmd = m.termView.Update(msg)
	case tabSettings:
		m.settingsView, tabCmd = m.settingsView.Update(msg)
	}
	cmds = append(cmds, tabCmd)

	return m, tea.Batch(cmds...)
}

// handleGlobalKey consumes application-wide bindings. In the terminal tab
// printable keys belong to the prompt, so only control chords apply there.
func (m Model) handleGlobalKey(msg tea.KeyMsg) (bool, tea.Model, tea.Cmd) {
	if m.subViewFiltering() {
		return false, m, nil
	}
	s := msg.String()

	if s == "ctrl+c" {
		return true, m, tea.Quit
	}
	if s == "tab" {
		m.activeTab = (m.activeTab + 1) % tabCount
		return true, m, nil
	}
	if s == "shift+tab" {
		m.activeTab = (m.activeTab + tabCount - 1) % tabCount
		return true, m, nil
	}
	if m.activeTab == tabTerminal {
		return false, m, nil
	}

	switch s {
	case "q", "esc":
		return true, m, tea.Quit
	case "1":
		m.activeTab = tabPeers
		return true, m, nil
	case "2":
		m.activeTab = tabFiles
		return true, m, nil
	case "3":
		m.activeTab = tabTransfers
		return true, m, nil
	case "?":
		m.showHelp = !m.showHelp
		return true, m, nil
	case ":":
		return true, m, m.palette.Open()
	}
	return false, m, nil
}

// ─── tick plumbing ───────────────────────────────────────────────────────────

// drainEvents reads at most one pending update from each notification
// channel and converts it into a log entry. Snapshots, not events, drive the
// rendered state, so a missed event is caught up on the next tick.
func (m *Model) drainEvents() []tea.Cmd {
	var cmds []tea.Cmd

	select {
	case op := <-m.transferCh:
		m.logOperation(op)
	default:
	}
	select {
	case op := <-m.streamCh:
		m.logOperation(op)
	default:
	}
	select {
	case op := <-m.clipboardCh:
		m.logOperation(op)
	default:
	}
	select {
	case peer := <-m.peersCh:
		m.logEvent(components.LevelInfo, domain.OperationID{}, "peer discovered: "+peer.Name)
	default:
	}
	if m.ports.ConfigUpdates != nil {
		select {
		case cfg := <-m.ports.ConfigUpdates:
			m.ports.Config = cfg
			var cmd tea.Cmd
			m.settingsView, cmd = m.settingsView.Update(settingsview.ConfigMsg{Cfg: cfg})
			cmds = append(cmds, cmd)
			m.status = "configuration reloaded"
		default:
		}
	}
	return cmds
}

func (m *Model) pushSnapshots(cmds *[]tea.Cmd) {
	var cmd tea.Cmd

	m.peersView, cmd = m.peersView.Update(peersview.PeersMsg{Peers: m.ports.Discover.GetCachedPeers()})
	*cmds = append(*cmds, cmd)

	ops := m.ports.Transfer.GetAllOperations()
	ops = append(ops, m.ports.Streaming.GetAllOperations()...)
	ops = append(ops, m.ports.Clipboard.GetAllOperations()...)
	m.transView, cmd = m.transView.Update(transfersview.SnapshotMsg{
		Operations: ops,
		Bandwidth:  m.ports.Transfer.CurrentBandwidth(),
	})
	*cmds = append(*cmds, cmd)

	m.streamView, cmd = m.streamView.Update(streamview.StreamsMsg{Streams: m.ports.Streaming.GetAllOperations()})
	*cmds = append(*cmds, cmd)

	if peer, ok := m.peersView.Selected(); ok {
		m.termView.SetTarget(peer)
	}
}

func (m *Model) logOperation(op domain.OperationStatus) {
	level := components.LevelInfo
	switch op.State {
	case domain.StateFailed:
		level = components.LevelError
	case domain.StateCancelled:
		level = components.LevelWarning
	}
	message := fmt.Sprintf("%s %s", op.OperationType, op.State)
	if op.FailureReason != "" {
		message += ": " + op.FailureReason
	}
	m.logEvent(level, op.OperationID, message)
}

func (m *Model) logEvent(level components.LogLevel, opID domain.OperationID, message string) {
	m.transView, _ = m.transView.Update(transfersview.LogMsg{Entry: components.LogEntry{
		Timestamp:   time.Now(),
		Level:       level,
		OperationID: opID,
		Message:     message,
	}})
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	tabBar := m.renderTabBar()
	statusBar := m.renderStatusBar()
	contentH := m.height - lipgloss.Height(tabBar) - lipgloss.Height(statusBar)
	if contentH < 1 {
		contentH = 1
	}

	var content string
	switch {
	case m.showHelp:
		content = lipgloss.NewStyle().Width(m.width).Height(contentH).
			Render(m.help.View(m.keys))
	case m.palette.Visible():
		content = lipgloss.Place(m.width, contentH,
			lipgloss.Center, lipgloss.Center, m.palette.View())
	default:
		content = m.activeView()
	}

	return lipgloss.JoinVertical(lipgloss.Left, tabBar, content, statusBar)
}

func (m Model) activeView() string {
	switch m.activeTab {
	case tabPeers:
		return m.peersView.View()
	case tabFiles:
		return m.filesView.View()
	case tabTransfers:
		return m.transView.View()
	case tabStream:
		return m.streamView.View()
	case tabTerminal:
		return m.termView.View()
	case tabSettings:
		return m.settingsView.View()
	}
	return ""
}

func (m Model) renderTabBar() string {
	parts := make([]string, tabCount)
	for i := tabID(0); i < tabCount; i++ {
		label := tabLabels[i]
		if i == m.activeTab {
			parts[i] = theme.Hot.Render(" " + label + " ")
		} else {
			parts[i] = theme.Muted.Render(" " + label + " ")
		}
	}
	sep := theme.Muted.Render(" │ ")
	bar := "kizuna  " + strings.Join(parts, sep)
	return lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar) + "\n"
}

func (m Model) renderStatusBar() string {
	left := m.status
	right := theme.Muted.Render("?:help  tab:switch  :::palette  q:quit")
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	bar := left + strings.Repeat(" ", gap) + right
	return "\n" + lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar)
}

// ─── palette execution ────────────────────────────────────────────────────────

func (m Model) executePalette(input string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(input) == "" {
		return m, nil
	}
	parts := strings.Fields(input)
	selected, hasPeer := m.peersView.Selected()

	needPeer := func() bool {
		if !hasPeer {
			m.status = "no peer selected"
		}
		return hasPeer
	}

	switch parts[0] {
	case "peer:connect":
		if !needPeer() {
			return m, nil
		}
		m.status = "connecting to " + selected.Name
		return m, nil

	case "peer:trust":
		if !needPeer() {
			return m, nil
		}
		nickname := selected.Name
		if len(parts) >= 2 {
			nickname = parts[1]
		}
		return m, m.trustCmd(selected.ID, nickname)

	case "peer:untrust":
		if !needPeer() {
			return m, nil
		}
		return m, m.untrustCmd(selected.ID)

	case "transfer:cancel":
		m.activeTab = tabTransfers
		m.status = "switched to Transfers; c cancels the selected operation"
		return m, nil

	case "stream:start":
		quality := m.ports.Config.StreamSettings.DefaultQuality
		if len(parts) >= 2 {
			quality = parts[1]
		}
		m.activeTab = tabStream
		return m, m.startStreamCmd(quality)

	case "stream:pause", "stream:resume", "stream:stop":
		m.activeTab = tabStream
		action := strings.TrimPrefix(parts[0], "stream:")
		streams := m.ports.Streaming.GetAllOperations()
		for _, s := range streams {
			if !s.State.Terminal() {
				return m, m.streamControlCmd(s.OperationID, action)
			}
		}
		m.status = "no live stream"
		return m, nil

	case "clipboard:push":
		if !needPeer() {
			return m, nil
		}
		return m, m.clipboardPushCmd(selected.ID)

	case "clipboard:watch":
		if !needPeer() {
			return m, nil
		}
		return m, m.clipboardWatchCmd(selected.ID)

	case "queue:pause":
		return m, m.queueCapacityCmd(0)

	case "queue:resume":
		return m, m.queueCapacityCmd(m.ports.QueueCapacity)

	default:
		m.status = "unknown command: " + parts[0]
	}
	return m, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (m Model) subViewFiltering() bool {
	if m.activeTab == tabPeers {
		return m.peersView.Filtering()
	}
	return false
}

func (m *Model) propagateSize() {
	sz := tea.WindowSizeMsg{Width: m.width, Height: m.height - 3}
	m.peersView, _ = m.peersView.Update(sz)
	m.filesView, _ = m.filesView.Update(sz)
	m.transView, _ = m.transView.Update(sz)
	m.streamView, _ = m.streamView.Update(sz)
	m.termView, _ = m.termView.Update(sz)
	m.settingsView, _ = m.settingsView.Update(sz)
}

// ─── async commands ───────────────────────────────────────────────────────────
// Every handler call runs inside a tea.Cmd so the render loop never blocks.

func (m Model) startDiscoveryCmd() tea.Cmd {
	return func() tea.Msg {
		err := m.ports.Discover.StartContinuousDiscovery(context.Background())
		return actionDoneMsg{verb: "discovery", err: err}
	}
}

func (m Model) sendFilesCmd(files []string, peer domain.PeerID) tea.Cmd {
	cfg := m.ports.Config.TransferSettings
	return func() tea.Msg {
		_, err := m.ports.Transfer.Send(context.Background(), files, peer, cfg.Compression, cfg.Encryption)
		return actionDoneMsg{verb: "send", err: err}
	}
}

func (m Model) cancelCmd(opID domain.OperationID) tea.Cmd {
	return func() tea.Msg {
		err := m.ports.Transfer.Cancel(context.Background(), opID)
		return actionDoneMsg{verb: "cancel", err: err}
	}
}

func (m Model) trustCmd(peer domain.PeerID, nickname string) tea.Cmd {
	return func() tea.Msg {
		err := m.ports.Trust.AddTrustedPeer(context.Background(), peer, nickname)
		return actionDoneMsg{verb: "trust", err: err}
	}
}

func (m Model) untrustCmd(peer domain.PeerID) tea.Cmd {
	return func() tea.Msg {
		err := m.ports.Trust.RemoveTrustedPeer(context.Background(), peer)
		return actionDoneMsg{verb: "untrust", err: err}
	}
}

func (m Model) startStreamCmd(quality string) tea.Cmd {
	settings := m.ports.Config.StreamSettings
	return func() tea.Msg {
		_, _, err := m.ports.Streaming.Start(context.Background(), quality, settings.AutoRecord, settings.RecordingPath)
		return actionDoneMsg{verb: "stream start", err: err}
	}
}

func (m Model) streamControlCmd(streamID domain.OperationID, action string) tea.Cmd {
	return func() tea.Msg {
		var err error
		switch action {
		case "pause":
			err = m.ports.Streaming.Pause(context.Background(), streamID)
		case "resume":
			err = m.ports.Streaming.Resume(context.Background(), streamID)
		case "stop":
			err = m.ports.Streaming.Stop(context.Background(), streamID)
		}
		return actionDoneMsg{verb: "stream " + action, err: err}
	}
}

func (m Model) clipboardPushCmd(peer domain.PeerID) tea.Cmd {
	return func() tea.Msg {
		err := m.ports.Clipboard.Send(context.Background(), peer)
		return actionDoneMsg{verb: "clipboard push", err: err}
	}
}

func (m Model) clipboardWatchCmd(peer domain.PeerID) tea.Cmd {
	return func() tea.Msg {
		_, err := m.ports.Clipboard.Watch(context.Background(), peer)
		return actionDoneMsg{verb: "clipboard watch", err: err}
	}
}

func (m Model) queueCapacityCmd(capacity int) tea.Cmd {
	return func() tea.Msg {
		if m.ports.Queue == nil {
			return actionDoneMsg{verb: "queue", err: fmt.Errorf("queue not available")}
		}
		m.ports.Queue.SetCapacity(context.Background(), capacity)
		return actionDoneMsg{verb: "queue capacity"}
	}
}

func (m Model) execCmd(peer domain.PeerID, command string) tea.Cmd {
	return func() tea.Msg {
		result, err := m.ports.Exec.Execute(context.Background(), peer, command, 30*time.Second)
		return execDoneMsg{command: command, result: result, err: err}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
