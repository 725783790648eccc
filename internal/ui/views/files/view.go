package files

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/cli/output"
	"kizuna/internal/ui/theme"
)

// SendRequestMsg asks the app layer to send the selected files to the
// currently selected peer.
type SendRequestMsg struct{ Files []string }

type entry struct {
	name  string
	path  string
	isDir bool
	size  uint64
}

// Model is the file-browser view: a directory listing with a selection set,
// dirs-first ordering, and a hidden-files toggle.
type Model struct {
	dir        string
	entries    []entry
	cursor     int
	offset     int
	selected   map[string]uint64
	showHidden bool
	errLine    string
	width      int
	height     int
}

func New(startDir string) Model {
	m := Model{dir: startDir, selected: make(map[string]uint64)}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case "h":
			m.showHidden = !m.showHidden
			m.reload()
		case " ":
			m.toggleSelection()
		case "enter":
			m.activate()
		case "backspace":
			m.dir = filepath.Dir(m.dir)
			m.cursor = 0
			m.reload()
		case "s":
			if len(m.selected) > 0 {
				files := m.SelectedFiles()
				return m, func() tea.Msg { return SendRequestMsg{Files: files} }
			}
			m.errLine = "nothing selected"
		}
		m.clampScroll()
	}
	return m, nil
}

// SelectedFiles returns the selection as sorted absolute paths.
func (m Model) SelectedFiles() []string {
	files := make([]string, 0, len(m.selected))
	for path := range m.selected {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

// ClearSelection empties the selection set after a send handoff.
func (m *Model) ClearSelection() {
	m.selected = make(map[string]uint64)
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Files: "+m.dir) + "\n")

	rows := m.height - 4
	if rows < 1 {
		rows = 1
	}
	end := m.offset + rows
	if end > len(m.entries) {
		end = len(m.entries)
	}
	for i := m.offset; i < end; i++ {
		e := m.entries[i]
		marker := "[ ]"
		if _, ok := m.selected[e.path]; ok {
			marker = theme.Good.Render("[✓]")
		}
		if e.isDir {
			marker = "   "
		}
		name := e.name
		if e.isDir {
			name = theme.Hot.Render(name + "/")
		}
		line := marker + " " + name
		if !e.isDir {
			line += "  " + theme.Muted.Render(output.FormatBytes(e.size))
		}
		if i == m.cursor {
			line = lipgloss.NewStyle().Background(theme.Surface0).Render("▸ " + line)
		} else {
			line = "  " + line
		}
		sb.WriteString(line + "\n")
	}
	if len(m.entries) == 0 {
		sb.WriteString(theme.Muted.Render("  (empty directory)") + "\n")
	}

	sb.WriteString("\n" + m.renderSelectionPanel())
	if m.errLine != "" {
		sb.WriteString("  " + theme.Warn.Render(m.errLine))
	}
	return lipgloss.NewStyle().Width(m.width).Height(m.height).Render(sb.String())
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m *Model) reload() {
	m.errLine = ""
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		m.entries = nil
		m.errLine = "read dir: " + err.Error()
		return
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !m.showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		e := entry{name: name, path: filepath.Join(m.dir, name), isDir: de.IsDir()}
		if !e.isDir {
			if info, err := de.Info(); err == nil {
				e.size = uint64(info.Size())
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})
	m.entries = entries
	if m.cursor >= len(entries) {
		m.cursor = len(entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) toggleSelection() {
	if m.cursor >= len(m.entries) {
		return
	}
	e := m.entries[m.cursor]
	if e.isDir {
		return
	}
	if _, ok := m.selected[e.path]; ok {
		delete(m.selected, e.path)
	} else {
		m.selected[e.path] = e.size
	}
}

// activate descends into a directory or toggles a file's selection.
func (m *Model) activate() {
	if m.cursor >= len(m.entries) {
		return
	}
	e := m.entries[m.cursor]
	if e.isDir {
		m.dir = e.path
		m.cursor = 0
		m.offset = 0
		m.reload()
		return
	}
	m.toggleSelection()
}

func (m *Model) clampScroll() {
	rows := m.height - 4
	if rows < 1 {
		rows = 1
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m Model) renderSelectionPanel() string {
	var total uint64
	for _, size := range m.selected {
		total += size
	}
	return theme.Muted.Render("selected: ") +
		theme.Hot.Render(strconv.Itoa(len(m.selected))) +
		theme.Muted.Render("  total: ") +
		theme.Hot.Render(output.FormatBytes(total)) +
		theme.Muted.Render("  space:select  h:hidden  s:send")
}
