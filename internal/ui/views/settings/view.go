package settings

import (
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kizuna/internal/platform/config"
	"kizuna/internal/ui/theme"
)

// ConfigMsg replaces the configuration shown by the view. The app layer
// sends one on startup and again whenever the config file changes on disk.
type ConfigMsg struct{ Cfg config.CLIConfig }

// Model renders the live configuration read-only; edits go through
// `kizuna config set`.
type Model struct {
	cfg    config.CLIConfig
	path   string
	width  int
	height int
}

func New(cfg config.CLIConfig, path string) Model {
	return Model{cfg: cfg, path: path}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case ConfigMsg:
		m.cfg = msg.Cfg
	}
	return m, nil
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Settings") + "\n")
	sb.WriteString(theme.Muted.Render(m.path) + "\n\n")

	for _, key := range config.Keys() {
		value, err := m.cfg.Get(key)
		if err != nil {
			continue
		}
		if value == "" {
			value = theme.Muted.Render("(unset)")
		} else {
			value = theme.Hot.Render(value)
		}
		sb.WriteString("  " + padKey(key) + value + "\n")
	}

	if len(m.cfg.Profiles) > 0 {
		sb.WriteString("\n" + theme.Title.Render("Profiles") + "\n")
		names := make([]string, 0, len(m.cfg.Profiles))
		for name := range m.cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString("  " + name + "  " + theme.Muted.Render(m.cfg.Profiles[name].Description) + "\n")
		}
	}

	sb.WriteString("\n" + theme.Muted.Render("edits: kizuna config set <key> <value>; this view follows the file"))
	return lipgloss.NewStyle().Width(m.width).Height(m.height).Render(sb.String())
}

func padKey(key string) string {
	const col = 42
	if len(key) >= col {
		return key + " "
	}
	return key + strings.Repeat(" ", col-len(key))
}
