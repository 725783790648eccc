package output

import (
	"os"
	"strings"

	"github.com/muesli/termenv"

	"kizuna/internal/domain"
)

// Color names the small palette the renderers use.
type Color int

const (
	ColorNone Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorCyan
	ColorGray
	ColorWhite
)

var ansiCodes = map[Color]string{
	ColorRed:    "31",
	ColorGreen:  "32",
	ColorYellow: "33",
	ColorCyan:   "36",
	ColorGray:   "90",
	ColorWhite:  "37",
}

// StyleManager decides whether ANSI styling is emitted and applies it.
// Auto mode disables color when stdout is not a terminal, NO_COLOR is set,
// or TERM=dumb.
type StyleManager struct {
	mode    domain.ColorMode
	enabled bool
}

func NewStyleManager(mode domain.ColorMode) StyleManager {
	return StyleManager{mode: mode, enabled: detectColorSupport()}
}

// NewStyleManagerForced pins the support detection; test helper and pipeline
// mode constructor.
func NewStyleManagerForced(mode domain.ColorMode, supported bool) StyleManager {
	return StyleManager{mode: mode, enabled: supported}
}

func detectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	out := termenv.NewOutput(os.Stdout)
	return out.ColorProfile() != termenv.Ascii && isTerminal()
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// ColorEnabled reports whether styled output will carry ANSI sequences.
func (s StyleManager) ColorEnabled() bool {
	switch s.mode {
	case domain.ColorAlways:
		return true
	case domain.ColorNever:
		return false
	default:
		return s.enabled
	}
}

// Colorize wraps text in the ANSI sequence for color when enabled.
func (s StyleManager) Colorize(text string, c Color) string {
	if !s.ColorEnabled() || c == ColorNone {
		return text
	}
	code, ok := ansiCodes[c]
	if !ok {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

// Bold wraps text in a bold sequence when enabled.
func (s StyleManager) Bold(text string) string {
	if !s.ColorEnabled() {
		return text
	}
	return "\x1b[1m" + text + "\x1b[0m"
}

// StatusIndicator returns a colored glyph plus the status word.
func (s StyleManager) StatusIndicator(status string) string {
	var glyph string
	var c Color
	switch strings.ToLower(status) {
	case "completed", "success", "done":
		glyph, c = "✓", ColorGreen
	case "failed", "error":
		glyph, c = "✗", ColorRed
	case "warning", "pending":
		glyph, c = "⚠", ColorYellow
	case "running", "in_progress", "starting":
		glyph, c = "●", ColorCyan
	case "cancelled":
		glyph, c = "⊘", ColorGray
	default:
		glyph, c = "•", ColorWhite
	}
	return s.Colorize(s.Bold(glyph), c) + " " + status
}
