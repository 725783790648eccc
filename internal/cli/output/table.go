package output

import (
	"os"
	"strings"

	"golang.org/x/term"

	"kizuna/internal/domain"
)

type alignment int

const (
	alignLeft alignment = iota
	alignCenter
)

// TableRenderer draws Unicode box tables sized to the terminal.
type TableRenderer struct {
	styles StyleManager
	width  int
}

func NewTableRenderer(styles StyleManager) TableRenderer {
	return TableRenderer{styles: styles, width: terminalWidth()}
}

// NewTableRendererWidth pins the width; test helper.
func NewTableRendererWidth(styles StyleManager, width int) TableRenderer {
	return TableRenderer{styles: styles, width: width}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// Render draws the table. Headers are center-aligned and bold, data rows
// left-aligned; cells are truncated with an ellipsis when columns shrink.
func (r TableRenderer) Render(data domain.TableData) string {
	if len(data.Headers) == 0 {
		return ""
	}
	widths := r.columnWidths(data)

	var b strings.Builder
	b.WriteString(border(widths, "┌", "┬", "┐"))
	b.WriteByte('\n')
	b.WriteString(r.row(data.Headers, widths, alignCenter, true))
	b.WriteByte('\n')
	b.WriteString(border(widths, "├", "┼", "┤"))
	b.WriteByte('\n')
	for _, row := range data.Rows {
		b.WriteString(r.row(row, widths, alignLeft, false))
		b.WriteByte('\n')
	}
	b.WriteString(border(widths, "└", "┴", "┘"))
	b.WriteByte('\n')
	return b.String()
}

// columnWidths sizes columns to content, shrinking proportionally when the
// bordered total exceeds the terminal width. Columns never shrink below 3.
func (r TableRenderer) columnWidths(data domain.TableData) []int {
	cols := len(data.Headers)
	widths := make([]int, cols)
	for i, h := range data.Headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range data.Rows {
		for i := 0; i < cols && i < len(row); i++ {
			if l := len([]rune(row[i])); l > widths[i] {
				widths[i] = l
			}
		}
	}

	overhead := 3*cols + 1
	content := 0
	for _, w := range widths {
		content += w
	}
	if content+overhead > r.width && r.width > overhead && content > 0 {
		scale := float64(r.width-overhead) / float64(content)
		for i := range widths {
			widths[i] = int(float64(widths[i]) * scale)
			if widths[i] < 3 {
				widths[i] = 3
			}
		}
	}
	return widths
}

func (r TableRenderer) row(cells []string, widths []int, align alignment, header bool) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		cell = truncate(cell, w)
		cell = pad(cell, w, align)
		if header {
			cell = r.styles.Bold(cell)
		}
		parts[i] = cell
	}
	return "│ " + strings.Join(parts, " │ ") + " │"
}

func border(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat("─", w+2))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	return b.String()
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

func pad(s string, width int, align alignment) string {
	gap := width - len([]rune(s))
	if gap <= 0 {
		return s
	}
	if align == alignCenter {
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	}
	return s + strings.Repeat(" ", gap)
}
