package output

import (
	"fmt"
	"strings"

	"kizuna/internal/domain"
)

const barWidth = 40

// ProgressRenderer draws progress bars and status lines for operations.
type ProgressRenderer struct {
	styles StyleManager
}

func NewProgressRenderer(styles StyleManager) ProgressRenderer {
	return ProgressRenderer{styles: styles}
}

// Bar renders a 40-cell bar with percentage. Green at 100%, cyan from 50%,
// yellow below. Unknown totals render the indeterminate marker.
func (r ProgressRenderer) Bar(p domain.ProgressInfo) string {
	if p.Total == nil || *p.Total == 0 {
		return r.Indeterminate(int(p.Current))
	}
	pct := p.Percent()
	filled := int(float64(p.Current) / float64(*p.Total) * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := fmt.Sprintf("[%s%s] %.1f%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", barWidth-filled),
		pct,
	)
	switch {
	case pct >= 100:
		return r.styles.Colorize(bar, ColorGreen)
	case pct >= 50:
		return r.styles.Colorize(bar, ColorCyan)
	default:
		return r.styles.Colorize(bar, ColorYellow)
	}
}

// Indeterminate renders a 5-cell marker sweeping across the bar; frame picks
// the marker position.
func (r ProgressRenderer) Indeterminate(frame int) string {
	cells := make([]rune, barWidth)
	for i := range cells {
		cells[i] = '░'
	}
	pos := frame % barWidth
	if pos < 0 {
		pos += barWidth
	}
	for i := 0; i < 5; i++ {
		cells[(pos+i)%barWidth] = '█'
	}
	return "[" + string(cells) + "] ..."
}

// Status renders "current / total | rate | ETA" from whatever fields are set.
func (r ProgressRenderer) Status(p domain.ProgressInfo) string {
	var parts []string
	if p.Total != nil {
		parts = append(parts, FormatBytes(p.Current)+" / "+FormatBytes(*p.Total))
	} else {
		parts = append(parts, FormatBytes(p.Current))
	}
	if p.Rate != nil {
		parts = append(parts, FormatRate(*p.Rate))
	}
	if p.ETA != nil {
		parts = append(parts, "ETA: "+FormatDuration(*p.ETA))
	}
	if p.Message != "" {
		parts = append(parts, r.styles.Colorize(p.Message, ColorGray))
	}
	return strings.Join(parts, " | ")
}

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner returns the spinner glyph for a frame counter.
func Spinner(frame int) rune {
	return spinnerFrames[frame%len(spinnerFrames)]
}
