package components

import "strings"

const sparklineWindow = 60

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps a bounded window of bandwidth samples (bytes/sec) and
// renders them as a one-line block-rune chart.
type Sparkline struct {
	samples []float64
	total   float64
}

// NewSparkline returns an empty sparkline with the default 60-sample window.
func NewSparkline() *Sparkline {
	return &Sparkline{samples: make([]float64, 0, sparklineWindow)}
}

// Push appends one sample, evicting the oldest when the window is full.
func (s *Sparkline) Push(v float64) {
	if v < 0 {
		v = 0
	}
	if len(s.samples) == sparklineWindow {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:sparklineWindow-1]
	}
	s.samples = append(s.samples, v)
	s.total += v
}

// Current returns the most recent sample, zero when empty.
func (s *Sparkline) Current() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	return s.samples[len(s.samples)-1]
}

// Average returns the arithmetic mean over the window.
func (s *Sparkline) Average() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.samples {
		sum += v
	}
	return sum / float64(len(s.samples))
}

// Total returns the sum of every sample ever pushed, including evicted ones.
// With one sample per second this approximates total bytes moved.
func (s *Sparkline) Total() float64 { return s.total }

// Len returns the number of samples currently held.
func (s *Sparkline) Len() int { return len(s.samples) }

// Render draws the window scaled to its own peak. A flat-zero window renders
// as all-low blocks so the chart keeps its width.
func (s *Sparkline) Render() string {
	if len(s.samples) == 0 {
		return ""
	}
	var peak float64
	for _, v := range s.samples {
		if v > peak {
			peak = v
		}
	}
	var sb strings.Builder
	for _, v := range s.samples {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkRunes)-1))
			if idx >= len(sparkRunes) {
				idx = len(sparkRunes) - 1
			}
		}
		sb.WriteRune(sparkRunes[idx])
	}
	return sb.String()
}
