package waveform

import (
	"strings"

	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// RenderASCII draws the layout into cols terminal columns: a bar row, a marker
// row ('x' recording, '*' playback) and a playhead row for currentSec.
func RenderASCII(l *Layout, cols int, currentSec float64) string {
	if cols <= 0 || l.Width <= 0 {
		return ""
	}

	heights := make([]float64, cols)
	for _, b := range l.Bars {
		c := column(b.Left, l.Width, cols)
		if b.Height > heights[c] {
			heights[c] = b.Height
		}
	}

	marks := []rune(strings.Repeat(" ", cols))
	for _, m := range l.Markers {
		c := column(m.Left, l.Width, cols)
		if m.Origin == marker.OriginPlayback {
			marks[c] = '*'
		} else if marks[c] != '*' {
			marks[c] = 'x'
		}
	}

	head := []rune(strings.Repeat("-", cols))
	head[column(l.ScrubLeft(currentSec), l.Width, cols)] = '^'

	var b strings.Builder
	b.WriteString(timeline.Bars(heights, l.MaxHeight))
	b.WriteByte('\n')
	b.WriteString(string(marks))
	b.WriteByte('\n')
	b.WriteString(string(head))
	return b.String()
}

func column(left, width float64, cols int) int {
	c := int(left / width * float64(cols))
	if c < 0 {
		return 0
	}
	if c >= cols {
		return cols - 1
	}
	return c
}
