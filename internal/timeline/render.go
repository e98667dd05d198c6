package timeline

import "strings"

var levels = []rune(" ▁▂▃▄▅▆▇█")

// RenderStrip draws the live view as one row of cols runes. The live edge is
// the rightmost column; markers win over bars in the same column.
func RenderStrip(frame []Positioned, width, maxHeight float64, cols int) string {
	if cols <= 0 {
		return ""
	}
	row := make([]rune, cols)
	for i := range row {
		row[i] = ' '
	}
	for _, p := range frame {
		col := cols - 1 - int(p.Offset/width*float64(cols))
		if col < 0 || col >= cols {
			continue
		}
		if p.Kind == KindMarker {
			row[col] = '!'
			continue
		}
		if row[col] == '!' {
			continue
		}
		row[col] = levelRune(p.Height, maxHeight)
	}
	return string(row)
}

func levelRune(h, maxHeight float64) rune {
	if maxHeight <= 0 || h <= 0 {
		return levels[0]
	}
	idx := int(h / maxHeight * float64(len(levels)-1))
	if idx >= len(levels) {
		idx = len(levels) - 1
	}
	if idx == 0 {
		idx = 1
	}
	return levels[idx]
}

// Bars renders heights as a single line of block runes.
func Bars(heights []float64, maxHeight float64) string {
	var b strings.Builder
	for _, h := range heights {
		b.WriteRune(levelRune(h, maxHeight))
	}
	return b.String()
}
