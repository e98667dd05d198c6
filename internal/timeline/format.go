package timeline

import (
	"fmt"
	"math"
)

// FormatTime renders a millisecond offset as MM:SS.
func FormatTime(ms float64) string {
	if ms < 0 || math.IsNaN(ms) {
		ms = 0
	}
	minutes := int64(math.Floor(ms / 60000))
	seconds := int64(math.Floor(math.Mod(ms, 60000) / 1000))
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// FormatPosition renders the playback timer, "MM:SS / MM:SS".
func FormatPosition(current, total float64) string {
	return FormatTime(current) + " / " + FormatTime(total)
}
