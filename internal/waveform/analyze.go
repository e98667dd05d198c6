package waveform

import (
	"math"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// Pitch is the horizontal distance between bar origins. Playback layout uses
// half the configured gap.
func Pitch(v config.VisualizerConfig) float64 {
	return v.BarWidth + v.BarGap/2
}

// TotalBars is how many bars fit in the visualizer width.
func TotalBars(v config.VisualizerConfig) int {
	p := Pitch(v)
	if p <= 0 {
		return 0
	}
	return int(math.Floor(v.Width / p))
}

// Analyze reduces a decoded mono signal to one Sample per bar. Each bar is the
// mean absolute amplitude of an equal-length slice; trailing samples that do
// not fill a slice are ignored.
func Analyze(mono []float64, durationMs float64, v config.VisualizerConfig) []timeline.Sample {
	total := TotalBars(v)
	if total == 0 {
		return nil
	}
	perBar := len(mono) / total

	out := make([]timeline.Sample, total)
	for i := 0; i < total; i++ {
		var avg float64
		if perBar > 0 {
			var sum float64
			for _, x := range mono[i*perBar : (i+1)*perBar] {
				sum += math.Abs(x)
			}
			avg = sum / float64(perBar)
		}
		out[i] = timeline.Sample{
			Input:  avg,
			Output: avg,
			Time:   float64(i) / float64(total) * durationMs,
		}
	}
	return out
}

// Bar is one static playback bar.
type Bar struct {
	Left   float64
	Width  float64
	Height float64
	Time   float64
}

// MarkerPos is a fixed error marker in the playback view.
type MarkerPos struct {
	ID     string
	Time   float64
	Left   float64
	Origin marker.Origin
}

// Layout is the non-scrolling playback view of a whole record.
type Layout struct {
	Bars       []Bar
	Markers    []MarkerPos
	Width      float64
	MaxHeight  float64
	DurationMs float64
}

// NewLayout places bars over the full width. Bar i reads the sample at
// floor(barTime/duration * len(samples)); missing data renders as silence.
func NewLayout(samples []timeline.Sample, durationMs float64, markers []marker.ErrorMarker, v config.VisualizerConfig) *Layout {
	l := &Layout{
		Width:      v.Width,
		MaxHeight:  v.MaxBarHeight,
		DurationMs: durationMs,
	}

	total := TotalBars(v)
	if total > 0 && durationMs > 0 {
		perBar := durationMs / float64(total)
		pitch := Pitch(v)
		l.Bars = make([]Bar, total)
		for i := 0; i < total; i++ {
			barTime := float64(i) * perBar
			idx := int(math.Floor(barTime / durationMs * float64(len(samples))))
			var s timeline.Sample
			if idx >= 0 && idx < len(samples) {
				s = samples[idx]
			}
			l.Bars[i] = Bar{
				Left:   float64(i) * pitch,
				Width:  v.BarWidth,
				Height: timeline.BarHeight(s, v.InputSensitivity, v.OutputSensitivity, v.MaxBarHeight),
				Time:   barTime,
			}
		}
	}

	for _, m := range markers {
		l.AddMarker(m)
	}
	return l
}

// AddMarker places a fixed marker at (T/D) * width.
func (l *Layout) AddMarker(m marker.ErrorMarker) MarkerPos {
	p := MarkerPos{
		ID:     m.ID,
		Time:   m.Time,
		Left:   MarkerLeft(m.Time, l.DurationMs, l.Width),
		Origin: m.Origin,
	}
	l.Markers = append(l.Markers, p)
	return p
}

// RemoveMarker drops the one marker element with the given id.
func (l *Layout) RemoveMarker(id string) bool {
	for i, m := range l.Markers {
		if m.ID == id {
			l.Markers = append(l.Markers[:i], l.Markers[i+1:]...)
			return true
		}
	}
	return false
}

// ScrubLeft is the playhead pixel for a position in seconds.
func (l *Layout) ScrubLeft(currentSec float64) float64 {
	return ScrubLeft(currentSec, l.DurationMs, l.Width)
}

// MarkerLeft maps an offset in ms to a pixel.
func MarkerLeft(timeMs, durationMs, width float64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return timeMs / durationMs * width
}

// ScrubLeft maps the playback position in seconds to a pixel.
func ScrubLeft(currentSec, durationMs, width float64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return currentSec * 1000 / durationMs * width
}

// SeekTime converts a fractional position p in [0,1] to seconds.
func SeekTime(p, durationMs float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return durationMs / 1000 * p
}

// Peaks returns the per-bar amplitudes of an analysis, the form cached by the server.
func Peaks(samples []timeline.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Input
	}
	return out
}

// FromPeaks rebuilds analysis samples from cached peaks.
func FromPeaks(peaks []float64, durationMs float64) []timeline.Sample {
	out := make([]timeline.Sample, len(peaks))
	for i, p := range peaks {
		out[i] = timeline.Sample{
			Input:  p,
			Output: p,
			Time:   float64(i) / float64(len(peaks)) * durationMs,
		}
	}
	return out
}
