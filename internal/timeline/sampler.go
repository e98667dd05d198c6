package timeline

import "math"

// Sample is one amplitude reading. Input and Output are normalized to [0,1];
// Time is the offset in ms from recording or track start.
type Sample struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
	Time   float64 `json:"time" yaml:"time"`
}

// AnalysisSource is a live amplitude-analysis node. Level returns the current
// average magnitude normalized to [0,1].
type AnalysisSource interface {
	Level() float64
}

// Sampler reads two analysis sources at a fixed cadence. The cadence gate is
// time-based so it stays aligned with the rendering clock: polling faster than
// the cadence never produces extra samples.
//
// A Sampler is not safe for concurrent use.
type Sampler struct {
	input   AnalysisSource
	output  AnalysisSource
	start   float64
	cadence float64

	sampled    bool
	lastSample float64
	samples    []Sample

	// OnSample runs after a sample is appended, with the poll time.
	OnSample func(s Sample, now float64)
}

// NewSampler creates a sampler for a session that started at start (clock ms).
// Either source may be nil, in which case it reads as silence.
func NewSampler(input, output AnalysisSource, start, cadenceMs float64) *Sampler {
	return &Sampler{
		input:   input,
		output:  output,
		start:   start,
		cadence: cadenceMs,
	}
}

// Poll takes a sample if more than one cadence has elapsed since the last one.
func (s *Sampler) Poll(now float64) (Sample, bool) {
	if s.sampled && now-s.lastSample <= s.cadence {
		return Sample{}, false
	}

	sample := Sample{
		Input:  readLevel(s.input),
		Output: readLevel(s.output),
		Time:   now - s.start,
	}
	s.samples = append(s.samples, sample)
	s.sampled = true
	s.lastSample = now

	if s.OnSample != nil {
		s.OnSample(sample, now)
	}
	return sample, true
}

// Samples returns a copy of the samples taken so far, in time order.
func (s *Sampler) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *Sampler) Len() int {
	return len(s.samples)
}

func readLevel(src AnalysisSource) float64 {
	if src == nil {
		return 0
	}
	return clamp01(src.Level())
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BarHeight combines both sources into one bar height in pixels.
func BarHeight(s Sample, inputSensitivity, outputSensitivity, maxHeight float64) float64 {
	h := (s.Input*255*inputSensitivity + s.Output*255*outputSensitivity) * 0.9
	return math.Min(h, maxHeight)
}
