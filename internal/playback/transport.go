package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/rehearse/internal/timeline"
	"github.com/audiolibrelab/rehearse/internal/waveform"
)

// Output makes the transport audible. Start begins at an offset and replaces
// whatever was playing.
type Output interface {
	Start(offsetMs float64) error
	Stop() error
}

// Transport is the playback position clock. The position is anchored to the
// injected clock, so it advances without polling and survives seeks.
type Transport struct {
	mu       sync.Mutex
	clock    timeline.Clock
	duration float64 // ms
	output   Output

	base    float64 // position at anchor, ms
	anchor  float64 // clock ms when base was taken
	playing bool
}

// NewTransport creates a paused transport at 0. output may be nil.
func NewTransport(clock timeline.Clock, durationMs float64, output Output) *Transport {
	return &Transport{clock: clock, duration: durationMs, output: output}
}

func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.playing {
		return nil
	}
	if t.base >= t.duration {
		t.base = 0
	}
	if t.output != nil {
		if err := t.output.Start(t.base); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
	}
	t.anchor = t.clock.Now()
	t.playing = true
	return nil
}

func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.playing {
		return nil
	}
	t.base = t.positionLocked()
	t.playing = false
	if t.output != nil {
		return t.output.Stop()
	}
	return nil
}

// Toggle plays when paused and pauses when playing
func (t *Transport) Toggle() error {
	if t.Playing() {
		return t.Pause()
	}
	return t.Play()
}

// Seek moves to the fraction p of the duration, clamped to [0,1]
func (t *Transport) Seek(p float64) error {
	return t.SeekTo(waveform.SeekTime(p, t.duration) * 1000)
}

// SeekTo moves to ms, clamped to the track. A playing output restarts there.
func (t *Transport) SeekTo(ms float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ms < 0 {
		ms = 0
	}
	if ms > t.duration {
		ms = t.duration
	}
	t.base = ms
	t.anchor = t.clock.Now()

	if t.playing && t.output != nil {
		if err := t.output.Start(ms); err != nil {
			t.playing = false
			return fmt.Errorf("failed to restart playback: %w", err)
		}
	}
	return nil
}

// Position is the current offset in ms
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

// CurrentTime is the position in seconds
func (t *Transport) CurrentTime() float64 {
	return t.Position() / 1000
}

func (t *Transport) Duration() float64 {
	return t.duration
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Update pauses at the end of the track and reports whether it still plays
func (t *Transport) Update() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.playing && t.positionLocked() >= t.duration {
		t.base = t.duration
		t.playing = false
		if t.output != nil {
			if err := t.output.Stop(); err != nil {
				slog.Debug("Failed to stop output at end", "error", err)
			}
		}
		slog.Debug("Playback reached end", "duration_ms", t.duration)
	}
	return t.playing
}

func (t *Transport) positionLocked() float64 {
	if !t.playing {
		return t.base
	}
	pos := t.base + (t.clock.Now() - t.anchor)
	if pos > t.duration {
		return t.duration
	}
	return pos
}
