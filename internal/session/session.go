package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/rehearse/internal/audio"
	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// FrameInterval is the render cadence of the live view
const FrameInterval = 16 * time.Millisecond

var ErrNotRecording = errors.New("no recording in progress")

// Draft is what a stopped session leaves behind for saving
type Draft struct {
	Audio    []byte
	MimeType string
	Mode     string
	Duration float64 // ms
	Errors   []float64
	Waveform []timeline.Sample
}

// Session is one recording, from source acquisition to the encoded draft.
// Everything it owns is created by Start and released by Stop.
type Session struct {
	vis      config.VisualizerConfig
	backend  audio.Backend
	notifier notify.Notifier
	clock    timeline.Clock
	tracker  *marker.Tracker

	mu       sync.Mutex
	mode     string
	start    float64
	capture  audio.Capture
	sampler  *timeline.Sampler
	renderer *timeline.ScrollRenderer
	frame    []timeline.Positioned
	cancel   context.CancelFunc
	done     chan struct{}
	onFrame  func(frame []timeline.Positioned, elapsed float64)
}

func New(cfg *config.Config, backend audio.Backend, notifier notify.Notifier, clock timeline.Clock) *Session {
	return &Session{
		vis:      cfg.Visualizer,
		backend:  backend,
		notifier: notifier,
		clock:    clock,
		tracker:  marker.NewTracker(cfg.Client.Owner),
	}
}

// Start acquires the sources of mode and begins capturing. If they cannot be
// acquired the user is asked whether to try the alternate mode; when that is
// declined or fails too, the user is alerted and the session stays idle.
// Start returns the mode actually recording.
func (s *Session) Start(ctx context.Context, mode string) (string, error) {
	if s.tracker.State() != marker.StateIdle {
		return "", fmt.Errorf("%w: session already started", marker.ErrInvalidState)
	}

	runCtx, cancel := context.WithCancel(ctx)

	capture, err := s.backend.Open(runCtx, mode)
	if err != nil {
		slog.Warn("Capture failed", "mode", mode, "error", err)
		alt := config.AlternateMode(mode)
		if s.notifier.Confirm(fmt.Sprintf("Could not capture in %s mode (%v). Try %s mode instead?", mode, err, alt)) {
			capture, err = s.backend.Open(runCtx, alt)
			if err == nil {
				mode = alt
			} else {
				slog.Warn("Fallback capture failed", "mode", alt, "error", err)
			}
		}
	}
	if err != nil {
		cancel()
		s.notifier.Alert(fmt.Sprintf("Audio access error: %v", err))
		return "", fmt.Errorf("failed to start recording: %w", err)
	}

	start := s.clock.Now()
	if err := s.tracker.StartRecording(start); err != nil {
		cancel()
		capture.Abort()
		return "", err
	}

	renderer := timeline.NewScrollRenderer(s.vis.ScrollSpeed, s.vis.Width)
	sampler := timeline.NewSampler(capture.Input(), capture.Output(), start, float64(s.vis.SampleIntervalMs))
	sampler.OnSample = func(sample timeline.Sample, now float64) {
		renderer.Append(timeline.Element{
			ID:      marker.NewID(),
			Kind:    timeline.KindBar,
			Created: now,
			Height:  timeline.BarHeight(sample, s.vis.InputSensitivity, s.vis.OutputSensitivity, s.vis.MaxBarHeight),
		})
	}

	s.mu.Lock()
	s.mode = mode
	s.start = start
	s.capture = capture
	s.sampler = sampler
	s.renderer = renderer
	s.frame = nil
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	slog.Info("Recording started", "mode", mode)

	// first sample at the session start, before the loop is scheduled
	s.Tick(start)
	go func() {
		defer close(done)
		timeline.Loop(runCtx, s.clock, FrameInterval, s.Tick)
	}()
	return mode, nil
}

// SetFrameHandler installs fn to run on the render loop after every tick
func (s *Session) SetFrameHandler(fn func(frame []timeline.Positioned, elapsed float64)) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// Tick samples if the cadence allows, then scrolls and prunes. It returns
// false once the session is no longer recording.
func (s *Session) Tick(now float64) bool {
	s.mu.Lock()
	if s.sampler == nil || s.tracker.State() != marker.StateRecording {
		s.mu.Unlock()
		return false
	}
	s.sampler.Poll(now)
	frame := s.renderer.Tick(now)
	s.frame = frame
	elapsed := now - s.start
	onFrame := s.onFrame
	s.mu.Unlock()

	if onFrame != nil {
		onFrame(frame, elapsed)
	}
	return true
}

// MarkError flags an error at the current recording offset and puts a
// marker at the live edge of the scroll view.
func (s *Session) MarkError() (marker.ErrorMarker, error) {
	now := s.clock.Now()
	m, err := s.tracker.MarkRecording(now)
	if err != nil {
		return marker.ErrorMarker{}, err
	}

	s.mu.Lock()
	if s.renderer != nil {
		s.renderer.Append(timeline.Element{
			ID:      m.ID,
			Kind:    timeline.KindMarker,
			Created: now,
			Height:  s.vis.MaxBarHeight,
		})
	}
	s.mu.Unlock()

	slog.Debug("Error marked", "time", m.Time)
	return m, nil
}

// DeleteError removes a recording error and its scroll marker if still visible
func (s *Session) DeleteError(id string) error {
	if _, err := s.tracker.DeleteByLocalID(id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.renderer != nil {
		s.renderer.Remove(id)
	}
	s.mu.Unlock()
	return nil
}

// Stop ends the render loop and the capture and returns the draft
func (s *Session) Stop() (*Draft, error) {
	s.mu.Lock()
	capture, cancel, done := s.capture, s.cancel, s.done
	s.mu.Unlock()

	if capture == nil || s.tracker.State() != marker.StateRecording {
		return nil, ErrNotRecording
	}

	stopped := s.clock.Now()
	if err := s.tracker.StopRecording(); err != nil {
		return nil, err
	}
	cancel()
	<-done

	rec, err := capture.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = nil
	s.cancel = nil

	if err != nil {
		s.notifier.Alert(fmt.Sprintf("Recording failed: %v", err))
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}

	draft := &Draft{
		Audio:    rec.Data,
		MimeType: rec.MimeType,
		Mode:     s.mode,
		Duration: stopped - s.start,
		Errors:   s.tracker.Times(marker.OriginRecording),
		Waveform: s.sampler.Samples(),
	}
	slog.Info("Recording stopped", "duration_ms", draft.Duration, "errors", len(draft.Errors), "bytes", len(draft.Audio))
	return draft, nil
}

// Abort discards a running session
func (s *Session) Abort() {
	s.mu.Lock()
	capture, cancel, done := s.capture, s.cancel, s.done
	s.capture = nil
	s.mu.Unlock()

	if capture == nil {
		return
	}
	_ = s.tracker.StopRecording()
	cancel()
	<-done
	capture.Abort()
	slog.Info("Recording aborted")
}

func (s *Session) State() marker.State {
	return s.tracker.State()
}

func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Elapsed is the recording time in ms at the current clock
func (s *Session) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampler == nil {
		return 0
	}
	return s.clock.Now() - s.start
}

// Frame is the last rendered scroll frame
func (s *Session) Frame() []timeline.Positioned {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]timeline.Positioned, len(s.frame))
	copy(out, s.frame)
	return out
}

func (s *Session) Markers() []marker.ErrorMarker {
	return s.tracker.Markers()
}

// Visible counts the live scroll elements of kind
func (s *Session) Visible(kind timeline.ElementKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderer == nil {
		return 0
	}
	return s.renderer.Count(kind)
}
