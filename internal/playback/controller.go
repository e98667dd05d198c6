package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/rehearse/internal/checkpoint"
	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/gateway"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/timeline"
	"github.com/audiolibrelab/rehearse/internal/waveform"
)

var ErrNotLoaded = errors.New("no record loaded")

// Gateway is the part of the records API playback needs
type Gateway interface {
	GetRecord(ctx context.Context, id int64) (*gateway.Record, error)
	FetchAudio(ctx context.Context, ref string) ([]byte, string, error)
	GetWaveform(ctx context.Context, recordID int64) (*gateway.Waveform, error)
	AddError(ctx context.Context, recordID int64, timeMs float64) (int64, error)
	SaveComment(ctx context.Context, recordID int64, timeMs float64, comment string) error
	DeleteMistake(ctx context.Context, id int64) error
}

// OutputFactory builds the audible output for a loaded record
type OutputFactory func(audio []byte, format string) (Output, error)

// Controller reviews one stored record: static waveform, error markers,
// checkpoints and a seekable transport.
type Controller struct {
	vis      config.VisualizerConfig
	owner    bool
	api      Gateway
	notifier notify.Notifier
	clock    timeline.Clock

	// NewOutput, when set, makes playback audible
	NewOutput OutputFactory

	mu          sync.Mutex
	record      *gateway.Record
	duration    float64
	tracker     *marker.Tracker
	checkpoints *checkpoint.List
	layout      *waveform.Layout
	transport   *Transport
	output      Output
}

func NewController(cfg *config.Config, api Gateway, notifier notify.Notifier, clock timeline.Clock) *Controller {
	return &Controller{
		vis:      cfg.Visualizer,
		owner:    cfg.Client.Owner,
		api:      api,
		notifier: notifier,
		clock:    clock,
	}
}

// Load fetches record id, rebuilds its waveform from the audio and places
// every stored error as a checkpoint and a fixed marker.
func (c *Controller) Load(ctx context.Context, id int64) error {
	if err := c.load(ctx, id); err != nil {
		c.notifier.Alert(fmt.Sprintf("Failed to load record: %v", err))
		return err
	}
	return nil
}

func (c *Controller) load(ctx context.Context, id int64) error {
	rec, err := c.api.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	data, mimeType, err := c.api.FetchAudio(ctx, rec.Audio)
	if err != nil {
		return err
	}
	format := waveform.Sniff(data)
	if format == "" {
		format = mimeType
	}

	duration := rec.Duration
	samples, decodedDuration, err := c.analyze(ctx, id, data, format)
	if err != nil {
		return err
	}
	if duration <= 0 {
		duration = decodedDuration
	}

	existing := make([]marker.ErrorMarker, 0, len(rec.Errors)+len(rec.PlaybackErrors))
	for _, m := range rec.Errors {
		existing = append(existing, marker.ErrorMarker{ServerID: m.ID, Time: m.Time, Origin: marker.OriginRecording, Comment: m.Comment})
	}
	for _, m := range rec.PlaybackErrors {
		existing = append(existing, marker.ErrorMarker{ServerID: m.ID, Time: m.Time, Origin: marker.OriginPlayback, Comment: m.Comment})
	}

	tracker := marker.NewTracker(c.owner)
	tracker.Load(id, c.api, existing)
	markers := tracker.Markers()

	checkpoints := checkpoint.NewList(id, c.api)
	for _, m := range markers {
		checkpoints.Add(m)
	}
	layout := waveform.NewLayout(samples, duration, markers, c.vis)

	var output Output
	if c.NewOutput != nil {
		output, err = c.NewOutput(data, format)
		if err != nil {
			slog.Warn("Playback will be silent", "error", err)
			output = nil
		}
	}

	c.mu.Lock()
	c.closeOutputLocked()
	c.record = rec
	c.duration = duration
	c.tracker = tracker
	c.checkpoints = checkpoints
	c.layout = layout
	c.output = output
	c.transport = NewTransport(c.clock, duration, output)
	c.mu.Unlock()

	slog.Info("Record loaded", "id", id, "name", rec.Name, "duration_ms", duration, "errors", len(markers))
	return nil
}

// analyze decodes the audio locally. Containers the decoder cannot read fall
// back to the peaks the server computed.
func (c *Controller) analyze(ctx context.Context, id int64, data []byte, format string) ([]timeline.Sample, float64, error) {
	audio, err := waveform.DecodeBytes(data, format)
	if err == nil {
		return waveform.Analyze(audio.Mono, audio.DurationMs, c.vis), audio.DurationMs, nil
	}
	if !errors.Is(err, waveform.ErrUnsupportedFormat) {
		return nil, 0, err
	}

	slog.Debug("Local decode unsupported, using server peaks", "format", format)
	wf, werr := c.api.GetWaveform(ctx, id)
	if werr != nil {
		return nil, 0, fmt.Errorf("%v; server waveform: %w", err, werr)
	}
	return waveform.FromPeaks(wf.Peaks, wf.Duration), wf.Duration, nil
}

func (c *Controller) state() (*Transport, *marker.Tracker, *checkpoint.List, *waveform.Layout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return nil, nil, nil, nil, ErrNotLoaded
	}
	return c.transport, c.tracker, c.checkpoints, c.layout, nil
}

func (c *Controller) Play() error {
	t, tracker, _, _, err := c.state()
	if err != nil {
		return err
	}
	if err := t.Play(); err != nil {
		c.notifier.Alert(fmt.Sprintf("Playback error: %v", err))
		return err
	}
	return tracker.SetPlaying(true)
}

func (c *Controller) Pause() error {
	t, tracker, _, _, err := c.state()
	if err != nil {
		return err
	}
	if err := t.Pause(); err != nil {
		return err
	}
	return tracker.SetPlaying(false)
}

func (c *Controller) Toggle() error {
	t, _, _, _, err := c.state()
	if err != nil {
		return err
	}
	if t.Playing() {
		return c.Pause()
	}
	return c.Play()
}

// Seek jumps to the fraction p of the track, like a click on the waveform
func (c *Controller) Seek(p float64) error {
	t, _, _, _, err := c.state()
	if err != nil {
		return err
	}
	return t.Seek(p)
}

func (c *Controller) SeekTo(ms float64) error {
	t, _, _, _, err := c.state()
	if err != nil {
		return err
	}
	return t.SeekTo(ms)
}

// Update advances end-of-track handling and reports whether playback continues
func (c *Controller) Update() bool {
	t, tracker, _, _, err := c.state()
	if err != nil {
		return false
	}
	playing := t.Update()
	if !playing && tracker.PlaybackState() == marker.PlaybackPlaying {
		tracker.SetPlaying(false)
	}
	return playing
}

// Position is the playback offset in ms
func (c *Controller) Position() float64 {
	t, _, _, _, err := c.state()
	if err != nil {
		return 0
	}
	return t.Position()
}

func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *Controller) Playing() bool {
	t, _, _, _, err := c.state()
	return err == nil && t.Playing()
}

// ScrubLeft is the playhead pixel, derived only from currentTime/duration
func (c *Controller) ScrubLeft() float64 {
	t, _, _, layout, err := c.state()
	if err != nil {
		return 0
	}
	return layout.ScrubLeft(t.CurrentTime())
}

// MarkError saves an error at the playback position. Only a saved error
// becomes a checkpoint and a marker.
func (c *Controller) MarkError(ctx context.Context) (marker.ErrorMarker, error) {
	t, tracker, checkpoints, layout, err := c.state()
	if err != nil {
		return marker.ErrorMarker{}, err
	}

	m, err := tracker.MarkPlayback(ctx, t.Position())
	if err != nil {
		if !errors.Is(err, marker.ErrNotOwner) {
			c.notifier.Alert(fmt.Sprintf("Failed to save error: %v", err))
		}
		return marker.ErrorMarker{}, err
	}

	checkpoints.Add(m)
	c.mu.Lock()
	layout.AddMarker(m)
	c.mu.Unlock()
	return m, nil
}

// JumpTo seeks to a checkpoint and starts playing if paused
func (c *Controller) JumpTo(ref string) error {
	t, _, checkpoints, _, err := c.state()
	if err != nil {
		return err
	}
	m, ok := checkpoints.Resolve(ref)
	if !ok {
		return fmt.Errorf("%w: %s", checkpoint.ErrNotFound, ref)
	}
	if err := t.SeekTo(m.Time); err != nil {
		return err
	}
	if !t.Playing() {
		return c.Play()
	}
	return nil
}

// DeleteCheckpoint removes an error on the server, then its checkpoint and
// its one marker.
func (c *Controller) DeleteCheckpoint(ctx context.Context, ref string) error {
	_, tracker, checkpoints, layout, err := c.state()
	if err != nil {
		return err
	}
	if !c.owner {
		return marker.ErrNotOwner
	}
	m, ok := checkpoints.Resolve(ref)
	if !ok {
		return fmt.Errorf("%w: %s", checkpoint.ErrNotFound, ref)
	}

	if m.ServerID != 0 {
		if err := c.api.DeleteMistake(ctx, m.ServerID); err != nil {
			c.notifier.Alert(fmt.Sprintf("Failed to delete error: %v", err))
			return err
		}
	}

	if _, err := checkpoints.Remove(m.ID); err != nil {
		return err
	}
	if _, err := tracker.DeleteByLocalID(m.ID); err != nil {
		slog.Debug("Marker already gone", "id", m.ID)
	}
	c.mu.Lock()
	layout.RemoveMarker(m.ID)
	c.mu.Unlock()
	return nil
}

// Edit opens a comment editor on a checkpoint
func (c *Controller) Edit(ref string) (*checkpoint.Editor, error) {
	_, _, checkpoints, _, err := c.state()
	if err != nil {
		return nil, err
	}
	if !c.owner {
		return nil, marker.ErrNotOwner
	}
	m, ok := checkpoints.Resolve(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, ref)
	}
	return checkpoints.Edit(m.ID)
}

// Comment commits an open editor. A failed save alerts and leaves it open.
func (c *Controller) Comment(ctx context.Context, ed *checkpoint.Editor, text string) error {
	_, tracker, _, _, err := c.state()
	if err != nil {
		return err
	}
	if err := ed.Commit(ctx, text); err != nil {
		c.notifier.Alert(fmt.Sprintf("Failed to save comment: %v", err))
		return err
	}
	return tracker.SetComment(ed.ID(), strings.TrimSpace(text))
}

func (c *Controller) Record() *gateway.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

func (c *Controller) Checkpoints() []marker.ErrorMarker {
	_, _, checkpoints, _, err := c.state()
	if err != nil {
		return nil
	}
	return checkpoints.Items()
}

// Layout returns a copy of the static view
func (c *Controller) Layout() waveform.Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layout == nil {
		return waveform.Layout{}
	}
	l := *c.layout
	l.Bars = append([]waveform.Bar(nil), c.layout.Bars...)
	l.Markers = append([]waveform.MarkerPos(nil), c.layout.Markers...)
	return l
}

// Render draws the waveform, the timer and the checkpoint list
func (c *Controller) Render(cols int) string {
	t, _, checkpoints, _, err := c.state()
	if err != nil {
		return ""
	}
	layout := c.Layout()
	pos := t.Position()

	var b strings.Builder
	b.WriteString(waveform.RenderASCII(&layout, cols, pos/1000))
	b.WriteByte('\n')
	b.WriteString(timeline.FormatPosition(pos, t.Duration()))
	for _, line := range checkpoints.Render(c.owner) {
		b.WriteByte('\n')
		b.WriteString(line)
	}
	return b.String()
}

// Close stops audible playback and releases the output
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeOutputLocked()
}

func (c *Controller) closeOutputLocked() error {
	if c.output == nil {
		return nil
	}
	out := c.output
	c.output = nil
	if closer, ok := out.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return out.Stop()
}
