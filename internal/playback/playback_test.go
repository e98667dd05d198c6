package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/gateway"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// toneWAV builds one second of a 16-bit mono tone at 8 kHz
func toneWAV(t *testing.T) []byte {
	t.Helper()
	const rate = 8000
	samples := make([]int16, rate)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)/10))
	}

	var buf bytes.Buffer
	w := func(v interface{}) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("Failed to build wav: %v", err)
		}
	}
	dataLen := len(samples) * 2
	buf.WriteString("RIFF")
	w(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(1))
	w(uint32(rate))
	w(uint32(rate * 2))
	w(uint16(2))
	w(uint16(16))
	buf.WriteString("data")
	w(uint32(dataLen))
	w(samples)
	return buf.Bytes()
}

type fakeGateway struct {
	record     *gateway.Record
	recordErr  error
	waveform   *gateway.Waveform
	addErr     error
	commentErr error
	deleteErr  error

	nextID   int64
	added    []float64
	comments map[float64]string
	deleted  []int64
}

func (g *fakeGateway) GetRecord(ctx context.Context, id int64) (*gateway.Record, error) {
	if g.recordErr != nil {
		return nil, g.recordErr
	}
	return g.record, nil
}

func (g *fakeGateway) FetchAudio(ctx context.Context, ref string) ([]byte, string, error) {
	return gateway.DecodeDataURL(ref)
}

func (g *fakeGateway) GetWaveform(ctx context.Context, id int64) (*gateway.Waveform, error) {
	if g.waveform == nil {
		return nil, &gateway.APIError{Status: 404, Message: "no waveform"}
	}
	return g.waveform, nil
}

func (g *fakeGateway) AddError(ctx context.Context, recordID int64, timeMs float64) (int64, error) {
	if g.addErr != nil {
		return 0, g.addErr
	}
	g.nextID++
	g.added = append(g.added, timeMs)
	return g.nextID, nil
}

func (g *fakeGateway) SaveComment(ctx context.Context, recordID int64, timeMs float64, comment string) error {
	if g.commentErr != nil {
		return g.commentErr
	}
	if g.comments == nil {
		g.comments = make(map[float64]string)
	}
	g.comments[timeMs] = comment
	return nil
}

func (g *fakeGateway) DeleteMistake(ctx context.Context, id int64) error {
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deleted = append(g.deleted, id)
	return nil
}

type fakeOutput struct {
	starts []float64
	stops  int
}

func (o *fakeOutput) Start(offsetMs float64) error {
	o.starts = append(o.starts, offsetMs)
	return nil
}

func (o *fakeOutput) Stop() error {
	o.stops++
	return nil
}

func newGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		nextID: 100,
		record: &gateway.Record{
			ID:             7,
			Name:           "17.10.2026 (1)",
			Audio:          gateway.EncodeDataURL(toneWAV(t), "audio/wav"),
			Duration:       1000,
			Errors:         []gateway.Mistake{{ID: 11, Time: 250, Comment: "rushed"}},
			PlaybackErrors: []gateway.Mistake{{ID: 12, Time: 500}},
		},
	}
}

func loaded(t *testing.T, g *fakeGateway, owner bool) (*Controller, *timeline.ManualClock, *notify.Recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.Client.Owner = owner
	clock := timeline.NewManualClock(0)
	n := &notify.Recorder{}
	c := NewController(cfg, g, n, clock)
	if err := c.Load(context.Background(), 7); err != nil {
		t.Fatalf("Expected load to succeed, got: %v", err)
	}
	return c, clock, n
}

func TestLoad_BuildsLayoutAndCheckpoints(t *testing.T) {
	c, _, _ := loaded(t, newGateway(t), true)

	items := c.Checkpoints()
	if len(items) != 2 {
		t.Fatalf("Expected 2 checkpoints, got %d", len(items))
	}
	if items[0].Time != 250 || items[0].Origin != marker.OriginRecording || items[0].Comment != "rushed" || items[0].ServerID != 11 {
		t.Errorf("Unexpected first checkpoint: %+v", items[0])
	}
	if items[1].Time != 500 || items[1].Origin != marker.OriginPlayback || items[1].ServerID != 12 {
		t.Errorf("Unexpected second checkpoint: %+v", items[1])
	}

	layout := c.Layout()
	if len(layout.Bars) != 57 {
		t.Errorf("Expected 57 bars, got %d", len(layout.Bars))
	}
	if len(layout.Markers) != 2 || layout.Markers[0].Left != 150 || layout.Markers[1].Left != 300 {
		t.Errorf("Unexpected markers: %+v", layout.Markers)
	}
	for i, b := range layout.Bars {
		if b.Height <= 0 {
			t.Errorf("Bar %d of a tone should not be silent", i)
			break
		}
	}
	if c.Duration() != 1000 {
		t.Errorf("Expected duration from record, got %.1f", c.Duration())
	}
}

func TestLoad_FailureAlerts(t *testing.T) {
	g := newGateway(t)
	g.recordErr = &gateway.APIError{Status: 404, Message: "Record not found"}
	n := &notify.Recorder{}
	c := NewController(config.Default(), g, n, timeline.NewManualClock(0))

	if err := c.Load(context.Background(), 7); err == nil {
		t.Fatal("Expected load error")
	}
	if len(n.Alerts) != 1 || !strings.Contains(n.Alerts[0], "Record not found") {
		t.Errorf("Expected alert with server message, got %v", n.Alerts)
	}
	if err := c.Play(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got: %v", err)
	}
}

func TestLoad_UnsupportedAudioUsesServerPeaks(t *testing.T) {
	g := newGateway(t)
	g.record.Audio = gateway.EncodeDataURL([]byte("OggS\x00\x02"), "audio/ogg")
	g.waveform = &gateway.Waveform{Duration: 1000, Peaks: []float64{0.1, 0.2, 0.3}}

	c, _, _ := loaded(t, g, true)
	if len(c.Layout().Bars) != 57 {
		t.Errorf("Expected a full layout from peaks, got %d bars", len(c.Layout().Bars))
	}
}

func TestTransport_PlayPauseSeek(t *testing.T) {
	clock := timeline.NewManualClock(5000)
	out := &fakeOutput{}
	tr := NewTransport(clock, 1000, out)

	if err := tr.Play(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	clock.Advance(300)
	if tr.Position() != 300 {
		t.Errorf("Expected position 300, got %.1f", tr.Position())
	}

	tr.Pause()
	clock.Advance(500)
	if tr.Position() != 300 {
		t.Errorf("Expected paused position 300, got %.1f", tr.Position())
	}

	tr.Seek(0.5)
	if tr.Position() != 500 {
		t.Errorf("Expected seek to 500, got %.1f", tr.Position())
	}
	tr.Seek(3)
	if tr.Position() != 1000 {
		t.Errorf("Expected seek clamped to 1000, got %.1f", tr.Position())
	}
	tr.SeekTo(-20)
	if tr.Position() != 0 {
		t.Errorf("Expected seek clamped to 0, got %.1f", tr.Position())
	}

	if len(out.starts) != 1 || out.starts[0] != 0 || out.stops != 1 {
		t.Errorf("Unexpected output calls: starts=%v stops=%d", out.starts, out.stops)
	}
}

func TestTransport_SeekWhilePlayingRestartsOutput(t *testing.T) {
	clock := timeline.NewManualClock(0)
	out := &fakeOutput{}
	tr := NewTransport(clock, 1000, out)

	tr.Play()
	clock.Advance(100)
	tr.SeekTo(750)
	clock.Advance(100)

	if tr.Position() != 850 {
		t.Errorf("Expected position 850, got %.1f", tr.Position())
	}
	if len(out.starts) != 2 || out.starts[1] != 750 {
		t.Errorf("Expected restart at 750, got %v", out.starts)
	}
}

func TestTransport_StopsAtEnd(t *testing.T) {
	clock := timeline.NewManualClock(0)
	tr := NewTransport(clock, 1000, nil)

	tr.Play()
	clock.Advance(1500)
	if tr.Position() != 1000 {
		t.Errorf("Expected position clamped to duration, got %.1f", tr.Position())
	}
	if tr.Update() {
		t.Error("Expected playback to end")
	}

	// playing again starts over
	tr.Play()
	if tr.Position() != 0 {
		t.Errorf("Expected restart from 0, got %.1f", tr.Position())
	}
}

func TestController_MarkError(t *testing.T) {
	g := newGateway(t)
	c, _, _ := loaded(t, g, true)

	c.SeekTo(700)
	m, err := c.MarkError(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if m.ServerID != 101 || m.Time != 700 || m.Origin != marker.OriginPlayback {
		t.Errorf("Unexpected marker: %+v", m)
	}
	if len(g.added) != 1 || g.added[0] != 700 {
		t.Errorf("Expected POST at 700, got %v", g.added)
	}
	if len(c.Checkpoints()) != 3 {
		t.Errorf("Expected 3 checkpoints, got %d", len(c.Checkpoints()))
	}
	markers := c.Layout().Markers
	if markers[len(markers)-1].Left != 420 {
		t.Errorf("Expected new marker at 420px, got %.1f", markers[len(markers)-1].Left)
	}
}

func TestController_MarkErrorFailureLeavesNothing(t *testing.T) {
	g := newGateway(t)
	c, _, n := loaded(t, g, true)
	g.addErr = &gateway.APIError{Status: 400, Message: "Invalid time"}

	if _, err := c.MarkError(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if len(c.Checkpoints()) != 2 || len(c.Layout().Markers) != 2 {
		t.Error("Expected no local change after failed save")
	}
	if len(n.Alerts) != 1 {
		t.Errorf("Expected one alert, got %v", n.Alerts)
	}
}

func TestController_NotOwner(t *testing.T) {
	g := newGateway(t)
	c, _, n := loaded(t, g, false)

	if _, err := c.MarkError(context.Background()); !errors.Is(err, marker.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got: %v", err)
	}
	if len(g.added) != 0 {
		t.Error("Expected no request from a non-owner")
	}
	if len(n.Alerts) != 0 {
		t.Errorf("Expected no alert, got %v", n.Alerts)
	}

	id := c.Checkpoints()[0].ID
	if err := c.DeleteCheckpoint(context.Background(), id); !errors.Is(err, marker.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner on delete, got: %v", err)
	}
	if _, err := c.Edit(id); !errors.Is(err, marker.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner on edit, got: %v", err)
	}
	if strings.Contains(c.Render(60), "[delete") {
		t.Error("Expected no controls for a non-owner")
	}
}

func TestController_JumpTo(t *testing.T) {
	g := newGateway(t)
	c, clock, _ := loaded(t, g, true)
	out := &fakeOutput{}
	c.transport.output = out

	target := c.Checkpoints()[1]
	short := target.ID[len(target.ID)-8:]
	if err := c.JumpTo(short); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !c.Playing() {
		t.Error("Expected playback to start")
	}
	if c.Position() != 500 {
		t.Errorf("Expected position 500, got %.1f", c.Position())
	}
	clock.Advance(100)
	if c.ScrubLeft() != 360 {
		t.Errorf("Expected playhead at 360px, got %.1f", c.ScrubLeft())
	}
	if len(out.starts) != 1 || out.starts[0] != 500 {
		t.Errorf("Expected output started at 500, got %v", out.starts)
	}
}

func TestController_DeleteCheckpoint(t *testing.T) {
	g := newGateway(t)
	c, _, _ := loaded(t, g, true)

	target := c.Checkpoints()[0]
	if err := c.DeleteCheckpoint(context.Background(), target.ID); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(g.deleted) != 1 || g.deleted[0] != 11 {
		t.Errorf("Expected DELETE of mistake 11, got %v", g.deleted)
	}
	items := c.Checkpoints()
	if len(items) != 1 || items[0].ServerID != 12 {
		t.Errorf("Unexpected remaining checkpoints: %+v", items)
	}
	markers := c.Layout().Markers
	if len(markers) != 1 || markers[0].ID == target.ID {
		t.Errorf("Expected exactly the deleted marker gone, got %+v", markers)
	}
}

func TestController_DeleteFailureKeepsCheckpoint(t *testing.T) {
	g := newGateway(t)
	c, _, n := loaded(t, g, true)
	g.deleteErr = errors.New("connection refused")

	if err := c.DeleteCheckpoint(context.Background(), c.Checkpoints()[0].ID); err == nil {
		t.Fatal("Expected error")
	}
	if len(c.Checkpoints()) != 2 || len(c.Layout().Markers) != 2 {
		t.Error("Expected nothing removed after a failed delete")
	}
	if len(n.Alerts) != 1 {
		t.Errorf("Expected one alert, got %v", n.Alerts)
	}
}

func TestController_Comment(t *testing.T) {
	g := newGateway(t)
	c, _, n := loaded(t, g, true)

	target := c.Checkpoints()[1]
	ed, err := c.Edit(target.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	g.commentErr = errors.New("server down")
	if err := c.Comment(context.Background(), ed, "late entry"); err == nil {
		t.Fatal("Expected save error")
	}
	if !ed.Open() || len(n.Alerts) != 1 {
		t.Errorf("Expected editor open and one alert, open=%v alerts=%v", ed.Open(), n.Alerts)
	}
	if c.Checkpoints()[1].Comment != "" {
		t.Error("Expected comment unchanged after failed save")
	}

	g.commentErr = nil
	if err := c.Comment(context.Background(), ed, "  late entry  "); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if g.comments[500] != "late entry" {
		t.Errorf("Expected trimmed comment saved at 500, got %v", g.comments)
	}
	if c.Checkpoints()[1].Comment != "late entry" {
		t.Errorf("Expected comment applied, got %q", c.Checkpoints()[1].Comment)
	}
	if !strings.Contains(c.Render(60), "late entry") {
		t.Error("Expected comment in rendered list")
	}
}
