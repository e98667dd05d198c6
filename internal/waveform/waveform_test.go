package waveform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

func testVisualizer() config.VisualizerConfig {
	return config.Default().Visualizer
}

// pcmWAV builds a mono 16-bit PCM WAV file.
func pcmWAV(t *testing.T, rate int, samples []int16) []byte {
	t.Helper()
	var buf bytes.Buffer
	dataLen := len(samples) * 2
	w := func(v interface{}) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("Failed to build wav: %v", err)
		}
	}
	buf.WriteString("RIFF")
	w(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(uint32(rate))
	w(uint32(rate * 2))
	w(uint16(2))
	w(uint16(16))
	buf.WriteString("data")
	w(uint32(dataLen))
	w(samples)
	return buf.Bytes()
}

func TestTotalBars_UsesHalfGap(t *testing.T) {
	// 600 / (5 + 11/2) = 57.14
	if got := TotalBars(testVisualizer()); got != 57 {
		t.Errorf("Expected 57 bars, got %d", got)
	}
}

func TestAnalyze_AveragesAbsoluteSlices(t *testing.T) {
	v := config.VisualizerConfig{BarWidth: 4, BarGap: 0, Width: 8} // 2 bars
	mono := []float64{0.5, -0.5, 0.1, -0.3, 0.9}

	got := Analyze(mono, 1000, v)
	if len(got) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(got))
	}
	if math.Abs(got[0].Input-0.5) > 1e-9 {
		t.Errorf("Expected first bar 0.5, got %f", got[0].Input)
	}
	if math.Abs(got[1].Input-0.2) > 1e-9 {
		t.Errorf("Expected second bar 0.2, got %f", got[1].Input)
	}
	if got[1].Output != got[1].Input {
		t.Error("Expected input and output to match")
	}
	if got[0].Time != 0 || got[1].Time != 500 {
		t.Errorf("Unexpected bar times: %.0f %.0f", got[0].Time, got[1].Time)
	}
}

func TestAnalyze_ShortSignalIsSilent(t *testing.T) {
	got := Analyze([]float64{1}, 100, testVisualizer())
	for i, s := range got {
		if s.Input != 0 || math.IsNaN(s.Input) {
			t.Fatalf("Expected silence at bar %d, got %f", i, s.Input)
		}
	}
}

func TestLayout_MarkerAndScrubPositions(t *testing.T) {
	v := testVisualizer()
	markers := []marker.ErrorMarker{{ID: "m1", Time: 15000, Origin: marker.OriginRecording}}
	l := NewLayout(nil, 60000, markers, v)

	if len(l.Markers) != 1 || l.Markers[0].Left != 150 {
		t.Errorf("Expected marker at 150px, got %+v", l.Markers)
	}
	if got := l.ScrubLeft(30); got != 300 {
		t.Errorf("Expected scrub at 300px, got %.2f", got)
	}
	if got := SeekTime(0.25, 60000); got != 15 {
		t.Errorf("Expected seek to 15s, got %.2f", got)
	}
	if len(l.Bars) != 57 || l.Bars[1].Left != 10.5 {
		t.Errorf("Unexpected bar layout: n=%d left[1]=%.2f", len(l.Bars), l.Bars[1].Left)
	}
}

func TestLayout_RemoveMarker(t *testing.T) {
	l := NewLayout(nil, 1000, []marker.ErrorMarker{{ID: "a", Time: 10}, {ID: "b", Time: 10}}, testVisualizer())
	if !l.RemoveMarker("a") {
		t.Fatal("Expected removal")
	}
	if len(l.Markers) != 1 || l.Markers[0].ID != "b" {
		t.Errorf("Expected only b left, got %+v", l.Markers)
	}
	if l.RemoveMarker("a") {
		t.Error("Expected second removal to fail")
	}
}

func TestLayout_BarHeightsFromSamples(t *testing.T) {
	v := testVisualizer()
	samples := []timeline.Sample{{Input: 1, Output: 1}}
	l := NewLayout(samples, 1000, nil, v)
	for _, b := range l.Bars {
		if b.Height != v.MaxBarHeight {
			t.Fatalf("Expected capped height %.0f, got %.2f", v.MaxBarHeight, b.Height)
		}
	}
}

func TestDecode_WAV(t *testing.T) {
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = 16384
	}
	data := pcmWAV(t, 8000, samples)

	if Sniff(data) != "wav" {
		t.Fatalf("Expected wav sniff, got %q", Sniff(data))
	}

	a, err := DecodeBytes(data, "audio/wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if a.SampleRate != 8000 || len(a.Mono) != 8000 {
		t.Errorf("Unexpected decode: rate=%d n=%d", a.SampleRate, len(a.Mono))
	}
	if math.Abs(a.DurationMs-1000) > 1e-6 {
		t.Errorf("Expected 1000ms, got %f", a.DurationMs)
	}
	if math.Abs(a.Mono[100]-0.5) > 0.01 {
		t.Errorf("Expected ~0.5 amplitude, got %f", a.Mono[100])
	}
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := DecodeBytes([]byte("abc"), "ogg")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got: %v", err)
	}
}

func TestRenderASCII(t *testing.T) {
	v := testVisualizer()
	l := NewLayout([]timeline.Sample{{Input: 1, Output: 1}}, 10000, []marker.ErrorMarker{
		{ID: "r", Time: 0, Origin: marker.OriginRecording},
		{ID: "p", Time: 5000, Origin: marker.OriginPlayback},
	}, v)

	out := RenderASCII(l, 10, 5)
	rows := strings.Split(out, "\n")
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	marks := []rune(rows[1])
	if marks[0] != 'x' || marks[5] != '*' {
		t.Errorf("Unexpected marker row: %q", rows[1])
	}
	if []rune(rows[2])[5] != '^' {
		t.Errorf("Expected playhead at column 5: %q", rows[2])
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("fLaC\x00\x00\x00\x22"), "flac"},
		{[]byte("ID3\x04\x00"), "mp3"},
		{[]byte{0xFF, 0xFB, 0x90, 0x64}, "mp3"},
		{[]byte("OggS\x00\x02"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := Sniff(tt.data); got != tt.want {
			t.Errorf("Sniff(%q) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestNormalizeFormat(t *testing.T) {
	for in, want := range map[string]string{
		"audio/x-wav": "wav",
		".FLAC":       "flac",
		"audio/mpeg":  "mp3",
		"webm":        "webm",
	} {
		if got := normalizeFormat(in); got != want {
			t.Errorf("normalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
