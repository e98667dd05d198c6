package timeline

import (
	"context"
	"math"
	"testing"
	"time"
)

type constSource float64

func (c constSource) Level() float64 { return float64(c) }

func TestFormatTime(t *testing.T) {
	cases := map[float64]string{
		0:       "00:00",
		999:     "00:00",
		1000:    "00:01",
		59999:   "00:59",
		60000:   "01:00",
		61500:   "01:01",
		3599000: "59:59",
		6000000: "100:00",
		-500:    "00:00",
	}
	for ms, want := range cases {
		if got := FormatTime(ms); got != want {
			t.Errorf("FormatTime(%v) = %s, want %s", ms, got, want)
		}
	}
}

func TestFormatPosition(t *testing.T) {
	if got := FormatPosition(1500, 90000); got != "00:01 / 01:30" {
		t.Errorf("Unexpected position string: %s", got)
	}
}

func TestSampler_CadenceGate(t *testing.T) {
	s := NewSampler(constSource(0.5), constSource(0.25), 1000, 200)

	if _, ok := s.Poll(1000); !ok {
		t.Fatal("Expected first poll to sample")
	}
	// polled every 16ms for one second: the gate must hold the rate at one per >200ms
	for now := 1016.0; now <= 2000; now += 16 {
		s.Poll(now)
	}
	samples := s.Samples()
	if len(samples) > 5 {
		t.Errorf("Expected at most 5 samples in one second, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Time-samples[i-1].Time <= 200 {
			t.Errorf("Samples %d and %d are %.0fms apart", i-1, i, samples[i].Time-samples[i-1].Time)
		}
		if samples[i].Time < samples[i-1].Time {
			t.Error("Samples not in time order")
		}
	}
	if samples[0].Time != 0 || samples[0].Input != 0.5 || samples[0].Output != 0.25 {
		t.Errorf("Unexpected first sample: %+v", samples[0])
	}
}

func TestSampler_ClampsAndNilSource(t *testing.T) {
	s := NewSampler(constSource(3), nil, 0, 200)
	sample, _ := s.Poll(10)
	if sample.Input != 1 || sample.Output != 0 {
		t.Errorf("Expected clamped input and silent output, got %+v", sample)
	}
	if sample.Time != 10 {
		t.Errorf("Expected time 10, got %.0f", sample.Time)
	}
}

func TestSampler_OnSampleHook(t *testing.T) {
	s := NewSampler(constSource(0.1), constSource(0.1), 0, 200)
	var calls int
	s.OnSample = func(Sample, float64) { calls++ }
	s.Poll(0)
	s.Poll(100)
	s.Poll(201)
	if calls != 2 {
		t.Errorf("Expected 2 hook calls, got %d", calls)
	}
}

func TestBarHeight(t *testing.T) {
	h := BarHeight(Sample{Input: 0.2, Output: 0.2}, 2.0, 1.0, 240)
	want := (0.2*255*2 + 0.2*255) * 0.9
	if math.Abs(h-want) > 1e-9 {
		t.Errorf("Expected %.3f, got %.3f", want, h)
	}
	if BarHeight(Sample{Input: 1, Output: 1}, 2.0, 1.0, 240) != 240 {
		t.Error("Expected bar height capped at 240")
	}
}

func TestScrollRenderer_OffsetIndependentOfTickRate(t *testing.T) {
	fast := NewScrollRenderer(50, 600)
	slow := NewScrollRenderer(50, 600)
	el := Element{ID: "a", Kind: KindBar, Created: 1000}
	fast.Append(el)
	slow.Append(el)

	var fastFrame []Positioned
	for now := 1000.0; now <= 5000; now += 7 {
		fastFrame = fast.Tick(now)
	}
	fastFrame = fast.Tick(5000)
	slowFrame := slow.Tick(5000)

	want := (5000.0 - 1000.0) / 1000 * 50
	if fastFrame[0].Offset != want || slowFrame[0].Offset != want {
		t.Errorf("Expected offset %.1f for both, got fast=%.1f slow=%.1f", want, fastFrame[0].Offset, slowFrame[0].Offset)
	}
}

func TestScrollRenderer_PrunesPastWidth(t *testing.T) {
	r := NewScrollRenderer(50, 600)
	var removed []string
	r.OnRemove = func(el Element) { removed = append(removed, el.ID) }

	r.Append(Element{ID: "old", Kind: KindBar, Created: 0})
	r.Append(Element{ID: "marker", Kind: KindMarker, Created: 0})
	r.Append(Element{ID: "new", Kind: KindBar, Created: 12000})

	// 12s * 50px/s = 600px, exactly at the edge: kept
	if frame := r.Tick(12000); len(frame) != 3 {
		t.Fatalf("Expected 3 elements at the edge, got %d", len(frame))
	}

	frame := r.Tick(12001)
	if len(frame) != 1 || frame[0].ID != "new" {
		t.Errorf("Expected only the newest bar to survive, got %+v", frame)
	}
	if len(removed) != 2 {
		t.Errorf("Expected 2 removals (bar and marker), got %v", removed)
	}
	if r.Count(KindMarker) != 0 {
		t.Error("Expected marker pruned like bars")
	}
}

func TestScrollRenderer_AppendThenPruneKeepsNewest(t *testing.T) {
	r := NewScrollRenderer(50, 600)
	r.Append(Element{ID: "stale", Created: 0})

	now := 20000.0
	r.Append(Element{ID: "fresh", Created: now})
	frame := r.Tick(now)

	if len(frame) != 1 || frame[0].ID != "fresh" || frame[0].Offset != 0 {
		t.Errorf("Expected newest bar at offset 0, got %+v", frame)
	}
}

func TestScrollRenderer_Remove(t *testing.T) {
	r := NewScrollRenderer(50, 600)
	r.Append(Element{ID: "a"})
	r.Append(Element{ID: "b", Kind: KindMarker})
	if !r.Remove("b") {
		t.Fatal("Expected removal of b")
	}
	if r.Remove("b") {
		t.Error("Expected second removal to report false")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 element left, got %d", r.Len())
	}
}

func TestRenderStrip(t *testing.T) {
	frame := []Positioned{
		{Element: Element{Kind: KindBar, Height: 240}, Offset: 0},
		{Element: Element{Kind: KindMarker}, Offset: 300},
	}
	row := []rune(RenderStrip(frame, 600, 240, 10))
	if len(row) != 10 {
		t.Fatalf("Expected 10 columns, got %d", len(row))
	}
	if row[9] != '█' {
		t.Errorf("Expected full bar at live edge, got %q", row[9])
	}
	if row[4] != '!' {
		t.Errorf("Expected marker mid-strip, got %q", string(row))
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := NewManualClock(0)
	ticks := 0

	done := make(chan struct{})
	go func() {
		Loop(ctx, clock, time.Millisecond, func(float64) bool {
			ticks++
			if ticks == 3 {
				cancel()
			}
			return true
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not stop after cancel")
	}
	if ticks < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", ticks)
	}
}

func TestLoop_StopsWhenTickReturnsFalse(t *testing.T) {
	clock := NewManualClock(0)
	ticks := 0
	Loop(context.Background(), clock, time.Millisecond, func(float64) bool {
		ticks++
		return ticks < 2
	})
	if ticks != 2 {
		t.Errorf("Expected 2 ticks, got %d", ticks)
	}
}
