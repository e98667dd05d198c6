package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/cmplx"
	"os"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser parameters, matching a Web Audio AnalyserNode with its defaults
// and an fftSize of 2048.
const (
	meterRate   = 48000
	fftSize     = 2048
	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

// LevelMeter reads a raw s16le mono stream and reports the average of its
// byte-scaled frequency magnitudes divided by 255, so the level lies in [0,1].
// Each complete window of samples is Blackman-windowed, transformed, smoothed
// over time and mapped from [minDecibels, maxDecibels] to [0, 255].
type LevelMeter struct {
	mu    sync.RWMutex
	level float64

	size     int
	fft      *fourier.FFT
	smoothed []float64
}

func NewLevelMeter(size int) *LevelMeter {
	if size <= 0 {
		size = fftSize
	}
	return &LevelMeter{
		size:     size,
		fft:      fourier.NewFFT(size),
		smoothed: make([]float64, size/2),
	}
}

func (m *LevelMeter) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Run consumes r until EOF. The level drops to zero when the stream ends.
func (m *LevelMeter) Run(r io.Reader) error {
	br := bufio.NewReader(r)
	frame := make([]byte, 2)
	block := make([]float64, 0, m.size)

	defer func() {
		m.mu.Lock()
		m.level = 0
		m.mu.Unlock()
	}()

	for {
		if _, err := io.ReadFull(br, frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		block = append(block, float64(int16(binary.LittleEndian.Uint16(frame)))/32768)

		if len(block) == m.size {
			level := m.analyse(block)
			m.mu.Lock()
			m.level = level
			m.mu.Unlock()
			block = block[:0]
		}
	}
}

// analyse folds one window into the smoothed spectrum and returns the new
// level. block is overwritten.
func (m *LevelMeter) analyse(block []float64) float64 {
	window.Blackman(block)
	coeffs := m.fft.Coefficients(nil, block)

	var sum float64
	for k := range m.smoothed {
		mag := cmplx.Abs(coeffs[k]) / float64(m.size)
		m.smoothed[k] = smoothing*m.smoothed[k] + (1-smoothing)*mag
		sum += byteLevel(m.smoothed[k])
	}
	return sum / float64(len(m.smoothed)) / 255
}

// byteLevel maps a linear magnitude to the 0..255 scale of
// getByteFrequencyData
func byteLevel(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := math.Floor(255 / (maxDecibels - minDecibels) * (db - minDecibels))
	return math.Max(0, math.Min(255, v))
}

type silence struct{}

func (silence) Level() float64 { return 0 }
