package waveform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Audio is a decoded recording reduced to its first channel.
type Audio struct {
	Mono       []float64
	SampleRate int
	DurationMs float64
}

const streamChunk = 4096

// Decode reads a WAV, FLAC or MP3 stream. format is a file extension or a MIME
// subtype ("wav", ".flac", "audio/x-wav").
func Decode(r io.Reader, format string) (*Audio, error) {
	var (
		streamer beep.StreamSeekCloser
		f        beep.Format
		err      error
	)

	switch normalizeFormat(format) {
	case "wav":
		streamer, f, err = wav.Decode(io.NopCloser(r))
	case "flac":
		streamer, f, err = flac.Decode(io.NopCloser(r))
	case "mp3":
		streamer, f, err = mp3.Decode(io.NopCloser(r))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s audio: %w", format, err)
	}
	defer streamer.Close()

	mono := make([]float64, 0, streamer.Len())
	buf := make([][2]float64, streamChunk)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			mono = append(mono, buf[i][0])
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed while streaming audio: %w", err)
	}

	rate := int(f.SampleRate)
	var duration float64
	if rate > 0 {
		duration = float64(len(mono)) * 1000 / float64(rate)
	}

	return &Audio{Mono: mono, SampleRate: rate, DurationMs: duration}, nil
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte, format string) (*Audio, error) {
	return Decode(bytes.NewReader(data), format)
}

// Sniff guesses the container from the first bytes of an encoded file.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return "flac"
	case len(data) >= 3 && string(data[0:3]) == "ID3",
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	if i := strings.LastIndex(f, "/"); i >= 0 {
		f = f[i+1:]
	}
	switch f {
	case "wav", "wave", "x-wav", "vnd.wave":
		return "wav"
	case "flac", "x-flac":
		return "flac"
	case "mp3", "mpeg":
		return "mp3"
	}
	return f
}
