package waveform

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// TranscodeRate is the sample rate containers beep cannot read are decoded
// at. Bar peaks only need the envelope.
const TranscodeRate = 8000

// Transcoder decodes the file at path to raw s16le mono PCM at rate.
type Transcoder func(ctx context.Context, path string, rate int) ([]byte, error)

// FFmpegTranscode decodes anything ffmpeg understands, webm and ogg included.
func FFmpegTranscode(ctx context.Context, path string, rate int) ([]byte, error) {
	args := []string{"-hide_banner", "-nostdin", "-v", "error",
		"-i", path, "-f", "s16le", "-ac", "1", "-ar", strconv.Itoa(rate), "-"}
	slog.Debug("Transcoding for analysis", "command", "ffmpeg "+strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg could not decode %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// FromPCM16 wraps little-endian signed 16-bit mono samples. A trailing odd
// byte is dropped.
func FromPCM16(data []byte, rate int) *Audio {
	mono := make([]float64, len(data)/2)
	for i := range mono {
		mono[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	var duration float64
	if rate > 0 {
		duration = float64(len(mono)) * 1000 / float64(rate)
	}
	return &Audio{Mono: mono, SampleRate: rate, DurationMs: duration}
}

// DecodeFile decodes the file at path by its extension, handing formats
// beep cannot read to transcode. A nil transcode leaves them unsupported.
func DecodeFile(ctx context.Context, path string, transcode Transcoder) (*Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	audio, err := DecodeBytes(data, filepath.Ext(path))
	if err == nil || !errors.Is(err, ErrUnsupportedFormat) || transcode == nil {
		return audio, err
	}

	pcm, err := transcode(ctx, path, TranscodeRate)
	if err != nil {
		return nil, err
	}
	if len(pcm) < 2 {
		return nil, fmt.Errorf("no audio decoded from %s", filepath.Base(path))
	}
	return FromPCM16(pcm, TranscodeRate), nil
}
