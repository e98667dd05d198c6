package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// minOutputBytes rejects captures that produced only a header
const minOutputBytes = 1024

// BuildMixFilter builds the ffmpeg filter graph for capture: every input gets
// its own volume and is split into a mix branch and a level branch. The mix
// is always stereo and labelled [mix]; level branches are [lvl_<i>].
func BuildMixFilter(channels []config.Channel) string {
	if len(channels) == 0 {
		return ""
	}

	var parts []string
	var mixInputs strings.Builder
	for i, ch := range channels {
		parts = append(parts, fmt.Sprintf("[%d:a]volume=%.2f,asplit=2[ch_%d][lvl_%d]", i, ch.Volume, i, i))
		fmt.Fprintf(&mixInputs, "[ch_%d]", i)
	}

	if len(channels) == 1 {
		parts = append(parts, "[ch_0]aformat=channel_layouts=stereo[mix]")
	} else {
		parts = append(parts, fmt.Sprintf("%samix=inputs=%d:normalize=0,aformat=channel_layouts=stereo[mix]", mixInputs.String(), len(channels)))
	}
	return strings.Join(parts, ";")
}

func jackClientName(i int) string {
	return fmt.Sprintf("rehearse_%d", i)
}

func codecFor(format string) (codec, mimeType string) {
	if format == "flac" {
		return "flac", "audio/flac"
	}
	return "pcm_s16le", "audio/wav"
}

// buildFFmpegArgs returns the pw-jack command line. Level branches are written
// as raw s16le to pipe:3 onward, in channel order.
func buildFFmpegArgs(channels []config.Channel, capture config.CaptureConfig, outputFile string) []string {
	args := []string{"pw-jack", "ffmpeg", "-hide_banner", "-nostdin"}

	for i := range channels {
		args = append(args, "-f", "jack", "-channels", "1", "-i", jackClientName(i))
	}

	codec, _ := codecFor(capture.Format)
	args = append(args,
		"-filter_complex", BuildMixFilter(channels),
		"-map", "[mix]",
		"-ar", fmt.Sprintf("%d", capture.SampleRate),
		"-c:a", codec,
		"-y", outputFile,
	)

	for i := range channels {
		args = append(args,
			"-map", fmt.Sprintf("[lvl_%d]", i),
			"-ac", "1",
			"-ar", fmt.Sprintf("%d", meterRate),
			"-f", "s16le",
			fmt.Sprintf("pipe:%d", 3+i),
		)
	}
	return args
}

// pipewireCapture records one mode's channels through a single ffmpeg process
type pipewireCapture struct {
	mu       sync.Mutex
	channels []config.Channel
	pipewire *PipeWire

	outputFile string
	mimeType   string

	ffmpegCmd *exec.Cmd
	stderrBuf strings.Builder
	levelR    []*os.File
	levelW    []*os.File

	input  timeline.AnalysisSource
	output timeline.AnalysisSource

	cancelWorker context.CancelFunc
	workerDone   chan struct{}
	stopped      bool
}

func startPipeWireCapture(ctx context.Context, pw *PipeWire, channels []config.Channel, capture config.CaptureConfig) (*pipewireCapture, error) {
	if err := os.MkdirAll(capture.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	ext := capture.Format
	if ext == "" {
		ext = "wav"
	}
	_, mimeType := codecFor(ext)
	c := &pipewireCapture{
		channels:   channels,
		pipewire:   pw,
		outputFile: filepath.Join(capture.Directory, fmt.Sprintf("capture_%d.%s", time.Now().UnixNano(), ext)),
		mimeType:   mimeType,
		input:      silence{},
		output:     silence{},
	}

	for range channels {
		r, w, err := os.Pipe()
		if err != nil {
			c.closePipes()
			return nil, fmt.Errorf("failed to create level pipe: %w", err)
		}
		c.levelR = append(c.levelR, r)
		c.levelW = append(c.levelW, w)
	}

	if err := c.startFFmpeg(capture); err != nil {
		c.closePipes()
		return nil, err
	}

	// the child holds the write ends now
	for _, w := range c.levelW {
		w.Close()
	}
	c.levelW = nil

	for i, ch := range channels {
		meter := NewLevelMeter(fftSize)
		switch ch.Type {
		case config.ChannelInput:
			c.input = meter
		default:
			c.output = meter
		}
		go func(r *os.File, name string) {
			if err := meter.Run(r); err != nil {
				slog.Debug("Level meter stopped", "channel", name, "error", err)
			}
		}(c.levelR[i], ch.Name)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancelWorker = cancel
	c.workerDone = make(chan struct{})
	go c.connectWorker(workerCtx)

	return c, nil
}

func (c *pipewireCapture) startFFmpeg(capture config.CaptureConfig) error {
	args := buildFFmpegArgs(c.channels, capture, c.outputFile)

	env := os.Environ()
	env = append(env, "PIPEWIRE_QUANTUM=256/48000", "PIPEWIRE_LATENCY=256/48000")

	slog.Info("Starting capture", "command", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.ExtraFiles = c.levelW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrNoSource, err)
	}
	c.ffmpegCmd = cmd

	go c.readOutput(stderr)
	return nil
}

// connectWorker links each configured source to its ffmpeg JACK input
func (c *pipewireCapture) connectWorker(ctx context.Context) {
	defer close(c.workerDone)

	for i, ch := range c.channels {
		destPort := jackClientName(i) + ":input_1"
		if err := c.pipewire.WaitForPort(ctx, destPort, 5*time.Second); err != nil {
			slog.Error("FFmpeg JACK port did not appear", "port", destPort, "error", err)
			continue
		}
		if err := c.pipewire.ConnectPortsWithRetry(ctx, ch.Source, destPort); err != nil {
			slog.Error("Failed to connect source", "channel", ch.Name, "source", ch.Source, "dest", destPort, "error", err)
			continue
		}
		slog.Info("Connected source", "channel", ch.Name, "source", ch.Source, "dest", destPort)
	}
}

func (c *pipewireCapture) readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		c.mu.Lock()
		c.stderrBuf.WriteString(line + "\n")
		c.mu.Unlock()
		slog.Debug("FFmpeg output", "line", line)
	}
}

func (c *pipewireCapture) Input() timeline.AnalysisSource  { return c.input }
func (c *pipewireCapture) Output() timeline.AnalysisSource { return c.output }

// Stop ends capture and returns the encoded file contents. The file itself
// is removed once read; the caller owns the bytes.
func (c *pipewireCapture) Stop() (*Recording, error) {
	if err := c.halt(); err != nil {
		return nil, err
	}
	defer os.Remove(c.outputFile)

	info, err := os.Stat(c.outputFile)
	if err != nil {
		return nil, fmt.Errorf("recording file not found: %s", c.outputFile)
	}
	if info.Size() < minOutputBytes {
		return nil, fmt.Errorf("recording failed: file too small (%d bytes)", info.Size())
	}

	data, err := os.ReadFile(c.outputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	slog.Debug("Capture output validated", "file", c.outputFile, "size", info.Size())

	return &Recording{Data: data, MimeType: c.mimeType}, nil
}

// Abort stops ffmpeg and removes whatever it wrote
func (c *pipewireCapture) Abort() {
	if err := c.halt(); err != nil {
		slog.Debug("Capture abort", "error", err)
	}
	os.Remove(c.outputFile)
}

func (c *pipewireCapture) halt() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancelWorker()
	<-c.workerDone

	err := c.stopFFmpeg()
	c.closePipes()
	if err != nil {
		return fmt.Errorf("failed to stop ffmpeg: %w", err)
	}
	return nil
}

// stopFFmpeg interrupts ffmpeg so it finalizes the file, killing it after 5s
func (c *pipewireCapture) stopFFmpeg() error {
	if c.ffmpegCmd == nil || c.ffmpegCmd.Process == nil {
		return nil
	}

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := c.ffmpegCmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, killing", "error", err)
		c.ffmpegCmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() {
		done <- c.ffmpegCmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// 255 is ffmpeg's exit code after a handled interrupt
			if exitErr.ExitCode() == 255 {
				return nil
			}
			if state := exitErr.ProcessState.String(); state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
		c.mu.Lock()
		slog.Debug("FFmpeg stderr", "output", c.stderrBuf.String())
		c.mu.Unlock()
		return fmt.Errorf("FFmpeg process failed: %w", err)

	case <-time.After(5 * time.Second):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		c.ffmpegCmd.Process.Kill()
		<-done
		return nil
	}
}

func (c *pipewireCapture) closePipes() {
	for _, w := range c.levelW {
		w.Close()
	}
	for _, r := range c.levelR {
		r.Close()
	}
	c.levelW, c.levelR = nil, nil
}
