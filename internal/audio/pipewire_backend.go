package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/rehearse/internal/config"
)

// PipeWireBackend captures through pw-jack and ffmpeg
type PipeWireBackend struct {
	cfg      *config.Config
	pipewire *PipeWire
	lookPath func(string) (string, error)
}

func NewPipeWireBackend(cfg *config.Config) *PipeWireBackend {
	return &PipeWireBackend{
		cfg:      cfg,
		pipewire: NewPipeWire(),
		lookPath: exec.LookPath,
	}
}

// Open validates every source of mode and starts capturing. Any failure is
// reported as ErrNoSource so the caller can offer the alternate mode.
func (b *PipeWireBackend) Open(ctx context.Context, mode string) (Capture, error) {
	channels, err := b.cfg.ResolveMode(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSource, err)
	}

	for _, tool := range []string{"pw-jack", "ffmpeg"} {
		if _, err := b.lookPath(tool); err != nil {
			return nil, fmt.Errorf("%w: %s not found in PATH", ErrNoSource, tool)
		}
	}

	if err := b.validate(channels); err != nil {
		return nil, err
	}

	capture, err := startPipeWireCapture(ctx, b.pipewire, channels, b.cfg.Capture)
	if err != nil {
		return nil, err
	}
	slog.Info("Capture started", "mode", mode, "channels", len(channels))
	return capture, nil
}

func (b *PipeWireBackend) validate(channels []config.Channel) error {
	ports, err := b.pipewire.ListPorts()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSource, err)
	}
	for _, ch := range channels {
		if err := validatePortIn(ch.Source, ports); err != nil {
			return fmt.Errorf("%w: channel %s: %v", ErrNoSource, ch.Name, err)
		}
	}
	return nil
}

// ListSources returns available PipeWire/JACK ports
func (b *PipeWireBackend) ListSources() ([]string, error) {
	return b.pipewire.ListPorts()
}

// SourceStatus reports available, unavailable or duplicate for each channel of mode
func (b *PipeWireBackend) SourceStatus(mode string) (map[string]string, error) {
	channels, err := b.cfg.ResolveMode(mode)
	if err != nil {
		return nil, err
	}
	ports, err := b.pipewire.ListPorts()
	if err != nil {
		return nil, err
	}

	status := make(map[string]string, len(channels))
	for _, ch := range channels {
		switch err := validatePortIn(ch.Source, ports); {
		case err == nil:
			status[ch.Name] = "available"
		case strings.Contains(err.Error(), "duplicate sources detected"):
			status[ch.Name] = "duplicate"
		default:
			status[ch.Name] = "unavailable"
		}
	}
	return status, nil
}
