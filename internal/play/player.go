package play

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// ErrNoOffset is returned by players that can only start at the beginning
var ErrNoOffset = errors.New("player cannot start at an offset")

// Player plays one audio file through the first external player found.
// Every Start kills the previous process and begins again at the offset,
// which is how seeking works.
type Player struct {
	file   string
	format string
	owned  bool

	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd

	mu     sync.Mutex
	player string
	cmd    *exec.Cmd
}

// New creates a player for file, whose container format is wav or flac
func New(file, format string) *Player {
	return &Player{
		file:     file,
		format:   format,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

// NewFromBytes writes audio to a temporary file and plays that. Close removes it.
func NewFromBytes(data []byte, format string) (*Player, error) {
	f, err := os.CreateTemp("", "rehearse-*."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}
	p := New(f.Name(), format)
	p.owned = true
	return p, nil
}

// Start plays from offsetMs, replacing any running playback
func (p *Player) Start(offsetMs float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	if p.player == "" {
		player, err := findAudioPlayer(p.lookPath)
		if err != nil {
			return fmt.Errorf("no suitable audio player found: %w", err)
		}
		p.player = player
	}

	args, err := playerArgs(p.player, p.file, p.format, offsetMs/1000)
	if err != nil {
		return err
	}

	cmd := p.command(p.player, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", p.player, err)
	}
	p.cmd = cmd
	slog.Debug("Playback process started", "player", p.player, "offset_ms", offsetMs)

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Playback process exited", "player", p.player, "error", err)
		}
	}()
	return nil
}

// Stop ends the running playback, if any
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// Close stops playback and removes the file if NewFromBytes created it
func (p *Player) Close() error {
	p.Stop()
	if p.owned {
		if err := os.Remove(p.file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove playback file: %w", err)
		}
	}
	return nil
}

func (p *Player) stopLocked() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	// SIGTERM first; players exit cleanly on it
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.cmd.Process.Kill()
	}
	p.cmd = nil
}

func playerArgs(player, file, format string, offsetSec float64) ([]string, error) {
	start := fmt.Sprintf("%.3f", offsetSec)
	switch player {
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", "--start-time=" + start, file}, nil
	case "mpv":
		return []string{"--no-video", "--really-quiet", "--start=" + start, file}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-ss", start, file}, nil
	case "aplay":
		// aplay only works with WAV files and always starts at the top
		if format != "wav" {
			return nil, fmt.Errorf("aplay requires WAV format, current format is %s", format)
		}
		if offsetSec > 0 {
			return nil, fmt.Errorf("%w: aplay", ErrNoOffset)
		}
		return []string{"-q", file}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func findAudioPlayer(lookPath func(string) (string, error)) (string, error) {
	// in order of preference; the first three can seek
	players := []string{"mpv", "ffplay", "vlc", "aplay"}

	for _, player := range players {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
