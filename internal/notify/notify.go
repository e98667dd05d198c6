package notify

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Notifier surfaces failures and yes/no questions to the user. Both calls
// block until the user has seen the message.
type Notifier interface {
	Alert(msg string)
	Confirm(msg string) bool
}

// Terminal implements Notifier on a line-oriented terminal
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Alert(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("Alert shown", "message", msg)
	fmt.Fprintf(t.out, "! %s\n", msg)
}

// Confirm asks msg and reads one line. Anything but y/yes is a no, including
// EOF on the input.
func (t *Terminal) Confirm(msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "? %s [y/N] ", msg)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(t.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Recorder is a scripted Notifier that keeps every message it receives
type Recorder struct {
	mu       sync.Mutex
	Alerts   []string
	Confirms []string
	Answer   bool
}

func (r *Recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, msg)
}

func (r *Recorder) Confirm(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirms = append(r.Confirms, msg)
	return r.Answer
}
