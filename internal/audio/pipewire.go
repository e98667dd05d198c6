package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PipeWire manages PipeWire/JACK port operations through pw-link
type PipeWire struct {
	// listPorts returns raw `pw-link -io` output; replaced in tests
	listPorts func() ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		listPorts: func() ([]byte, error) {
			return exec.Command("pw-link", "-io").Output()
		},
	}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidatePort checks that a port exists exactly once
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	duplicates := findPortDuplicatesInList(portName, ports)
	if len(duplicates) == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// WaitForPort polls until portName appears or ctx/timeout expires
func (pw *PipeWire) WaitForPort(ctx context.Context, portName string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ports, err := pw.ListPorts(); err == nil && len(findPortDuplicatesInList(portName, ports)) > 0 {
			slog.Debug("JACK port found", "port", portName)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for JACK port: %s", portName)
		case <-ticker.C:
		}
	}
}

// ConnectPortsWithRetry connects two JACK ports, retrying longer for ephemeral
// application ports (browsers, players) than for hardware ports
func (pw *PipeWire) ConnectPortsWithRetry(ctx context.Context, sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, 500*time.Millisecond
	if isEphemeralPort(sourcePort) {
		maxRetries, retryDelay = 15, time.Second
		slog.Debug("Using ephemeral port retry strategy", "source", sourcePort, "retries", maxRetries)
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := connectPorts(sourcePort, destPort)
		if err == nil {
			slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
			return nil
		}
		slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

func connectPorts(sourcePort, destPort string) error {
	output, err := exec.Command("pw-link", sourcePort, destPort).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to connect ports: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// isEphemeralPort reports whether a port belongs to an application that may
// appear late, such as a browser tab playing the backing track
func isEphemeralPort(portName string) bool {
	lowerPort := strings.ToLower(portName)
	for _, app := range []string{"chrome", "chromium", "firefox", "spotify", "vlc", "mpv", "zoom", "youtube"} {
		if strings.Contains(lowerPort, app) {
			return true
		}
	}
	return false
}
