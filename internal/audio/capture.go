package audio

import (
	"context"
	"errors"

	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// ErrNoSource is returned when a capture source cannot be acquired
var ErrNoSource = errors.New("audio source unavailable")

// Recording is the encoded result of a capture
type Recording struct {
	Data     []byte
	MimeType string
}

// Capture is a running capture of one mode's sources mixed into one file
type Capture interface {
	// Input is the level of the performer's microphone, Output of the
	// backing audio. Either may read silence if the mode lacks it.
	Input() timeline.AnalysisSource
	Output() timeline.AnalysisSource

	// Stop ends capture and returns the encoded mix
	Stop() (*Recording, error)

	// Abort ends capture and discards the output
	Abort()
}

// Backend opens captures for a configured mode
type Backend interface {
	Open(ctx context.Context, mode string) (Capture, error)
	ListSources() ([]string, error)
	SourceStatus(mode string) (map[string]string, error)
}
