package marker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Origin tells whether an error was flagged while recording or during playback.
type Origin string

const (
	OriginRecording Origin = "recording"
	OriginPlayback  Origin = "playback"
)

// ErrorMarker is a user-flagged mistake. ID is assigned locally at creation and
// is the deletion key; ServerID is the mistake id once the server knows it.
type ErrorMarker struct {
	ID       string  `json:"id" yaml:"id"`
	ServerID int64   `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	Time     float64 `json:"time" yaml:"time"` // ms
	Origin   Origin  `json:"origin" yaml:"origin"`
	Comment  string  `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// NewID returns a time-ordered identifier for a new marker.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// State of the recording-side state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateStopped   State = "STOPPED"
)

// PlaybackState of the playback-side state machine.
type PlaybackState string

const (
	PlaybackNone    PlaybackState = "NONE"
	PlaybackLoaded  PlaybackState = "LOADED"
	PlaybackPlaying PlaybackState = "PLAYING"
	PlaybackPaused  PlaybackState = "PAUSED"
)

var (
	ErrNotOwner     = errors.New("only the record owner can mark errors")
	ErrInvalidState = errors.New("invalid state for this operation")
	ErrNotFound     = errors.New("marker not found")
)

// Poster persists a playback error and returns the server-assigned id.
type Poster interface {
	AddError(ctx context.Context, recordID int64, timeMs float64) (int64, error)
}

// Tracker records error timestamps against either the recording clock or the
// playback position and keeps them sorted by time. Duplicates are allowed.
type Tracker struct {
	mu sync.RWMutex

	owner    bool
	state    State
	playback PlaybackState

	sessionStart float64
	recordID     int64
	poster       Poster

	markers []ErrorMarker
}

func NewTracker(owner bool) *Tracker {
	return &Tracker{
		owner:    owner,
		state:    StateIdle,
		playback: PlaybackNone,
	}
}

// StartRecording moves Idle -> Recording with the session start (clock ms).
func (t *Tracker) StartRecording(start float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return fmt.Errorf("%w: can only start recording from idle, current: %s", ErrInvalidState, t.state)
	}
	t.state = StateRecording
	t.sessionStart = start
	t.markers = nil
	return nil
}

// StopRecording moves Recording -> Stopped.
func (t *Tracker) StopRecording() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRecording {
		return fmt.Errorf("%w: no recording in progress, current: %s", ErrInvalidState, t.state)
	}
	t.state = StateStopped
	return nil
}

// Load enters playback mode for a stored record with its existing markers.
func (t *Tracker) Load(recordID int64, poster Poster, existing []ErrorMarker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordID = recordID
	t.poster = poster
	t.playback = PlaybackLoaded
	t.markers = append([]ErrorMarker(nil), existing...)
	for i := range t.markers {
		if t.markers[i].ID == "" {
			t.markers[i].ID = NewID()
		}
	}
	t.sortLocked()
}

// SetPlaying switches between Playing and Paused once loaded.
func (t *Tracker) SetPlaying(playing bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.playback == PlaybackNone {
		return fmt.Errorf("%w: nothing loaded", ErrInvalidState)
	}
	if playing {
		t.playback = PlaybackPlaying
	} else {
		t.playback = PlaybackPaused
	}
	return nil
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) PlaybackState() PlaybackState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.playback
}

func (t *Tracker) IsOwner() bool {
	return t.owner
}

// MarkRecording flags an error at now - sessionStart.
func (t *Tracker) MarkRecording(now float64) (ErrorMarker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.owner {
		return ErrorMarker{}, ErrNotOwner
	}
	if t.state != StateRecording {
		return ErrorMarker{}, fmt.Errorf("%w: not recording, current: %s", ErrInvalidState, t.state)
	}

	m := ErrorMarker{
		ID:     NewID(),
		Time:   now - t.sessionStart,
		Origin: OriginRecording,
	}
	t.markers = append(t.markers, m)
	t.sortLocked()
	return m, nil
}

// MarkPlayback flags an error at the playback position. The marker is kept
// only after the server accepted it, so a failed request leaves no trace.
func (t *Tracker) MarkPlayback(ctx context.Context, positionMs float64) (ErrorMarker, error) {
	t.mu.RLock()
	owner, playback, poster, recordID := t.owner, t.playback, t.poster, t.recordID
	t.mu.RUnlock()

	if !owner {
		return ErrorMarker{}, ErrNotOwner
	}
	if playback == PlaybackNone {
		return ErrorMarker{}, fmt.Errorf("%w: no record loaded", ErrInvalidState)
	}
	if poster == nil {
		return ErrorMarker{}, fmt.Errorf("%w: no persistence gateway", ErrInvalidState)
	}

	serverID, err := poster.AddError(ctx, recordID, positionMs)
	if err != nil {
		slog.Error("Failed to save playback error", "record_id", recordID, "time", positionMs, "error", err)
		return ErrorMarker{}, fmt.Errorf("failed to save error: %w", err)
	}

	m := ErrorMarker{
		ID:       NewID(),
		ServerID: serverID,
		Time:     positionMs,
		Origin:   OriginPlayback,
	}

	t.mu.Lock()
	t.markers = append(t.markers, m)
	t.sortLocked()
	t.mu.Unlock()

	return m, nil
}

// DeleteByLocalID removes the marker created with id.
func (t *Tracker) DeleteByLocalID(id string) (ErrorMarker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.markers {
		if m.ID == id {
			t.markers = append(t.markers[:i], t.markers[i+1:]...)
			return m, nil
		}
	}
	return ErrorMarker{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// DeleteByServerID removes the marker the server knows as serverID.
func (t *Tracker) DeleteByServerID(serverID int64) (ErrorMarker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.markers {
		if m.ServerID != 0 && m.ServerID == serverID {
			t.markers = append(t.markers[:i], t.markers[i+1:]...)
			return m, nil
		}
	}
	return ErrorMarker{}, fmt.Errorf("%w: server id %d", ErrNotFound, serverID)
}

// SetComment updates the comment of the marker with the given local id.
func (t *Tracker) SetComment(id, comment string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.markers {
		if t.markers[i].ID == id {
			t.markers[i].Comment = comment
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Markers returns a sorted copy of all markers.
func (t *Tracker) Markers() []ErrorMarker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ErrorMarker, len(t.markers))
	copy(out, t.markers)
	return out
}

// Times returns the offsets of markers with the given origin, ascending.
func (t *Tracker) Times(origin Origin) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []float64
	for _, m := range t.markers {
		if m.Origin == origin {
			out = append(out, m.Time)
		}
	}
	return out
}

func (t *Tracker) sortLocked() {
	sort.SliceStable(t.markers, func(i, j int) bool {
		return t.markers[i].Time < t.markers[j].Time
	})
}
