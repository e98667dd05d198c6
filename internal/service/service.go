package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/rehearse/internal/audio"
	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/gateway"
	"github.com/audiolibrelab/rehearse/internal/localstate"
	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/play"
	"github.com/audiolibrelab/rehearse/internal/playback"
	"github.com/audiolibrelab/rehearse/internal/session"
	"github.com/audiolibrelab/rehearse/internal/store"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

// Service is what the CLI drives: record, save, review and file away
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, mode string) (*session.Session, error)
	MarkError() (marker.ErrorMarker, error)
	DeleteError(id string) error
	StopRecording() (*session.Draft, error)
	AbortRecording()
	GetRecordingStatus() (RecordingStatus, *RecordingSession)

	// Saving operations
	DefaultName(now time.Time) (string, error)
	GetDraft() (*localstate.Session, error)
	Save(ctx context.Context, name string, folder int64) (int64, error)

	// Library operations
	ListFolders(ctx context.Context) ([]gateway.Folder, error)
	CreateFolder(ctx context.Context, name string) (gateway.Folder, error)
	RenameFolder(ctx context.Context, id int64, name string) error
	DeleteFolder(ctx context.Context, id int64) (int64, error)
	FolderRecords(ctx context.Context, id int64) (*gateway.FolderRecords, error)
	RenameRecord(ctx context.Context, id int64, name string) error
	TrashRecord(ctx context.Context, id int64) error
	DeleteRecord(ctx context.Context, id int64) error

	// Playback operations
	OpenPlayback(ctx context.Context, id int64) (*playback.Controller, error)

	// Information operations
	GetConfig() *config.Config
	ListSources() ([]string, error)
	GetChannelStatus(mode string) map[string]string
	GetLastError() string
}

// RecordingStatus represents the current recording state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusStopped   RecordingStatus = "STOPPED"
)

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	Mode      string    `json:"mode"`
	StartTime time.Time `json:"start_time"`
	ElapsedMs float64   `json:"elapsed_ms"`
	Errors    int       `json:"errors"`
}

// RehearseService is the main service implementation
type RehearseService struct {
	cfg      *config.Config
	backend  audio.Backend
	api      *gateway.Client
	state    *localstate.Store
	notifier notify.Notifier
	clock    timeline.Clock

	newOutput playback.OutputFactory

	mu        sync.Mutex
	current   *session.Session
	startedAt time.Time

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*RehearseService)(nil)

// New creates a service. Playback is audible through an external player.
func New(cfg *config.Config, backend audio.Backend, api *gateway.Client, state *localstate.Store, notifier notify.Notifier, clock timeline.Clock) *RehearseService {
	return &RehearseService{
		cfg:       cfg,
		backend:   backend,
		api:       api,
		state:     state,
		notifier:  notifier,
		clock:     clock,
		newOutput: playerOutput,
	}
}

func playerOutput(data []byte, format string) (playback.Output, error) {
	if i := strings.LastIndex(format, "/"); i >= 0 {
		format = format[i+1:]
	}
	return play.NewFromBytes(data, format)
}

// StartRecording begins a session. An empty mode means the remembered one,
// then the configured default. The mode actually used is remembered.
func (s *RehearseService) StartRecording(ctx context.Context, mode string) (*session.Session, error) {
	slog.Debug("Service.StartRecording called", "mode", mode)
	s.clearLastError()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.State() == marker.StateRecording {
		return nil, fmt.Errorf("%w: a recording is already running", marker.ErrInvalidState)
	}

	if mode == "" {
		if local, err := s.state.LoadLocal(); err == nil && local.RecordMode != "" {
			mode = local.RecordMode
		} else {
			mode = s.cfg.Capture.Mode
		}
	}

	sess := session.New(s.cfg, s.backend, s.notifier, s.clock)
	used, err := sess.Start(ctx, mode)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}

	if err := s.state.UpdateLocal(func(l *localstate.Local) { l.RecordMode = used }); err != nil {
		slog.Warn("Failed to remember record mode", "error", err)
	}

	s.current = sess
	s.startedAt = time.Now()
	return sess, nil
}

func (s *RehearseService) MarkError() (marker.ErrorMarker, error) {
	sess := s.session()
	if sess == nil {
		return marker.ErrorMarker{}, session.ErrNotRecording
	}
	return sess.MarkError()
}

func (s *RehearseService) DeleteError(id string) error {
	sess := s.session()
	if sess == nil {
		return session.ErrNotRecording
	}
	return sess.DeleteError(id)
}

// StopRecording ends the session and keeps its result as the draft
func (s *RehearseService) StopRecording() (*session.Draft, error) {
	sess := s.session()
	if sess == nil {
		return nil, session.ErrNotRecording
	}

	draft, err := sess.Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}

	err = s.state.UpdateSession(func(st *localstate.Session) {
		st.AudioData = gateway.EncodeDataURL(draft.Audio, draft.MimeType)
		st.Duration = draft.Duration
		st.ErrorTimestamps = draft.Errors
		st.WaveformData = draft.Waveform
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to keep draft: %v", err))
		return draft, fmt.Errorf("failed to keep draft: %w", err)
	}

	s.clearLastError()
	slog.Info("Draft kept", "duration", timeline.FormatTime(draft.Duration), "size", formatBytes(int64(len(draft.Audio))))
	return draft, nil
}

func (s *RehearseService) AbortRecording() {
	if sess := s.session(); sess != nil {
		sess.Abort()
	}
}

// GetRecordingStatus returns the current recording status and session info
func (s *RehearseService) GetRecordingStatus() (RecordingStatus, *RecordingSession) {
	s.mu.Lock()
	sess, started := s.current, s.startedAt
	s.mu.Unlock()

	if sess == nil {
		return StatusStandby, nil
	}

	info := &RecordingSession{
		Mode:      sess.Mode(),
		StartTime: started,
		ElapsedMs: sess.Elapsed(),
		Errors:    len(sess.Markers()),
	}
	switch sess.State() {
	case marker.StateRecording:
		return StatusRecording, info
	case marker.StateStopped:
		return StatusStopped, info
	default:
		return StatusStandby, nil
	}
}

func (s *RehearseService) session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// DefaultName is "DD.MM.YYYY (n)" where n counts today's recordings
func (s *RehearseService) DefaultName(now time.Time) (string, error) {
	n, err := s.state.NextRecordingIndex()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d)", now.Format("02.01.2006"), n), nil
}

func (s *RehearseService) GetDraft() (*localstate.Session, error) {
	return s.state.LoadSession()
}

// Save uploads the draft as a record. The name is required; the folder is
// the given one, else the remembered one, else Drafts, else the first.
// On success the draft is cleared and the choice remembered.
func (s *RehearseService) Save(ctx context.Context, name string, folder int64) (int64, error) {
	s.clearLastError()

	if strings.TrimSpace(name) == "" {
		s.notifier.Alert("Please enter a record name")
		return 0, fmt.Errorf("%w: record name cannot be empty", gateway.ErrValidation)
	}

	draft, err := s.state.LoadSession()
	if err != nil {
		return 0, s.fail("Failed to read draft", err)
	}
	if !draft.HasDraft() {
		s.notifier.Alert("No audio data to save")
		return 0, fmt.Errorf("%w: no audio to save", gateway.ErrValidation)
	}
	data, mimeType, err := gateway.DecodeDataURL(draft.AudioData)
	if err != nil {
		return 0, s.fail("Draft audio is corrupt", err)
	}

	if folder == 0 {
		folder, err = s.resolveFolder(ctx)
		if err != nil {
			return 0, s.fail("Failed to get folders", err)
		}
	}

	id, err := s.api.CreateRecord(ctx, gateway.NewRecord{
		Name:     name,
		Folder:   folder,
		Audio:    data,
		MimeType: mimeType,
		Errors:   draft.ErrorTimestamps,
		Duration: draft.Duration,
	})
	if err != nil {
		return 0, s.fail("Failed to save record", err)
	}

	if err := s.state.ClearDraft(); err != nil {
		slog.Warn("Failed to clear draft", "error", err)
	}
	if err := s.state.UpdateLocal(func(l *localstate.Local) {
		l.SelectedFolder = folder
		l.RecordName = name
	}); err != nil {
		slog.Warn("Failed to remember folder", "error", err)
	}

	slog.Info("Record saved", "id", id, "name", name, "folder", folder)
	return id, nil
}

func (s *RehearseService) resolveFolder(ctx context.Context) (int64, error) {
	folders, err := s.api.ListFolders(ctx)
	if err != nil {
		return 0, err
	}
	if len(folders) == 0 {
		return 0, errors.New("no folders available")
	}

	if local, err := s.state.LoadLocal(); err == nil && local.SelectedFolder != 0 {
		for _, f := range folders {
			if f.ID == local.SelectedFolder {
				return f.ID, nil
			}
		}
	}
	for _, f := range folders {
		if f.Name == store.DraftsFolder {
			return f.ID, nil
		}
	}
	return folders[0].ID, nil
}

func (s *RehearseService) ListFolders(ctx context.Context) ([]gateway.Folder, error) {
	folders, err := s.api.ListFolders(ctx)
	if err != nil {
		return nil, s.fail("Failed to load folders", err)
	}
	return folders, nil
}

func (s *RehearseService) CreateFolder(ctx context.Context, name string) (gateway.Folder, error) {
	if strings.TrimSpace(name) == "" {
		s.notifier.Alert("Folder name cannot be empty")
		return gateway.Folder{}, fmt.Errorf("%w: folder name cannot be empty", gateway.ErrValidation)
	}
	f, err := s.api.CreateFolder(ctx, name)
	if err != nil {
		return gateway.Folder{}, s.fail("Failed to create folder", err)
	}
	return f, nil
}

func (s *RehearseService) RenameFolder(ctx context.Context, id int64, name string) error {
	if strings.TrimSpace(name) == "" {
		s.notifier.Alert("Folder name cannot be empty")
		return fmt.Errorf("%w: folder name cannot be empty", gateway.ErrValidation)
	}
	if err := s.api.RenameFolder(ctx, id, name); err != nil {
		return s.fail("Failed to rename folder", err)
	}
	return nil
}

// DeleteFolder removes a folder; its records move to Drafts
func (s *RehearseService) DeleteFolder(ctx context.Context, id int64) (int64, error) {
	moved, err := s.api.DeleteFolder(ctx, id)
	if err != nil {
		return 0, s.fail("Failed to delete folder", err)
	}
	slog.Info("Folder deleted", "id", id, "moved_files", moved)
	return moved, nil
}

func (s *RehearseService) FolderRecords(ctx context.Context, id int64) (*gateway.FolderRecords, error) {
	recs, err := s.api.FolderRecords(ctx, id)
	if err != nil {
		return nil, s.fail("Failed to load records", err)
	}
	return recs, nil
}

func (s *RehearseService) RenameRecord(ctx context.Context, id int64, name string) error {
	if strings.TrimSpace(name) == "" {
		s.notifier.Alert("Record name cannot be empty")
		return fmt.Errorf("%w: record name cannot be empty", gateway.ErrValidation)
	}
	if err := s.api.RenameRecord(ctx, id, name); err != nil {
		return s.fail("Failed to rename record", err)
	}
	return nil
}

func (s *RehearseService) TrashRecord(ctx context.Context, id int64) error {
	if err := s.api.TrashRecord(ctx, id); err != nil {
		return s.fail("Failed to move record to trash", err)
	}
	return nil
}

func (s *RehearseService) DeleteRecord(ctx context.Context, id int64) error {
	if err := s.api.DeleteRecord(ctx, id); err != nil {
		return s.fail("Failed to delete record", err)
	}
	return nil
}

// OpenPlayback loads record id for review
func (s *RehearseService) OpenPlayback(ctx context.Context, id int64) (*playback.Controller, error) {
	s.clearLastError()
	ctrl := playback.NewController(s.cfg, s.api, s.notifier, s.clock)
	ctrl.NewOutput = s.newOutput
	if err := ctrl.Load(ctx, id); err != nil {
		s.setLastError(fmt.Sprintf("Failed to load record: %v", err))
		return nil, err
	}
	return ctrl, nil
}

// GetConfig returns the current configuration
func (s *RehearseService) GetConfig() *config.Config {
	return s.cfg
}

func (s *RehearseService) ListSources() ([]string, error) {
	return s.backend.ListSources()
}

// GetChannelStatus returns the availability status of a mode's channels
func (s *RehearseService) GetChannelStatus(mode string) map[string]string {
	if mode == "" {
		mode = s.cfg.Capture.Mode
	}
	status, err := s.backend.SourceStatus(mode)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to check sources: %v", err))
		return map[string]string{}
	}
	return status
}

// fail alerts the user, records the error and returns it wrapped
func (s *RehearseService) fail(action string, err error) error {
	msg := fmt.Sprintf("%s: %v", action, err)
	s.notifier.Alert(msg)
	s.setLastError(msg)
	return fmt.Errorf("%s: %w", strings.ToLower(action[:1])+action[1:], err)
}

// GetLastError returns the last error message (thread-safe)
func (s *RehearseService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *RehearseService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *RehearseService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
