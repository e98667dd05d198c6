package localstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/rehearse/internal/timeline"
)

const (
	sessionFile = "session.yaml"
	localFile   = "local.yaml"
)

// Session is the per-day scratch state: the unsaved draft and the naming index.
type Session struct {
	AudioData           string            `yaml:"tempAudioData,omitempty"`
	Duration            float64           `yaml:"tempDuration,omitempty"`
	ErrorTimestamps     []float64         `yaml:"tempErrorTimestamps,omitempty"`
	WaveformData        []timeline.Sample `yaml:"tempWaveformData,omitempty"`
	TodayRecordingIndex int               `yaml:"todayRecordingIndex,omitempty"`
	Date                string            `yaml:"sessionDate,omitempty"`
}

// HasDraft reports whether an unsaved recording is waiting.
func (s *Session) HasDraft() bool {
	return s.AudioData != ""
}

// Local holds preferences that outlive a session.
type Local struct {
	RecordName     string `yaml:"recordName,omitempty"`
	SelectedFolder int64  `yaml:"selectedFolder,omitempty"`
	RecordMode     string `yaml:"recordMode,omitempty"`
}

// Store reads and writes the two state files under one directory.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) readYAML(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeYAML(name string, v interface{}) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// LoadSession returns today's session. A session from an earlier day is
// discarded except for its draft, which is kept until saved or cleared.
func (s *Store) LoadSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSessionLocked()
}

func (s *Store) loadSessionLocked() (*Session, error) {
	var sess Session
	if err := s.readYAML(sessionFile, &sess); err != nil {
		return nil, err
	}
	today := s.now().Format("2006-01-02")
	if sess.Date != today {
		sess.TodayRecordingIndex = 0
		sess.Date = today
	}
	return &sess, nil
}

func (s *Store) SaveSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeYAML(sessionFile, sess)
}

// UpdateSession applies fn to the stored session and writes it back.
func (s *Store) UpdateSession(fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadSessionLocked()
	if err != nil {
		return err
	}
	fn(sess)
	return s.writeYAML(sessionFile, sess)
}

// NextRecordingIndex increments and returns todayRecordingIndex.
func (s *Store) NextRecordingIndex() (int, error) {
	var n int
	err := s.UpdateSession(func(sess *Session) {
		sess.TodayRecordingIndex++
		n = sess.TodayRecordingIndex
	})
	return n, err
}

// ClearDraft drops the unsaved recording keys.
func (s *Store) ClearDraft() error {
	return s.UpdateSession(func(sess *Session) {
		sess.AudioData = ""
		sess.Duration = 0
		sess.ErrorTimestamps = nil
		sess.WaveformData = nil
	})
}

func (s *Store) LoadLocal() (*Local, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var l Local
	if err := s.readYAML(localFile, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLocal applies fn to the stored preferences and writes them back.
func (s *Store) UpdateLocal(fn func(*Local)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var l Local
	if err := s.readYAML(localFile, &l); err != nil {
		return err
	}
	fn(&l)
	return s.writeYAML(localFile, &l)
}
