package store

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DraftsFolder = "Drafts"
	TrashFolder  = "Trash"

	MistakeRecording = 1
	MistakePlayback  = 2

	indexFile  = "index.yaml"
	uploadsDir = "uploads"
	cacheDir   = "cache"

	// time_of_mistake lookup tolerance, seconds
	timeEpsilon = 1e-6
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid request")
	ErrProtectedFolder = errors.New("folder cannot be removed")
)

type Folder struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// Record is a stored recording. Length is in seconds.
type Record struct {
	ID        int64     `yaml:"id"`
	FolderID  int64     `yaml:"folder_id"`
	Name      string    `yaml:"name"`
	Trash     bool      `yaml:"trash"`
	Length    float64   `yaml:"length"`
	AudioFile string    `yaml:"audio_file"`
	Created   time.Time `yaml:"created"`
}

// Mistake is an error marker. Time is in seconds from the record start.
type Mistake struct {
	ID       int64   `yaml:"id"`
	RecordID int64   `yaml:"record_id"`
	Time     float64 `yaml:"time"`
	Comment  string  `yaml:"comment,omitempty"`
	Type     int     `yaml:"type"`
}

type index struct {
	NextFolderID  int64     `yaml:"next_folder_id"`
	NextRecordID  int64     `yaml:"next_record_id"`
	NextMistakeID int64     `yaml:"next_mistake_id"`
	Folders       []Folder  `yaml:"folders"`
	Records       []Record  `yaml:"records"`
	Mistakes      []Mistake `yaml:"mistakes"`
}

// Store keeps folders, records and mistakes in a YAML index next to the
// uploaded audio files.
type Store struct {
	mu  sync.RWMutex
	dir string
	idx index
	now func() time.Time
}

// Open loads the store under dir, seeding Drafts and Trash on first use.
func Open(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, uploadsDir), filepath.Join(dir, cacheDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	s := &Store{dir: dir, now: time.Now}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.idx); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", indexFile, err)
		}
	case errors.Is(err, os.ErrNotExist):
		s.idx = index{NextFolderID: 1, NextRecordID: 1, NextMistakeID: 1}
		s.addFolderLocked(DraftsFolder)
		s.addFolderLocked(TrashFolder)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		slog.Info("Initialized record store", "dir", dir)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", indexFile, err)
	}

	return s, nil
}

func (s *Store) persistLocked() error {
	data, err := yaml.Marshal(&s.idx)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

// commitLocked persists the index. When that fails the in-memory index is
// put back to prev so memory never runs ahead of disk.
func (s *Store) commitLocked(prev index) error {
	if err := s.persistLocked(); err != nil {
		s.idx = prev
		return err
	}
	return nil
}

func (idx index) clone() index {
	c := idx
	c.Folders = append([]Folder(nil), idx.Folders...)
	c.Records = append([]Record(nil), idx.Records...)
	c.Mistakes = append([]Mistake(nil), idx.Mistakes...)
	return c
}

func (s *Store) addFolderLocked(name string) Folder {
	f := Folder{ID: s.idx.NextFolderID, Name: name}
	s.idx.NextFolderID++
	s.idx.Folders = append(s.idx.Folders, f)
	return f
}

func (s *Store) folderLocked(id int64) (int, bool) {
	for i, f := range s.idx.Folders {
		if f.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *Store) folderByNameLocked(name string) (Folder, bool) {
	for _, f := range s.idx.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return Folder{}, false
}

func (s *Store) recordLocked(id int64) (int, bool) {
	for i, r := range s.idx.Records {
		if r.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *Store) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Folder, len(s.idx.Folders))
	copy(out, s.idx.Folders)
	return out
}

func (s *Store) Folder(id int64) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.folderLocked(id)
	if !ok {
		return Folder{}, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return s.idx.Folders[i], nil
}

func (s *Store) CreateFolder(name string) (Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Folder{}, fmt.Errorf("%w: folder name cannot be empty", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	f := s.addFolderLocked(name)
	if err := s.commitLocked(prev); err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (s *Store) RenameFolder(id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: folder name cannot be empty", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.folderLocked(id)
	if !ok {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	s.idx.Folders[i].Name = name
	return s.commitLocked(prev)
}

// DeleteFolder removes a folder and moves its records to Drafts.
func (s *Store) DeleteFolder(id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.folderLocked(id)
	if !ok {
		return 0, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	name := s.idx.Folders[i].Name
	if name == DraftsFolder || name == TrashFolder {
		return 0, fmt.Errorf("%w: %s", ErrProtectedFolder, name)
	}
	drafts, ok := s.folderByNameLocked(DraftsFolder)
	if !ok {
		return 0, fmt.Errorf("drafts folder: %w", ErrNotFound)
	}

	moved := 0
	for j := range s.idx.Records {
		if s.idx.Records[j].FolderID == id {
			s.idx.Records[j].FolderID = drafts.ID
			moved++
		}
	}
	s.idx.Folders = append(s.idx.Folders[:i], s.idx.Folders[i+1:]...)

	if err := s.commitLocked(prev); err != nil {
		return 0, err
	}
	slog.Info("Folder deleted", "folder_id", id, "moved_files", moved)
	return moved, nil
}

// RecordsInFolder lists a folder's records, newest first.
func (s *Store) RecordsInFolder(folderID int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.folderLocked(folderID); !ok {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	var out []Record
	for _, r := range s.idx.Records {
		if r.FolderID == folderID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// NewRecord is what a client uploads. Times are seconds.
type NewRecord struct {
	Name     string
	FolderID int64
	Audio    []byte
	Ext      string
	Length   float64
	Errors   []float64
}

// CreateRecord writes the audio file and stores the record with its recording errors.
func (s *Store) CreateRecord(nr NewRecord) (Record, error) {
	if strings.TrimSpace(nr.Name) == "" {
		return Record{}, fmt.Errorf("%w: record name cannot be empty", ErrInvalid)
	}
	if len(nr.Audio) == 0 {
		return Record{}, fmt.Errorf("%w: audio is empty", ErrInvalid)
	}
	if nr.Length < 0 || math.IsNaN(nr.Length) {
		return Record{}, fmt.Errorf("%w: duration must be >= 0", ErrInvalid)
	}
	for _, t := range nr.Errors {
		if !inRange(t, nr.Length) {
			return Record{}, fmt.Errorf("%w: error time %.3fs outside [0, %.3fs]", ErrInvalid, t, nr.Length)
		}
	}
	ext := strings.TrimPrefix(nr.Ext, ".")
	if ext == "" {
		ext = "wav"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	if _, ok := s.folderLocked(nr.FolderID); !ok {
		return Record{}, fmt.Errorf("folder %d: %w", nr.FolderID, ErrNotFound)
	}

	now := s.now()
	rec := Record{
		ID:       s.idx.NextRecordID,
		FolderID: nr.FolderID,
		Name:     strings.TrimSpace(nr.Name),
		Length:   nr.Length,
		Created:  now.UTC(),
	}
	rec.AudioFile = fmt.Sprintf("%s_%d_%d.%s", strings.Trim(unsafeName.ReplaceAllString(rec.Name, "_"), "_"), rec.ID, now.Unix(), ext)

	if err := os.WriteFile(s.AudioPath(rec), nr.Audio, 0644); err != nil {
		return Record{}, fmt.Errorf("failed to save audio file: %w", err)
	}

	s.idx.NextRecordID++
	s.idx.Records = append(s.idx.Records, rec)
	for _, t := range nr.Errors {
		s.addMistakeLocked(rec.ID, t, MistakeRecording)
	}

	if err := s.commitLocked(prev); err != nil {
		if rmErr := os.Remove(s.AudioPath(rec)); rmErr != nil {
			slog.Warn("Failed to remove orphaned audio file", "file", rec.AudioFile, "error", rmErr)
		}
		return Record{}, err
	}
	slog.Info("Record saved", "record_id", rec.ID, "folder_id", rec.FolderID, "file", rec.AudioFile, "errors", len(nr.Errors))
	return rec, nil
}

func (s *Store) Record(id int64) (Record, []Mistake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.recordLocked(id)
	if !ok {
		return Record{}, nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	var mistakes []Mistake
	for _, m := range s.idx.Mistakes {
		if m.RecordID == id {
			mistakes = append(mistakes, m)
		}
	}
	sort.SliceStable(mistakes, func(a, b int) bool { return mistakes[a].Time < mistakes[b].Time })
	return s.idx.Records[i], mistakes, nil
}

// AudioPath is the absolute path of a record's audio file.
func (s *Store) AudioPath(rec Record) string {
	return filepath.Join(s.dir, uploadsDir, rec.AudioFile)
}

func (s *Store) ReadAudio(rec Record) ([]byte, error) {
	data, err := os.ReadFile(s.AudioPath(rec))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("audio file %s: %w", rec.AudioFile, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return data, nil
}

func (s *Store) RenameRecord(id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: record name cannot be empty", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.recordLocked(id)
	if !ok {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	s.idx.Records[i].Name = name
	return s.commitLocked(prev)
}

// TrashRecord flags the record and moves it into the Trash folder.
func (s *Store) TrashRecord(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.recordLocked(id)
	if !ok {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	trash, ok := s.folderByNameLocked(TrashFolder)
	if !ok {
		trash = s.addFolderLocked(TrashFolder)
	}
	s.idx.Records[i].Trash = true
	s.idx.Records[i].FolderID = trash.ID
	return s.commitLocked(prev)
}

// DeleteRecord removes the record, its mistakes, audio file and cached peaks.
func (s *Store) DeleteRecord(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.recordLocked(id)
	if !ok {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	rec := s.idx.Records[i]
	s.idx.Records = append(s.idx.Records[:i], s.idx.Records[i+1:]...)

	kept := s.idx.Mistakes[:0]
	for _, m := range s.idx.Mistakes {
		if m.RecordID != id {
			kept = append(kept, m)
		}
	}
	s.idx.Mistakes = kept

	if err := s.commitLocked(prev); err != nil {
		return err
	}

	paths, _ := filepath.Glob(s.peaksGlob(id))
	for _, p := range append(paths, s.AudioPath(rec)) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove record file", "path", p, "error", err)
		}
	}
	return nil
}

func (s *Store) addMistakeLocked(recordID int64, t float64, typ int) Mistake {
	m := Mistake{ID: s.idx.NextMistakeID, RecordID: recordID, Time: t, Type: typ}
	s.idx.NextMistakeID++
	s.idx.Mistakes = append(s.idx.Mistakes, m)
	return m
}

// AddMistake stores an error at t seconds; t must lie within the record.
func (s *Store) AddMistake(recordID int64, t float64, typ int) (Mistake, error) {
	if typ != MistakeRecording && typ != MistakePlayback {
		return Mistake{}, fmt.Errorf("%w: unknown mistake type %d", ErrInvalid, typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	i, ok := s.recordLocked(recordID)
	if !ok {
		return Mistake{}, fmt.Errorf("record %d: %w", recordID, ErrNotFound)
	}
	if length := s.idx.Records[i].Length; !inRange(t, length) {
		return Mistake{}, fmt.Errorf("%w: error time %.3fs outside [0, %.3fs]", ErrInvalid, t, length)
	}

	m := s.addMistakeLocked(recordID, t, typ)
	if err := s.commitLocked(prev); err != nil {
		return Mistake{}, err
	}
	return m, nil
}

// SetComment updates the first mistake of the record at time t seconds.
func (s *Store) SetComment(recordID int64, t float64, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	if _, ok := s.recordLocked(recordID); !ok {
		return fmt.Errorf("record %d: %w", recordID, ErrNotFound)
	}
	for i, m := range s.idx.Mistakes {
		if m.RecordID == recordID && math.Abs(m.Time-t) < timeEpsilon {
			s.idx.Mistakes[i].Comment = strings.TrimSpace(comment)
			return s.commitLocked(prev)
		}
	}
	return fmt.Errorf("mistake at %.3fs: %w", t, ErrNotFound)
}

func (s *Store) DeleteMistake(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx.clone()

	for i, m := range s.idx.Mistakes {
		if m.ID == id {
			s.idx.Mistakes = append(s.idx.Mistakes[:i], s.idx.Mistakes[i+1:]...)
			return s.commitLocked(prev)
		}
	}
	return fmt.Errorf("mistake %d: %w", id, ErrNotFound)
}

func inRange(t, length float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= length+timeEpsilon
}
