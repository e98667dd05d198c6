package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func drafts(t *testing.T, s *Store) Folder {
	t.Helper()
	for _, f := range s.Folders() {
		if f.Name == DraftsFolder {
			return f
		}
	}
	t.Fatal("Drafts folder missing")
	return Folder{}
}

func TestOpen_SeedsDefaultFolders(t *testing.T) {
	s := openTestStore(t)
	folders := s.Folders()
	if len(folders) != 2 || folders[0].Name != DraftsFolder || folders[1].Name != TrashFolder {
		t.Errorf("Unexpected seed folders: %+v", folders)
	}
}

func TestOpen_ReloadsIndex(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	f, _ := s.CreateFolder("Scales")

	again, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := again.Folder(f.ID)
	if err != nil || got.Name != "Scales" {
		t.Errorf("Expected folder to survive reopen, got %+v err=%v", got, err)
	}
}

func TestCreateRecord_WithErrors(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.CreateRecord(NewRecord{
		Name:     "02.03.2026 (1)",
		FolderID: drafts(t, s).ID,
		Audio:    []byte("RIFF"),
		Length:   3,
		Errors:   []float64{1.5},
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	got, mistakes, err := s.Record(rec.ID)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got.Length != 3 {
		t.Errorf("Expected length 3s, got %f", got.Length)
	}
	if len(mistakes) != 1 || mistakes[0].Time != 1.5 || mistakes[0].Type != MistakeRecording {
		t.Errorf("Unexpected mistakes: %+v", mistakes)
	}

	audio, err := s.ReadAudio(got)
	if err != nil || string(audio) != "RIFF" {
		t.Errorf("Unexpected audio %q err=%v", audio, err)
	}
}

func TestCreateRecord_Validation(t *testing.T) {
	s := openTestStore(t)
	d := drafts(t, s).ID

	cases := []NewRecord{
		{Name: "", FolderID: d, Audio: []byte{1}, Length: 1},
		{Name: "a", FolderID: d, Length: 1},
		{Name: "a", FolderID: d, Audio: []byte{1}, Length: 1, Errors: []float64{2}},
		{Name: "a", FolderID: d, Audio: []byte{1}, Length: 1, Errors: []float64{-0.1}},
	}
	for i, nr := range cases {
		if _, err := s.CreateRecord(nr); !errors.Is(err, ErrInvalid) {
			t.Errorf("case %d: expected ErrInvalid, got: %v", i, err)
		}
	}

	if _, err := s.CreateRecord(NewRecord{Name: "a", FolderID: 99, Audio: []byte{1}, Length: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown folder, got: %v", err)
	}
}

func TestAddMistake_RangeCheck(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.CreateRecord(NewRecord{Name: "a", FolderID: drafts(t, s).ID, Audio: []byte{1}, Length: 10})

	if _, err := s.AddMistake(rec.ID, 10.5, MistakePlayback); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid past the end, got: %v", err)
	}
	m, err := s.AddMistake(rec.ID, 10, MistakePlayback)
	if err != nil {
		t.Fatalf("Expected error at the exact end to be accepted: %v", err)
	}
	if m.Type != MistakePlayback {
		t.Errorf("Expected playback type, got %d", m.Type)
	}
}

func TestSetComment_ByTime(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.CreateRecord(NewRecord{Name: "a", FolderID: drafts(t, s).ID, Audio: []byte{1}, Length: 10, Errors: []float64{1.5}})

	if err := s.SetComment(rec.ID, 1.5, "  rushed "); err != nil {
		t.Fatalf("SetComment failed: %v", err)
	}
	_, mistakes, _ := s.Record(rec.ID)
	if mistakes[0].Comment != "rushed" {
		t.Errorf("Expected trimmed comment, got %q", mistakes[0].Comment)
	}
	if err := s.SetComment(rec.ID, 4, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown time, got: %v", err)
	}
}

func TestDeleteFolder_MovesRecordsToDrafts(t *testing.T) {
	s := openTestStore(t)
	f, _ := s.CreateFolder("Etudes")
	for i := 0; i < 2; i++ {
		if _, err := s.CreateRecord(NewRecord{Name: "a", FolderID: f.ID, Audio: []byte{1}, Length: 1}); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	moved, err := s.DeleteFolder(f.ID)
	if err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("Expected 2 moved, got %d", moved)
	}
	recs, _ := s.RecordsInFolder(drafts(t, s).ID)
	if len(recs) != 2 {
		t.Errorf("Expected 2 records in Drafts, got %d", len(recs))
	}

	if _, err := s.DeleteFolder(drafts(t, s).ID); !errors.Is(err, ErrProtectedFolder) {
		t.Errorf("Expected ErrProtectedFolder, got: %v", err)
	}
}

func TestTrashAndDeleteRecord(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.CreateRecord(NewRecord{Name: "a", FolderID: drafts(t, s).ID, Audio: []byte{1}, Length: 1, Errors: []float64{0.5}})

	if err := s.TrashRecord(rec.ID); err != nil {
		t.Fatalf("TrashRecord failed: %v", err)
	}
	got, _, _ := s.Record(rec.ID)
	if !got.Trash {
		t.Error("Expected trash flag")
	}
	if f, _ := s.Folder(got.FolderID); f.Name != TrashFolder {
		t.Errorf("Expected record in Trash, got folder %q", f.Name)
	}

	if err := s.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, _, err := s.Record(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got: %v", err)
	}
	if _, err := s.ReadAudio(got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected audio removed, got: %v", err)
	}
}

func TestRecordsInFolder_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	d := drafts(t, s).ID
	first, _ := s.CreateRecord(NewRecord{Name: "old", FolderID: d, Audio: []byte{1}, Length: 1})
	clock = clock.Add(24 * time.Hour)
	second, _ := s.CreateRecord(NewRecord{Name: "new", FolderID: d, Audio: []byte{1}, Length: 1})

	recs, _ := s.RecordsInFolder(d)
	if len(recs) != 2 || recs[0].ID != second.ID || recs[1].ID != first.ID {
		t.Errorf("Expected newest first, got %+v", recs)
	}
}

func TestPeaksCache(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Peaks(1, 4); ok || err != nil {
		t.Fatalf("Expected cache miss, got ok=%v err=%v", ok, err)
	}

	in := []float64{0, 0.25, 0.5, 1}
	if err := s.PutPeaks(1, in); err != nil {
		t.Fatalf("PutPeaks failed: %v", err)
	}
	out, ok, err := s.Peaks(1, 4)
	if err != nil || !ok {
		t.Fatalf("Expected cache hit, got ok=%v err=%v", ok, err)
	}
	for i := range in {
		if math.Abs(out[i]-in[i]) > 1e-6 {
			t.Errorf("Peak %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}

func TestPeaksCache_KeyedByBarCount(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutPeaks(1, []float64{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("PutPeaks failed: %v", err)
	}

	if _, ok, err := s.Peaks(1, 57); ok || err != nil {
		t.Errorf("Expected a miss for another bar count, got ok=%v err=%v", ok, err)
	}
	if err := s.PutPeaks(1, make([]float64, 57)); err != nil {
		t.Fatalf("PutPeaks failed: %v", err)
	}
	if out, ok, _ := s.Peaks(1, 4); !ok || len(out) != 4 {
		t.Errorf("Expected the 4 bar entry to survive, got ok=%v n=%d", ok, len(out))
	}
}

func TestDeleteRecord_DropsEveryPeaksEntry(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.CreateRecord(NewRecord{Name: "a", FolderID: drafts(t, s).ID, Audio: []byte{1}, Length: 1})
	s.PutPeaks(rec.ID, make([]float64, 4))
	s.PutPeaks(rec.ID, make([]float64, 57))

	if err := s.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	left, _ := filepath.Glob(filepath.Join(s.dir, cacheDir, "*"))
	if len(left) != 0 {
		t.Errorf("Expected empty peaks cache, found %v", left)
	}
}

// blockIndexWrites makes the next index write fail by putting a directory
// where the temporary file goes
func blockIndexWrites(t *testing.T, s *Store) {
	t.Helper()
	if err := os.Mkdir(filepath.Join(s.dir, indexFile+".tmp"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestFailedWrite_LeavesIndexUnchanged(t *testing.T) {
	s := openTestStore(t)
	d := drafts(t, s).ID
	rec, err := s.CreateRecord(NewRecord{Name: "take", FolderID: d, Audio: []byte{1}, Length: 2, Errors: []float64{0.5}})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	_, mistakes, _ := s.Record(rec.ID)
	foldersBefore := s.Folders()
	blockIndexWrites(t, s)

	if _, err := s.CreateFolder("Gigs"); err == nil {
		t.Fatal("Expected CreateFolder to fail")
	}
	if got := s.Folders(); len(got) != len(foldersBefore) {
		t.Errorf("Expected folders unchanged, got %+v", got)
	}

	if err := s.RenameRecord(rec.ID, "renamed"); err == nil {
		t.Error("Expected RenameRecord to fail")
	}
	if err := s.TrashRecord(rec.ID); err == nil {
		t.Error("Expected TrashRecord to fail")
	}
	if _, err := s.AddMistake(rec.ID, 1, MistakePlayback); err == nil {
		t.Error("Expected AddMistake to fail")
	}
	if err := s.SetComment(rec.ID, 0.5, "late"); err == nil {
		t.Error("Expected SetComment to fail")
	}
	if err := s.DeleteMistake(mistakes[0].ID); err == nil {
		t.Error("Expected DeleteMistake to fail")
	}
	if err := s.DeleteRecord(rec.ID); err == nil {
		t.Error("Expected DeleteRecord to fail")
	}

	got, gotMistakes, err := s.Record(rec.ID)
	if err != nil {
		t.Fatalf("Expected record to survive, got: %v", err)
	}
	if got.Name != "take" || got.Trash || got.FolderID != d {
		t.Errorf("Expected record unchanged, got %+v", got)
	}
	if len(gotMistakes) != 1 || gotMistakes[0].Comment != "" {
		t.Errorf("Expected mistakes unchanged, got %+v", gotMistakes)
	}
	if _, err := s.ReadAudio(got); err != nil {
		t.Errorf("Expected audio kept after failed delete, got: %v", err)
	}

	// ids handed out by the failed calls are reused once writes work again
	os.Remove(filepath.Join(s.dir, indexFile+".tmp"))
	f, err := s.CreateFolder("Gigs")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if f.ID != foldersBefore[len(foldersBefore)-1].ID+1 {
		t.Errorf("Expected folder id %d, got %d", foldersBefore[len(foldersBefore)-1].ID+1, f.ID)
	}
	reopened, err := Open(s.dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if len(reopened.Folders()) != len(foldersBefore)+1 {
		t.Errorf("Expected disk and memory to agree, got %+v", reopened.Folders())
	}
}

func TestFailedCreateRecord_RemovesAudioFile(t *testing.T) {
	s := openTestStore(t)
	blockIndexWrites(t, s)

	if _, err := s.CreateRecord(NewRecord{Name: "take", FolderID: drafts(t, s).ID, Audio: []byte{1, 2}, Length: 1}); err == nil {
		t.Fatal("Expected CreateRecord to fail")
	}
	files, _ := os.ReadDir(filepath.Join(s.dir, uploadsDir))
	if len(files) != 0 {
		t.Errorf("Expected no orphaned audio, found %d files", len(files))
	}
	recs, _ := s.RecordsInFolder(drafts(t, s).ID)
	if len(recs) != 0 {
		t.Errorf("Expected no record, got %+v", recs)
	}
}
