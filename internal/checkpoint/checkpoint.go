package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/audiolibrelab/rehearse/internal/marker"
	"github.com/audiolibrelab/rehearse/internal/timeline"
)

var (
	ErrNotFound   = errors.New("checkpoint not found")
	ErrEditClosed = errors.New("editor already closed")
)

// CommentSaver persists the comment of the error at timeMs on a record.
type CommentSaver interface {
	SaveComment(ctx context.Context, recordID int64, timeMs float64, comment string) error
}

// List keeps checkpoints ordered by (time, id) whatever the insertion order.
type List struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[marker.ErrorMarker]
	byID     map[string]marker.ErrorMarker
	recordID int64
	saver    CommentSaver
}

func byTime(a, b marker.ErrorMarker) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.ID < b.ID
}

func NewList(recordID int64, saver CommentSaver) *List {
	return &List{
		tree:     btree.NewBTreeG[marker.ErrorMarker](byTime),
		byID:     make(map[string]marker.ErrorMarker),
		recordID: recordID,
		saver:    saver,
	}
}

// Add inserts m; an existing entry with the same id is replaced.
func (l *List) Add(m marker.ErrorMarker) {
	if m.ID == "" {
		m.ID = marker.NewID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.byID[m.ID]; ok {
		l.tree.Delete(old)
	}
	l.tree.Set(m)
	l.byID[m.ID] = m
}

// Remove deletes exactly one checkpoint by local id.
func (l *List) Remove(id string) (marker.ErrorMarker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok {
		return marker.ErrorMarker{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.tree.Delete(m)
	delete(l.byID, id)
	return m, nil
}

func (l *List) Find(id string) (marker.ErrorMarker, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[id]
	return m, ok
}

// FindByServerID looks up a checkpoint by its server mistake id.
func (l *List) FindByServerID(serverID int64) (marker.ErrorMarker, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var found marker.ErrorMarker
	var ok bool
	l.tree.Scan(func(m marker.ErrorMarker) bool {
		if m.ServerID != 0 && m.ServerID == serverID {
			found, ok = m, true
			return false
		}
		return true
	})
	return found, ok
}

// Items returns all checkpoints in ascending time order.
func (l *List) Items() []marker.ErrorMarker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Items()
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Len()
}

func (l *List) setComment(id, comment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// comment is not part of the ordering key, Set replaces in place
	m.Comment = comment
	l.tree.Set(m)
	l.byID[id] = m
	return nil
}

// Edit opens an editor on the checkpoint with the given id.
func (l *List) Edit(id string) (*Editor, error) {
	m, ok := l.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &Editor{list: l, id: id, time: m.Time, snapshot: m.Comment, open: true}, nil
}

// Editor is the lifecycle of one comment edit. Nothing changes in the list
// until Commit succeeds; Cancel puts back the comment seen when editing began.
type Editor struct {
	list     *List
	id       string
	time     float64
	snapshot string
	open     bool
}

func (e *Editor) ID() string { return e.id }

func (e *Editor) Snapshot() string { return e.snapshot }

func (e *Editor) Open() bool { return e.open }

// Commit saves text (trimmed) and applies it. An empty text removes the comment.
// On failure the checkpoint is left untouched and the editor stays open.
func (e *Editor) Commit(ctx context.Context, text string) error {
	if !e.open {
		return ErrEditClosed
	}
	comment := strings.TrimSpace(text)

	if e.list.saver != nil {
		if err := e.list.saver.SaveComment(ctx, e.list.recordID, e.time, comment); err != nil {
			slog.Error("Failed to save comment", "record_id", e.list.recordID, "time", e.time, "error", err)
			return fmt.Errorf("failed to save comment: %w", err)
		}
	}

	if err := e.list.setComment(e.id, comment); err != nil {
		return err
	}
	e.open = false
	return nil
}

// Cancel closes the editor and restores the prior comment exactly.
func (e *Editor) Cancel() {
	if !e.open {
		return
	}
	if err := e.list.setComment(e.id, e.snapshot); err != nil {
		slog.Debug("Checkpoint vanished during edit", "id", e.id)
	}
	e.open = false
}

// Render produces one line per checkpoint: time, comment, and controls for the owner.
func (l *List) Render(owner bool) []string {
	items := l.Items()
	lines := make([]string, 0, len(items))
	for i, m := range items {
		var b strings.Builder
		fmt.Fprintf(&b, "%2d. %s", i+1, timeline.FormatTime(m.Time))
		if m.Origin == marker.OriginPlayback {
			b.WriteString(" *")
		}
		if m.Comment != "" {
			fmt.Fprintf(&b, "  %s", m.Comment)
		}
		if owner {
			fmt.Fprintf(&b, "  [edit %s] [delete %s]", shortID(m.ID), shortID(m.ID))
		}
		lines = append(lines, b.String())
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// Resolve finds a checkpoint by full id or by the short handle shown in Render.
// A blank ref never resolves.
func (l *List) Resolve(ref string) (marker.ErrorMarker, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return marker.ErrorMarker{}, false
	}
	if m, ok := l.Find(ref); ok {
		return m, true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var found marker.ErrorMarker
	matches := 0
	for id, m := range l.byID {
		if strings.HasSuffix(id, ref) {
			found = m
			matches++
		}
	}
	return found, matches == 1
}
