// Package jsonfile implements the local-file backend: one JSON document per
// workspace holding metadata, the note list and derived statistics.
//
// Writes are atomic (temp file in the same directory, then rename), so a
// crash mid-write never leaves a truncated document behind. A mutex guards
// concurrent Save and LoadAll from the same process; cross-process locking is
// out of scope, network backends provide multi-writer consistency.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

const formatVersion = "1.0"

// Metadata describes the document itself.
type Metadata struct {
	ProjectName string    `json:"project_name"`
	Version     string    `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Statistics are derived counts, recomputed on every write.
type Statistics struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	BySeverity map[string]int `json:"by_severity"`
}

type document struct {
	Metadata   Metadata       `json:"metadata"`
	Notes      []*models.Note `json:"notes"`
	Statistics Statistics     `json:"statistics"`
}

// Store is the local JSON file backend. It also implements
// store.AutoSaveToggler: with auto-save disabled, writes mutate the in-memory
// working set only and are flushed when auto-save is re-enabled.
type Store struct {
	path    string
	project string
	logger  zerolog.Logger

	mu        sync.Mutex
	connected bool
	notes     map[string]*models.Note
	order     []string
	autoSave  bool
	dirty     bool
}

var _ store.Store = (*Store)(nil)
var _ store.AutoSaveToggler = (*Store)(nil)

func New(path, projectName string, logger zerolog.Logger) *Store {
	return &Store{
		path:     path,
		project:  projectName,
		logger:   logger.With().Str("store", "jsonfile").Logger(),
		autoSave: true,
	}
}

func (s *Store) Kind() store.Kind { return store.KindLocalFile }

// Connect loads the document if it exists. A missing file is a valid empty
// workspace, not an error. Calling Connect again is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	s.notes = make(map[string]*models.Note)
	s.order = nil

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh workspace
	case err != nil:
		return fmt.Errorf("jsonfile: read %s: %w", s.path, err)
	default:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("jsonfile: parse %s: %w", s.path, err)
		}
		for _, n := range doc.Notes {
			s.notes[n.ID.String()] = n
			s.order = append(s.order, n.ID.String())
		}
	}

	s.connected = true
	s.logger.Debug().Str("path", s.path).Int("notes", len(s.notes)).Msg("connected")
	return nil
}

// Close flushes pending writes. It is safe on a store that never connected.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	var err error
	if s.dirty {
		err = s.persistLocked()
	}
	s.connected = false
	return err
}

func (s *Store) LoadAll(ctx context.Context) ([]*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, store.ErrNotConnected
	}
	out := make([]*models.Note, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.notes[id].Clone())
	}
	return out, nil
}

// Save upserts by id. Updating an existing note refreshes its update
// timestamp and version counter; identity, creation timestamp and author are
// never altered.
func (s *Store) Save(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return fmt.Errorf("jsonfile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return store.ErrNotConnected
	}

	id := note.ID.String()
	stored := note.Clone()
	if existing, ok := s.notes[id]; ok {
		stored.Timestamp = existing.Timestamp
		stored.Author = existing.Author
		stored.Version = existing.Version
		stored.Touch(time.Now())
	} else {
		s.order = append(s.order, id)
	}
	s.notes[id] = stored

	return s.commitLocked()
}

// Delete removes the note and, with it, its embedded replies. Deleting a
// missing id succeeds without touching the file.
func (s *Store) Delete(ctx context.Context, id models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return store.ErrNotConnected
	}

	key := id.String()
	if _, ok := s.notes[key]; !ok {
		return nil
	}
	delete(s.notes, key)
	for i, oid := range s.order {
		if oid == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.commitLocked()
}

func (s *Store) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, store.ErrNotConnected
	}
	n, ok := s.notes[id.String()]
	if !ok {
		return nil, nil
	}
	return n.Clone(), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, store.ErrNotConnected
	}
	return len(s.notes), nil
}

// SetAutoSave toggles write-through persistence and returns the prior value.
// Re-enabling flushes any buffered changes.
func (s *Store) SetAutoSave(enabled bool) (previous bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.autoSave
	s.autoSave = enabled
	if enabled && s.dirty && s.connected {
		if err := s.persistLocked(); err != nil {
			s.logger.Error().Err(err).Msg("flush on auto-save re-enable failed")
		}
	}
	return previous
}

func (s *Store) commitLocked() error {
	if !s.autoSave {
		s.dirty = true
		return nil
	}
	return s.persistLocked()
}

// persistLocked writes the document atomically: marshal, write a temp file
// next to the target, fsync, rename.
func (s *Store) persistLocked() error {
	doc := document{
		Metadata: Metadata{
			ProjectName: s.project,
			Version:     formatVersion,
			UpdatedAt:   time.Now().UTC(),
		},
		Notes:      make([]*models.Note, 0, len(s.order)),
		Statistics: s.statisticsLocked(),
	}
	for _, id := range s.order {
		doc.Notes = append(doc.Notes, s.notes[id])
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonfile: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".notes-*.json.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: rename: %w", err)
	}

	s.dirty = false
	return nil
}

func (s *Store) statisticsLocked() Statistics {
	stats := Statistics{
		Total:      len(s.notes),
		ByState:    make(map[string]int),
		BySeverity: make(map[string]int),
	}
	for _, n := range s.notes {
		stats.ByState[string(n.State)]++
		if n.Severity != "" {
			stats.BySeverity[string(n.Severity)]++
		}
	}
	return stats
}

// Exists reports whether a non-empty local note collection is present at
// path, without connecting a store. The mode detector uses it for probing.
func Exists(path string) (found bool, count int, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, 0, fmt.Errorf("jsonfile: parse %s: %w", path, err)
	}
	return len(doc.Notes) > 0, len(doc.Notes), nil
}
