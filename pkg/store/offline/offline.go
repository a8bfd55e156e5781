// Package offline wraps a network backend with a local write queue so a
// collaborative session keeps accepting writes while the remote store is
// unreachable.
//
// Failed writes are queued in order and replayed by Flush once connectivity
// returns, typically from the health monitor's reconnect hook. Reads fall
// back to the last successfully loaded snapshot with queued mutations
// applied, so the editor keeps a consistent view. A full queue surfaces an
// explicit error; writes are never dropped silently.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// DefaultQueueLimit bounds the number of queued writes.
const DefaultQueueLimit = 1000

// ErrQueueFull is returned when a write cannot even be queued locally.
var ErrQueueFull = errors.New("offline: write queue is full")

type opKind int

const (
	opSave opKind = iota
	opDelete
)

type queuedOp struct {
	kind opKind
	note *models.Note
	id   models.NoteID
}

// Store decorates a network store with offline write queuing. It implements
// store.Store and store.OfflineReporter.
type Store struct {
	inner  store.Store
	limit  int
	logger zerolog.Logger

	mu       sync.Mutex
	offline  bool
	queue    []queuedOp
	snapshot map[string]*models.Note
	order    []string
}

var _ store.Store = (*Store)(nil)
var _ store.OfflineReporter = (*Store)(nil)

func Wrap(inner store.Store, logger zerolog.Logger) *Store {
	return &Store{
		inner:    inner,
		limit:    DefaultQueueLimit,
		logger:   logger.With().Str("store", "offline").Logger(),
		snapshot: make(map[string]*models.Note),
	}
}

func (s *Store) Kind() store.Kind { return s.inner.Kind() }

func (s *Store) Connect(ctx context.Context) error {
	return s.inner.Connect(ctx)
}

func (s *Store) Close() error {
	return s.inner.Close()
}

// LoadAll prefers the remote set and refreshes the snapshot from it. While
// offline it serves the snapshot instead of failing.
func (s *Store) LoadAll(ctx context.Context) ([]*models.Note, error) {
	notes, err := s.inner.LoadAll(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.offline && len(s.snapshot) == 0 {
			return nil, err
		}
		// Reads are degraded from here on, not just writes.
		if !s.offline {
			s.offline = true
			s.logger.Warn().Err(err).Msg("remote unreachable, serving snapshot")
		} else {
			s.logger.Warn().Err(err).Msg("serving snapshot while offline")
		}
		out := make([]*models.Note, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.snapshot[id].Clone())
		}
		return out, nil
	}

	s.mu.Lock()
	s.snapshot = make(map[string]*models.Note, len(notes))
	s.order = s.order[:0]
	for _, n := range notes {
		s.snapshot[n.ID.String()] = n.Clone()
		s.order = append(s.order, n.ID.String())
	}
	s.mu.Unlock()
	return notes, nil
}

// Save writes through when the remote is reachable. On failure the write is
// queued locally and the store flips to offline; the caller's save still
// succeeds.
func (s *Store) Save(ctx context.Context, note *models.Note) error {
	if err := s.inner.Save(ctx, note); err != nil {
		return s.enqueue(queuedOp{kind: opSave, note: note.Clone()}, err)
	}
	s.mu.Lock()
	s.applySaveLocked(note)
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id models.NoteID) error {
	if err := s.inner.Delete(ctx, id); err != nil {
		return s.enqueue(queuedOp{kind: opDelete, id: id}, err)
	}
	s.mu.Lock()
	s.applyDeleteLocked(id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	note, err := s.inner.Get(ctx, id)
	if err == nil {
		return note, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.offline {
		return nil, err
	}
	if n, ok := s.snapshot[id.String()]; ok {
		return n.Clone(), nil
	}
	return nil, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.inner.Count(ctx)
	if err == nil {
		return count, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.offline {
		return 0, err
	}
	return len(s.snapshot), nil
}

func (s *Store) enqueue(op queuedOp, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.limit {
		return fmt.Errorf("%w (%d writes pending): %v", ErrQueueFull, len(s.queue), cause)
	}

	if !s.offline {
		s.offline = true
		s.logger.Warn().Err(cause).Msg("remote unreachable, queuing writes")
	}
	s.queue = append(s.queue, op)

	switch op.kind {
	case opSave:
		s.applySaveLocked(op.note)
	case opDelete:
		s.applyDeleteLocked(op.id)
	}
	return nil
}

func (s *Store) applySaveLocked(note *models.Note) {
	id := note.ID.String()
	if _, ok := s.snapshot[id]; !ok {
		s.order = append(s.order, id)
	}
	s.snapshot[id] = note.Clone()
}

func (s *Store) applyDeleteLocked(id models.NoteID) {
	key := id.String()
	if _, ok := s.snapshot[key]; !ok {
		return
	}
	delete(s.snapshot, key)
	for i, oid := range s.order {
		if oid == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Flush replays queued writes in order. The first failing operation stays
// queued along with everything after it; a fully drained queue clears the
// offline flag. The health monitor calls Flush from its reconnect hook.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for i, op := range pending {
		var err error
		switch op.kind {
		case opSave:
			err = s.inner.Save(ctx, op.note)
		case opDelete:
			err = s.inner.Delete(ctx, op.id)
		}
		if err != nil {
			s.mu.Lock()
			s.queue = append(pending[i:], s.queue...)
			s.mu.Unlock()
			return fmt.Errorf("offline: flush stopped with %d writes pending: %w", len(pending)-i, err)
		}
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		if s.offline {
			s.logger.Info().Int("flushed", len(pending)).Msg("write queue drained, back online")
		}
		s.offline = false
	}
	s.mu.Unlock()
	return nil
}

// OfflineStatus reports the degraded-mode state for the status surface.
func (s *Store) OfflineStatus() store.OfflineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.OfflineStatus{
		Active:       s.offline,
		QueuedWrites: len(s.queue),
	}
}
