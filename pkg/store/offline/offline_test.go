package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

var errDown = errors.New("connection refused")

// flakyStore simulates a network backend whose reachability can be toggled
// mid-test.
type flakyStore struct {
	down  bool
	notes map[string]*models.Note
	saves []string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{notes: map[string]*models.Note{}}
}

func (f *flakyStore) Kind() store.Kind { return store.KindNetworkHTTP }

func (f *flakyStore) Connect(ctx context.Context) error {
	if f.down {
		return errDown
	}
	return nil
}

func (f *flakyStore) Close() error { return nil }

func (f *flakyStore) LoadAll(ctx context.Context) ([]*models.Note, error) {
	if f.down {
		return nil, errDown
	}
	out := make([]*models.Note, 0, len(f.notes))
	for _, n := range f.notes {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (f *flakyStore) Save(ctx context.Context, note *models.Note) error {
	if f.down {
		return errDown
	}
	f.saves = append(f.saves, note.ID.String())
	f.notes[note.ID.String()] = note.Clone()
	return nil
}

func (f *flakyStore) Delete(ctx context.Context, id models.NoteID) error {
	if f.down {
		return errDown
	}
	f.saves = append(f.saves, "delete:"+id.String())
	delete(f.notes, id.String())
	return nil
}

func (f *flakyStore) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	if f.down {
		return nil, errDown
	}
	n, ok := f.notes[id.String()]
	if !ok {
		return nil, nil
	}
	return n.Clone(), nil
}

func (f *flakyStore) Count(ctx context.Context) (int, error) {
	if f.down {
		return 0, errDown
	}
	return len(f.notes), nil
}

func note(file string, line int) *models.Note {
	return &models.Note{
		ID:         models.NewNoteID(),
		FilePath:   file,
		LineNumber: line,
		Author:     "marco",
		Timestamp:  time.Now().UTC(),
		Comment:    "finding",
		State:      models.StateTodo,
		Source:     models.SourceNative,
		Version:    1,
	}
}

func TestWriteThroughWhileOnline(t *testing.T) {
	ctx := context.Background()
	inner := newFlakyStore()
	s := Wrap(inner, zerolog.Nop())

	n := note("a.go", 1)
	require.NoError(t, s.Save(ctx, n))

	st := s.OfflineStatus()
	assert.False(t, st.Active)
	assert.Zero(t, st.QueuedWrites)
	assert.Len(t, inner.saves, 1)
}

func TestDegradedReadsActivateOfflineStatus(t *testing.T) {
	ctx := context.Background()
	inner := newFlakyStore()
	s := Wrap(inner, zerolog.Nop())

	n := note("a.go", 1)
	require.NoError(t, s.Save(ctx, n))
	_, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.False(t, s.OfflineStatus().Active)

	// No write has failed yet, but reads already run off the snapshot.
	inner.down = true
	got, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	st := s.OfflineStatus()
	assert.True(t, st.Active)
	assert.Zero(t, st.QueuedWrites)
}

func TestQueueWhileDownAndFlush(t *testing.T) {
	ctx := context.Background()
	inner := newFlakyStore()
	s := Wrap(inner, zerolog.Nop())

	seeded := note("seed.go", 1)
	require.NoError(t, s.Save(ctx, seeded))
	_, err := s.LoadAll(ctx)
	require.NoError(t, err)

	inner.down = true

	// Writes keep succeeding from the caller's point of view.
	queued := note("a.go", 10)
	require.NoError(t, s.Save(ctx, queued))
	require.NoError(t, s.Delete(ctx, seeded.ID))

	st := s.OfflineStatus()
	assert.True(t, st.Active)
	assert.Equal(t, 2, st.QueuedWrites)

	// Reads serve the snapshot with queued mutations applied.
	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, queued.ID, all[0].ID)

	got, err := s.Get(ctx, queued.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Reconnect and replay, in order.
	inner.down = false
	inner.saves = nil
	require.NoError(t, s.Flush(ctx))

	st = s.OfflineStatus()
	assert.False(t, st.Active)
	assert.Zero(t, st.QueuedWrites)
	assert.Equal(t, []string{queued.ID.String(), "delete:" + seeded.ID.String()}, inner.saves)

	remote, err := inner.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.NotNil(t, remote)
	gone, err := inner.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	inner := newFlakyStore()
	s := Wrap(inner, zerolog.Nop())

	inner.down = true
	first := note("a.go", 1)
	second := note("b.go", 2)
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	// Remote still down: nothing drains, everything stays queued.
	err := s.Flush(ctx)
	require.Error(t, err)
	st := s.OfflineStatus()
	assert.True(t, st.Active)
	assert.Equal(t, 2, st.QueuedWrites)

	inner.down = false
	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, s.OfflineStatus().QueuedWrites)
}

func TestErrorsPassThroughBeforeFirstFailure(t *testing.T) {
	// A read error without established offline state (no snapshot yet) is
	// surfaced, not masked.
	inner := newFlakyStore()
	inner.down = true
	s := Wrap(inner, zerolog.Nop())

	_, err := s.LoadAll(context.Background())
	assert.ErrorIs(t, err, errDown)
}

func TestQueueLimit(t *testing.T) {
	ctx := context.Background()
	inner := newFlakyStore()
	inner.down = true
	s := Wrap(inner, zerolog.Nop())
	s.limit = 2

	require.NoError(t, s.Save(ctx, note("a.go", 1)))
	require.NoError(t, s.Save(ctx, note("b.go", 2)))

	err := s.Save(ctx, note("c.go", 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, s.OfflineStatus().QueuedWrites)
}
