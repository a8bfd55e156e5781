package migrate

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

// memStore is a minimal in-memory backend for exercising the migrator,
// with per-id save failure injection.
type memStore struct {
	kind       store.Kind
	notes      map[string]*models.Note
	order      []string
	failSaves  map[string]error
	connectErr error
	saves      int
}

func newMemStore(kind store.Kind) *memStore {
	return &memStore{kind: kind, notes: map[string]*models.Note{}, failSaves: map[string]error{}}
}

func (m *memStore) Kind() store.Kind { return m.kind }

func (m *memStore) Connect(ctx context.Context) error { return m.connectErr }

func (m *memStore) Close() error { return nil }

func (m *memStore) LoadAll(ctx context.Context) ([]*models.Note, error) {
	out := make([]*models.Note, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.notes[id].Clone())
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, note *models.Note) error {
	m.saves++
	if err, ok := m.failSaves[note.ID.String()]; ok {
		return err
	}
	id := note.ID.String()
	if _, ok := m.notes[id]; !ok {
		m.order = append(m.order, id)
	}
	m.notes[id] = note.Clone()
	return nil
}

func (m *memStore) Delete(ctx context.Context, id models.NoteID) error {
	delete(m.notes, id.String())
	return nil
}

func (m *memStore) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	n, ok := m.notes[id.String()]
	if !ok {
		return nil, nil
	}
	return n.Clone(), nil
}

func (m *memStore) Count(ctx context.Context) (int, error) { return len(m.notes), nil }

func (m *memStore) add(t *testing.T, n *models.Note) *models.Note {
	t.Helper()
	require.NoError(t, m.Save(context.Background(), n))
	m.saves--
	return n
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

func TestRunMigratesEverything(t *testing.T) {
	src := newMemStore(store.KindLocalFile)
	dst := newMemStore(store.KindNetworkHTTP)
	a := src.add(t, note("a.go", 1))
	b := src.add(t, note("b.go", 2))

	var progress []int
	m := &Migrator{
		Source: src, Target: dst, Logger: zerolog.Nop(),
		Progress: func(done, total int) { progress = append(progress, done) },
	}
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 2, Migrated: 2}, res)
	assert.Equal(t, []int{1, 2}, progress)

	// Records arrive unmodified.
	got, err := dst.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, _ = dst.Get(context.Background(), b.ID)
	require.NotNil(t, got)
	assert.Nil(t, got.UpdatedAt, "migration must not touch update metadata")
}

func TestRunEmptySource(t *testing.T) {
	m := &Migrator{
		Source: newMemStore(store.KindLocalFile),
		Target: newMemStore(store.KindNetworkHTTP),
		Logger: zerolog.Nop(),
	}
	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.True(t, AtLeastOne(res), "nothing to migrate counts as success")
}

func TestRunContinuesPastRecordFailures(t *testing.T) {
	src := newMemStore(store.KindLocalFile)
	dst := newMemStore(store.KindNetworkHTTP)
	src.add(t, note("a.go", 1))
	bad := src.add(t, note("b.go", 2))
	src.add(t, note("c.go", 3))
	dst.failSaves[bad.ID.String()] = errors.New("remote rejected payload")

	m := &Migrator{Source: src, Target: dst, Logger: zerolog.Nop()}
	res, err := m.Run(context.Background())
	require.NoError(t, err, "record failures never abort the run")

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.ErrorContains(t, res.Errors[0], bad.ID.String())

	assert.True(t, AtLeastOne(res))
	assert.False(t, ZeroErrors(res))
}

func TestRunIsIdempotent(t *testing.T) {
	src := newMemStore(store.KindLocalFile)
	dst := newMemStore(store.KindNetworkHTTP)
	src.add(t, note("a.go", 1))
	src.add(t, note("b.go", 2))

	m := &Migrator{Source: src, Target: dst, Logger: zerolog.Nop()}
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	dst.saves = 0
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 2, Skipped: 2}, res)
	assert.Zero(t, dst.saves, "already-present records are not rewritten")
	assert.True(t, AtLeastOne(res))
}

func TestRunConnectFailure(t *testing.T) {
	src := newMemStore(store.KindLocalFile)
	dst := newMemStore(store.KindNetworkHTTP)
	dst.connectErr = errors.New("connection refused")

	m := &Migrator{Source: src, Target: dst, Logger: zerolog.Nop()}
	_, err := m.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connect target")
}

func TestPredicates(t *testing.T) {
	assert.True(t, AtLeastOne(Result{Total: 0}))
	assert.True(t, AtLeastOne(Result{Total: 3, Migrated: 1, Failed: 2}))
	assert.True(t, AtLeastOne(Result{Total: 3, Skipped: 3}))
	assert.False(t, AtLeastOne(Result{Total: 3, Failed: 3}))

	assert.True(t, ZeroErrors(Result{Total: 3, Migrated: 3}))
	assert.False(t, ZeroErrors(Result{Total: 3, Migrated: 2, Failed: 1}))
}
