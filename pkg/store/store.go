// Package store defines the uniform persistence interface implemented by
// every concrete note backend, plus the typed capability interfaces backends
// opt into.
//
// Four implementations exist:
//
//   - jsonfile: a single local JSON document with atomic writes
//   - sqlitestore: an embedded relational store on SQLite via GORM
//   - httpapi: a REST client for the screwnoted collaboration server
//   - surreal: a SurrealDB client with live-query change notifications
//
// Capabilities are discovered through type assertions against the interfaces
// below, never through probing struct fields.
package store

import (
	"context"
	"errors"

	"github.com/h0pes/screw.nvim-sub001/pkg/events"
	"github.com/h0pes/screw.nvim-sub001/pkg/models"
)

// Kind identifies a concrete backend implementation. The set is closed and
// validated at configuration time.
type Kind string

const (
	KindLocalFile   Kind = "local-file"
	KindLocalDB     Kind = "local-embedded-db"
	KindNetworkHTTP Kind = "network-http"
	KindNetworkDB   Kind = "network-db"
)

func (k Kind) Valid() bool {
	switch k {
	case KindLocalFile, KindLocalDB, KindNetworkHTTP, KindNetworkDB:
		return true
	}
	return false
}

// IsNetwork reports whether the backend talks to a remote service.
func (k Kind) IsNetwork() bool {
	return k == KindNetworkHTTP || k == KindNetworkDB
}

var (
	// ErrNotConnected is returned by operations invoked before Connect.
	ErrNotConnected = errors.New("store: not connected")
)

// Store is the uniform contract over a concrete persistence medium.
//
// Connect is idempotent and safe to call when already connected. Close must
// not fail on a store that never connected. Get returns (nil, nil) for a
// missing id; Delete of a missing id is a no-op success and cascades replies
// otherwise. Save is an upsert by note id and must be safe to call
// concurrently with LoadAll from the same process.
type Store interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Close() error
	LoadAll(ctx context.Context) ([]*models.Note, error)
	Save(ctx context.Context, note *models.Note) error
	Delete(ctx context.Context, id models.NoteID) error
	Get(ctx context.Context, id models.NoteID) (*models.Note, error)
	// Count returns the number of notes in the current workspace, via an
	// actual count query rather than an approximation.
	Count(ctx context.Context) (int, error)
}

// RealtimeStore is implemented by backends that can push remote change
// events. Subscribe starts the feed publishing into bus; start failure must
// leave the session functional in degraded mode, so callers treat the error
// as a downgrade, not a failure.
type RealtimeStore interface {
	Store
	Subscribe(ctx context.Context, bus *events.Bus) error
	Unsubscribe(ctx context.Context) error
	// IsListening reports whether the change feed is currently live.
	IsListening() bool
	// Reconnect re-dials and re-establishes the change feed. Bounded by ctx.
	Reconnect(ctx context.Context) error
}

// AutoSaveToggler is implemented by backends that can suppress intermediate
// durability during bulk operations. SetAutoSave returns the previous value
// so callers can restore it.
type AutoSaveToggler interface {
	SetAutoSave(enabled bool) (previous bool)
}

// WithAutoSaveDisabled runs fn with auto-save suppressed and restores the
// prior value even if fn panics.
func WithAutoSaveDisabled(s AutoSaveToggler, fn func() error) error {
	prev := s.SetAutoSave(false)
	defer s.SetAutoSave(prev)
	return fn()
}

// OfflineStatus describes a degraded network backend.
type OfflineStatus struct {
	Active       bool `json:"active"`
	QueuedWrites int  `json:"queued_writes"`
}

// OfflineReporter is implemented by backends that queue writes while the
// network is down.
type OfflineReporter interface {
	OfflineStatus() OfflineStatus
}
