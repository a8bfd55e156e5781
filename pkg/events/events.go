// Package events implements the change-notification bus that fans remote
// create/update/delete events out to session consumers.
//
// Delivery preserves the order in which the backend emits events and performs
// no deduplication; consumers must tolerate at-least-once semantics across
// channel reconnects. A failing or panicking handler is reported per-handler
// and never stops delivery to the remaining handlers.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Type enumerates the events carried by the channel.
type Type string

const (
	NoteCreated  Type = "note_created"
	NoteUpdated  Type = "note_updated"
	NoteDeleted  Type = "note_deleted"
	ReplyCreated Type = "reply_created"
)

// Event is the structured payload delivered to handlers.
type Event struct {
	Type       Type   `json:"type"`
	NoteID     string `json:"note_id"`
	ReplyID    string `json:"reply_id,omitempty"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Author     string `json:"author"`
	// Version is set on note_updated events so consumers can discard
	// redeliveries of versions they have already applied.
	Version int `json:"version,omitempty"`
}

// Handler consumes one event. Returning an error marks the delivery failed
// for this handler only.
type Handler func(Event) error

// HandlerError reports one handler's failure during Emit.
type HandlerError struct {
	Type Type
	ID   int
	Err  error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("events: handler %d for %s: %v", e.ID, e.Type, e.Err)
}

type registration struct {
	id int
	fn Handler
}

// Bus is a typed publish/subscribe channel scoped to one workspace session.
// The zero value is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Type][]registration
	logger   zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]registration),
		logger:   logger,
	}
}

// On registers handler for events of type t and returns a function that
// removes the registration. Handlers stay registered until removed.
func (b *Bus) On(t Type, handler Handler) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], registration{id: id, fn: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.handlers[t]
		for i, r := range regs {
			if r.id == id {
				b.handlers[t] = append(regs[:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to every handler registered for its type, in registration
// order. Handler errors and panics are collected and logged; delivery always
// reaches every handler.
func (b *Bus) Emit(ev Event) []HandlerError {
	b.mu.RLock()
	regs := make([]registration, len(b.handlers[ev.Type]))
	copy(regs, b.handlers[ev.Type])
	b.mu.RUnlock()

	var failed []HandlerError
	for _, r := range regs {
		if err := b.dispatch(r, ev); err != nil {
			he := HandlerError{Type: ev.Type, ID: r.id, Err: err}
			failed = append(failed, he)
			b.logger.Error().
				Str("event", string(ev.Type)).
				Int("handler", r.id).
				Err(err).
				Msg("event handler failed")
		}
	}
	return failed
}

func (b *Bus) dispatch(r registration, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.fn(ev)
}

// HandlerCount returns the number of handlers registered for t.
func (b *Bus) HandlerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
