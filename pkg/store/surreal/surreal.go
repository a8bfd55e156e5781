// Package surreal implements the network-db backend on SurrealDB. It is the
// only backend with server-side push: a live query on the note table streams
// commit-ordered change notifications, which Subscribe translates into bus
// events for connected clients.
package surreal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/h0pes/screw.nvim-sub001/pkg/events"
	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

const noteTable = "note"

// Config carries the connection parameters for the SurrealDB backend.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Store is the SurrealDB backend. It implements store.RealtimeStore and the
// health monitor's Channel contract (IsListening / Reconnect).
type Store struct {
	conf    Config
	project string
	logger  zerolog.Logger

	mu        sync.Mutex
	db        *surrealdb.DB
	bus       *events.Bus
	liveID    string
	listening bool
	stopCh    chan struct{}

	// seen tracks the last observed reply count per note id, so update
	// notifications that only grew the reply thread surface as
	// reply_created rather than note_updated.
	seen map[string]int
}

var _ store.Store = (*Store)(nil)
var _ store.RealtimeStore = (*Store)(nil)

func New(conf Config, projectName string, logger zerolog.Logger) *Store {
	return &Store{
		conf:    conf,
		project: projectName,
		logger:  logger.With().Str("store", "surreal").Logger(),
		seen:    make(map[string]int),
	}
}

func (s *Store) Kind() store.Kind { return store.KindNetworkDB }

// Connect dials the WebSocket endpoint, authenticates and selects the
// namespace/database. Idempotent.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.db = db
	s.logger.Debug().Str("url", s.conf.URL).Msg("connected")
	return nil
}

func (s *Store) dial(ctx context.Context) (*surrealdb.DB, error) {
	u, err := url.Parse(s.conf.URL)
	if err != nil {
		return nil, fmt.Errorf("surreal: parse URL: %w", err)
	}

	conf := connection.NewConfig(u)
	// The surrealcbor codec keeps time.Time and RecordID values in the
	// formats SurrealDB expects.
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	conn := gorillaws.New(conf)
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("surreal: connect: %w", err)
	}

	if s.conf.Username != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": s.conf.Username,
			"pass": s.conf.Password,
		}); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("surreal: sign in: %w", err)
		}
	}
	if err := db.Use(ctx, s.conf.Namespace, s.conf.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("surreal: use %s/%s: %w", s.conf.Namespace, s.conf.Database, err)
	}
	return db, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.stopFeedLocked()
	err := s.db.Close(context.Background())
	s.db = nil
	return err
}

func (s *Store) LoadAll(ctx context.Context) ([]*models.Note, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, store.ErrNotConnected
	}

	res, err := surrealdb.Query[[]*models.Note](ctx, db,
		"SELECT * FROM note WHERE project_name = $project",
		map[string]any{"project": s.project})
	if err != nil {
		return nil, fmt.Errorf("surreal: load notes: %w", err)
	}

	var notes []*models.Note
	if res != nil && len(*res) > 0 {
		notes = (*res)[0].Result
	}

	s.mu.Lock()
	for _, n := range notes {
		s.seen[n.ID.String()] = len(n.Replies)
	}
	s.mu.Unlock()
	return notes, nil
}

func (s *Store) Save(ctx context.Context, note *models.Note) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return store.ErrNotConnected
	}
	if err := note.Validate(); err != nil {
		return fmt.Errorf("surreal: %w", err)
	}

	stored := note.Clone()
	if stored.ProjectName == "" {
		stored.ProjectName = s.project
	}

	existing, err := s.Get(ctx, note.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := surrealdb.Create[models.Note](ctx, db, noteTable, stored); err != nil {
			return fmt.Errorf("surreal: create note: %w", err)
		}
	} else {
		stored.Timestamp = existing.Timestamp
		stored.Author = existing.Author
		stored.Version = existing.Version
		stored.Touch(time.Now())
		if _, err := surrealdb.Update[models.Note](ctx, db, note.ID.RecordID(), stored); err != nil {
			return fmt.Errorf("surreal: update note: %w", err)
		}
		note.UpdatedAt = stored.UpdatedAt
		note.Version = stored.Version
	}

	s.mu.Lock()
	s.seen[note.ID.String()] = len(stored.Replies)
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id models.NoteID) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return store.ErrNotConnected
	}
	// SurrealDB deletes are a no-op on unknown record ids, which matches
	// the store contract.
	if _, err := surrealdb.Delete[models.Note](ctx, db, id.RecordID()); err != nil {
		return fmt.Errorf("surreal: delete note: %w", err)
	}
	s.mu.Lock()
	delete(s.seen, id.String())
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, store.ErrNotConnected
	}
	note, err := surrealdb.Select[models.Note](ctx, db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("surreal: get note: %w", err)
	}
	if note == nil || note.ID.IsZero() {
		return nil, nil
	}
	return note, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, store.ErrNotConnected
	}

	type countRow struct {
		Count int `json:"count"`
	}
	res, err := surrealdb.Query[[]countRow](ctx, db,
		"SELECT count() FROM note WHERE project_name = $project GROUP ALL",
		map[string]any{"project": s.project})
	if err != nil {
		return 0, fmt.Errorf("surreal: count notes: %w", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return 0, nil
	}
	return (*res)[0].Result[0].Count, nil
}

// isNotFound recognizes the SDK's empty-result errors for Select on a
// missing record.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

// Subscribe starts the live query and pumps its notifications into bus until
// the channel closes or Unsubscribe is called. Failure to start leaves the
// session usable in degraded mode; the caller decides how to log it.
func (s *Store) Subscribe(ctx context.Context, bus *events.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return store.ErrNotConnected
	}
	if s.listening {
		return nil
	}
	s.bus = bus
	return s.startFeedLocked(ctx)
}

// startFeedLocked issues the live query and spawns the pump goroutine.
// Callers hold s.mu.
func (s *Store) startFeedLocked(ctx context.Context) error {
	live, err := surrealdb.Live(ctx, s.db, noteTable, false)
	if err != nil {
		return fmt.Errorf("surreal: start live query: %w", err)
	}
	liveID := live.String()

	ch, err := s.db.LiveNotifications(liveID)
	if err != nil {
		return fmt.Errorf("surreal: open notification channel: %w", err)
	}

	s.liveID = liveID
	s.listening = true
	s.stopCh = make(chan struct{})
	go s.pump(ch, s.stopCh)

	s.logger.Info().Str("live_id", liveID).Msg("live query started")
	return nil
}

func (s *Store) pump(ch chan connection.Notification, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case notification, ok := <-ch:
			if !ok {
				// Server closed the feed; the health monitor sees
				// IsListening() == false and drives reconnection.
				s.mu.Lock()
				s.listening = false
				s.mu.Unlock()
				s.logger.Warn().Msg("live notification channel closed")
				return
			}
			s.handleNotification(notification)
		}
	}
}

func (s *Store) handleNotification(n connection.Notification) {
	record, ok := n.Result.(map[string]any)
	if !ok {
		s.logger.Debug().Msgf("ignoring notification payload of type %T", n.Result)
		return
	}
	if project, _ := record["project_name"].(string); project != s.project {
		return
	}

	s.mu.Lock()
	bus := s.bus
	ev, track := s.translateLocked(n.Action, record)
	s.mu.Unlock()

	if bus == nil || !track {
		return
	}
	bus.Emit(ev)
}

// translateLocked maps a live-query notification onto a bus event. Update
// notifications whose only visible change is a longer reply thread surface
// as reply_created. Callers hold s.mu.
func (s *Store) translateLocked(action connection.Action, record map[string]any) (events.Event, bool) {
	ev := events.Event{
		NoteID:     recordIDString(record["id"]),
		FilePath:   asString(record["file_path"]),
		LineNumber: asInt(record["line_number"]),
		Author:     asString(record["author"]),
		Version:    asInt(record["version"]),
	}

	replies, _ := record["replies"].([]any)

	switch action {
	case connection.CreateAction:
		ev.Type = events.NoteCreated
		s.seen[ev.NoteID] = len(replies)
	case connection.UpdateAction:
		prev, known := s.seen[ev.NoteID]
		if known && len(replies) > prev {
			ev.Type = events.ReplyCreated
			if last, ok := replies[len(replies)-1].(map[string]any); ok {
				ev.ReplyID = recordIDString(last["id"])
				ev.Author = asString(last["author"])
			}
		} else {
			ev.Type = events.NoteUpdated
		}
		s.seen[ev.NoteID] = len(replies)
	case connection.DeleteAction:
		ev.Type = events.NoteDeleted
		delete(s.seen, ev.NoteID)
	default:
		return events.Event{}, false
	}
	return ev, true
}

// Unsubscribe kills the live query and stops the pump.
func (s *Store) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.liveID == "" {
		return nil
	}
	err := surrealdb.Kill(ctx, s.db, s.liveID)
	s.stopFeedLocked()
	if err != nil {
		return fmt.Errorf("surreal: kill live query: %w", err)
	}
	return nil
}

func (s *Store) stopFeedLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.liveID = ""
	s.listening = false
}

// IsListening reports whether the change feed is live. The health monitor
// polls it to detect disconnection.
func (s *Store) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Reconnect tears the session down and dials again, re-issuing the live
// query when a subscription was active. The health monitor calls it on its
// retry schedule.
func (s *Store) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopFeedLocked()
	if s.db != nil {
		s.db.Close(ctx)
		s.db = nil
	}

	db, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.db = db

	if s.bus != nil {
		if err := s.startFeedLocked(ctx); err != nil {
			return err
		}
	}
	s.logger.Info().Msg("reconnected")
	return nil
}

// recordIDString renders either a RecordID or a plain string id as the bare
// uuid string.
func recordIDString(v any) string {
	switch id := v.(type) {
	case surrealdb_models.RecordID:
		return fmt.Sprintf("%v", id.ID)
	case *surrealdb_models.RecordID:
		return fmt.Sprintf("%v", id.ID)
	case string:
		return id
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
