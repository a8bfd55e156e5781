// Package screwnote wires the storage-mode coordination engine into one
// session object: mode detection, migration, backend selection, the change
// notification channel and the connection health monitor.
//
// An App is an explicit per-workspace value; nothing in this package is
// process-global, so multiple workspaces and test runs never interfere.
package screwnote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/config"
	"github.com/h0pes/screw.nvim-sub001/pkg/events"
	"github.com/h0pes/screw.nvim-sub001/pkg/health"
	"github.com/h0pes/screw.nvim-sub001/pkg/migrate"
	"github.com/h0pes/screw.nvim-sub001/pkg/mode"
	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/httpapi"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/jsonfile"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/offline"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/sqlitestore"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/surreal"
)

// ErrNotCollaborative is returned by operations that only make sense against
// a shared backend.
var ErrNotCollaborative = errors.New("screwnote: session is not collaborative")

// Confirmer approves destructive or mode-changing operations. Non-interactive
// sessions use AlwaysConfirm or the force flag.
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, message string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, message string) bool { return f(ctx, message) }

// AlwaysConfirm approves everything.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) bool { return true })

// RealtimeStatus describes the change channel for the status surface.
type RealtimeStatus struct {
	Supported bool                `json:"supported"`
	State     string              `json:"state"`
	Offline   store.OfflineStatus `json:"offline"`
}

// Status is the session snapshot exposed to UI and CLI layers.
type Status struct {
	Initialized bool                  `json:"initialized"`
	Mode        mode.Mode             `json:"mode"`
	Detection   *mode.DetectionResult `json:"detection_result,omitempty"`
	Realtime    *RealtimeStatus       `json:"realtime_sync_status,omitempty"`
}

// StorageStats summarizes the active backend.
type StorageStats struct {
	Backend    store.Kind `json:"backend"`
	NotesCount int        `json:"notes_count"`
	UserID     string     `json:"user_id,omitempty"`
}

// App owns one workspace session.
type App struct {
	cfg      *config.Config
	logger   zerolog.Logger
	bus      *events.Bus
	prompter mode.Prompter
	confirm  Confirmer

	mu          sync.Mutex
	active      store.Store
	offline     *offline.Store
	realtime    store.RealtimeStore
	monitor     *health.Monitor
	detection   *mode.DetectionResult
	currentMode mode.Mode
	initialized bool
}

// Option configures an App.
type Option func(*App)

// WithPrompter sets the mode-detection prompter. The default never prompts
// and always picks local.
func WithPrompter(p mode.Prompter) Option {
	return func(a *App) { a.prompter = p }
}

// WithConfirmer sets the confirmation hook for SwitchMode.
func WithConfirmer(c Confirmer) Option {
	return func(a *App) { a.confirm = c }
}

func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		logger:   logger.With().Str("component", "app").Logger(),
		bus:      events.New(logger),
		prompter: mode.DefaultPrompter{Default: mode.ChooseLocal},
		confirm:  AlwaysConfirm,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bus exposes the change-notification bus for consumers to register
// handlers on.
func (a *App) Bus() *events.Bus { return a.bus }

// Store returns the active backend. Valid only after Setup.
func (a *App) Store() store.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Setup resolves the storage mode, migrates if required and opens the
// backend for the session. Only configuration errors abort it; connectivity
// problems degrade and are reported through Status.
func (a *App) Setup(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	res, err := a.detect(ctx)
	if err != nil {
		return err
	}
	a.detection = res

	mode.Apply(a.cfg, res)

	if res.MigrationNeeded {
		if err := a.runDetectionMigration(ctx, res); err != nil {
			// Overall migration failure forces local mode rather than an
			// inconsistent session.
			a.logger.Error().Err(err).Msg("migration failed, falling back to local mode")
			res.Mode = mode.ModeLocal
			res.Reason = "migration failed, forced local"
			mode.Apply(a.cfg, res)
		}
	}

	if err := a.openLocked(ctx, res.Mode); err != nil {
		return err
	}

	a.currentMode = res.Mode
	a.initialized = true
	a.logger.Info().
		Str("mode", string(res.Mode)).
		Str("backend", string(a.cfg.Backend)).
		Str("reason", res.Reason).
		Msg("session initialized")
	return nil
}

// detect returns the detection result, honoring an explicit configuration
// pin. Pinned collaborative mode with missing credentials is the one fatal
// path here.
func (a *App) detect(ctx context.Context) (*mode.DetectionResult, error) {
	if pinned, _ := a.cfg.CollaborationPinned(); pinned {
		res, err := mode.Pinned(a.cfg)
		if err != nil {
			return nil, fmt.Errorf("screwnote: setup aborted: %w", err)
		}
		return res, nil
	}

	detector := &mode.Detector{
		Local:    a.localProber(),
		Remote:   a.remoteProber(),
		Prompter: a.prompter,
		Logger:   a.logger,
	}
	return detector.Detect(ctx), nil
}

func (a *App) localProber() mode.Prober {
	if a.cfg.LocalKind() == store.KindLocalDB {
		return mode.StoreProber{
			Store:  sqlitestore.New(a.cfg.DBFile, a.cfg.ProjectName, a.logger),
			Logger: a.logger,
		}
	}
	return mode.ProbeFunc(func(ctx context.Context) mode.ProbeResult {
		found, count, err := jsonfile.Exists(a.cfg.NotesFile)
		if err != nil {
			a.logger.Warn().Err(err).Msg("local probe failed")
			return mode.ProbeResult{Available: true}
		}
		return mode.ProbeResult{Available: true, Found: found, Count: count}
	})
}

func (a *App) remoteProber() mode.Prober {
	kind, ok := a.cfg.RemoteKind()
	if !ok {
		// No endpoint configured at all: the remote side is simply not
		// available, which drives the local-only branches.
		return mode.ProbeFunc(func(context.Context) mode.ProbeResult {
			return mode.ProbeResult{}
		})
	}
	probe, err := a.newStore(kind)
	if err != nil {
		return mode.ProbeFunc(func(context.Context) mode.ProbeResult {
			return mode.ProbeResult{}
		})
	}
	return mode.ProbeFunc(func(ctx context.Context) mode.ProbeResult {
		defer probe.Close()
		return mode.StoreProber{Store: probe, Logger: a.logger}.Probe(ctx)
	})
}

// newStore builds a backend for the given kind. The switch is closed over
// the validated enum; an unexpected value is a programming error surfaced
// immediately.
func (a *App) newStore(kind store.Kind) (store.Store, error) {
	switch kind {
	case store.KindLocalFile:
		return jsonfile.New(a.cfg.NotesFile, a.cfg.ProjectName, a.logger), nil
	case store.KindLocalDB:
		return sqlitestore.New(a.cfg.DBFile, a.cfg.ProjectName, a.logger), nil
	case store.KindNetworkHTTP:
		return httpapi.New(a.cfg.APIURL, a.cfg.ProjectName, a.cfg.UserEmail, a.logger), nil
	case store.KindNetworkDB:
		return surreal.New(surreal.Config{
			URL:       a.cfg.DBURL,
			Namespace: a.cfg.DBNamespace,
			Database:  a.cfg.DBName,
			Username:  a.cfg.DBUser,
			Password:  a.cfg.DBPass,
		}, a.cfg.ProjectName, a.logger), nil
	default:
		return nil, fmt.Errorf("screwnote: unsupported backend kind %q", kind)
	}
}

func (a *App) runDetectionMigration(ctx context.Context, res *mode.DetectionResult) error {
	remoteKind, ok := a.cfg.RemoteKind()
	if !ok {
		return fmt.Errorf("screwnote: migration requested but no remote endpoint configured")
	}
	local, err := a.newStore(a.cfg.LocalKind())
	if err != nil {
		return err
	}
	remote, err := a.newStore(remoteKind)
	if err != nil {
		return err
	}
	defer local.Close()
	defer remote.Close()

	m := &migrate.Migrator{Logger: a.logger}
	switch res.Direction {
	case mode.DirectionLocalToRemote:
		m.Source, m.Target = local, remote
	case mode.DirectionRemoteToLocal:
		m.Source, m.Target = remote, local
	default:
		return fmt.Errorf("screwnote: unknown migration direction %q", res.Direction)
	}

	result, err := m.Run(ctx)
	if err != nil {
		return err
	}
	if !migrate.AtLeastOne(result) {
		return fmt.Errorf("screwnote: migration made no progress: %s", result)
	}
	return nil
}

// openLocked opens the active backend for the resolved mode and starts the
// realtime machinery for collaborative sessions. Callers hold a.mu.
func (a *App) openLocked(ctx context.Context, m mode.Mode) error {
	s, err := a.newStore(a.cfg.Backend)
	if err != nil {
		return err
	}

	if rs, ok := s.(store.RealtimeStore); ok {
		a.realtime = rs
	}

	if s.Kind().IsNetwork() {
		wrapped := offline.Wrap(s, a.logger)
		if err := wrapped.Connect(ctx); err != nil {
			// The session still works: writes queue until the health
			// monitor brings the connection back.
			a.logger.Warn().Err(err).Msg("backend unreachable at setup, starting offline")
		}
		a.offline = wrapped
		a.active = wrapped
	} else {
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("screwnote: open backend: %w", err)
		}
		a.active = s
	}

	if m == mode.ModeCollaborative && a.realtime != nil {
		if err := a.realtime.Subscribe(ctx, a.bus); err != nil {
			// Degraded collaborative mode: no push, manual SyncNow still
			// works. The health monitor keeps retrying.
			a.logger.Warn().Err(err).Msg("real-time channel failed to start, continuing degraded")
		}
		a.monitor = health.NewMonitor(a.realtime, a.logger)
		a.monitor.OnReconnect = func(ctx context.Context) {
			if a.offline != nil {
				if err := a.offline.Flush(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("offline queue flush incomplete")
				}
			}
		}
		if err := a.monitor.Start(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("health monitor failed to start")
		}
	}
	return nil
}

// Status reports the session state for UI/CLI consumption.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Initialized: a.initialized,
		Mode:        a.currentMode,
		Detection:   a.detection,
	}
	if a.currentMode == mode.ModeCollaborative {
		rt := &RealtimeStatus{Supported: a.realtime != nil, State: "disabled"}
		if a.monitor != nil {
			rt.State = a.monitor.State().String()
		}
		if a.offline != nil {
			rt.Offline = a.offline.OfflineStatus()
		}
		st.Realtime = rt
	}
	return st
}

// StorageStats queries the active backend for its note count.
func (a *App) StorageStats(ctx context.Context) (StorageStats, error) {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return StorageStats{}, fmt.Errorf("screwnote: session not initialized")
	}

	count, err := active.Count(ctx)
	if err != nil {
		return StorageStats{}, err
	}
	stats := StorageStats{
		Backend:    active.Kind(),
		NotesCount: count,
	}
	if active.Kind().IsNetwork() {
		stats.UserID = a.cfg.UserEmail
	}
	return stats, nil
}

// SyncNow reloads the full note set from the shared backend. It is the
// manual refresh for collaborative sessions, and the only refresh for
// polling backends without push support.
func (a *App) SyncNow(ctx context.Context) ([]*models.Note, error) {
	a.mu.Lock()
	active := a.active
	m := a.currentMode
	monitor := a.monitor
	a.mu.Unlock()

	if active == nil {
		return nil, fmt.Errorf("screwnote: session not initialized")
	}
	if m != mode.ModeCollaborative {
		return nil, ErrNotCollaborative
	}
	if monitor != nil {
		monitor.Poke()
	}
	return active.LoadAll(ctx)
}

// Poke forwards a foreground-focus signal to the health monitor.
func (a *App) Poke() {
	a.mu.Lock()
	monitor := a.monitor
	a.mu.Unlock()
	if monitor != nil {
		monitor.Poke()
	}
}

// SwitchMode moves the session to the target mode, migrating the current
// data set across. Unless force is set, the confirmer must approve. A failed
// migration aborts the switch and keeps the current backend.
func (a *App) SwitchMode(ctx context.Context, target mode.Mode, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return fmt.Errorf("screwnote: session not initialized")
	}
	if target == a.currentMode {
		return nil
	}
	if target == mode.ModeCollaborative {
		if _, ok := a.cfg.RemoteKind(); !ok {
			return fmt.Errorf("screwnote: cannot switch to collaborative: no remote endpoint configured (set %s or %s)",
				config.EnvAPIURL, config.EnvDBURL)
		}
		if a.cfg.UserEmail == "" {
			return fmt.Errorf("screwnote: cannot switch to collaborative: set %s", config.EnvUserEmail)
		}
	}

	if !force {
		msg := fmt.Sprintf("switch storage mode from %s to %s and migrate %d-note working set?",
			a.currentMode, target, a.countActiveLocked(ctx))
		if !a.confirm.Confirm(ctx, msg) {
			return fmt.Errorf("screwnote: mode switch cancelled")
		}
	}

	var targetKind store.Kind
	if target == mode.ModeCollaborative {
		targetKind, _ = a.cfg.RemoteKind()
	} else {
		targetKind = a.cfg.LocalKind()
	}
	targetStore, err := a.newStore(targetKind)
	if err != nil {
		return err
	}

	m := &migrate.Migrator{Source: a.active, Target: targetStore, Logger: a.logger}
	result, err := m.Run(ctx)
	if err != nil {
		targetStore.Close()
		return fmt.Errorf("screwnote: mode switch migration: %w", err)
	}
	if !migrate.ZeroErrors(result) {
		targetStore.Close()
		return fmt.Errorf("screwnote: mode switch aborted, migration incomplete: %s", result)
	}
	// openLocked builds its own instance from the updated configuration.
	targetStore.Close()

	a.teardownLocked(ctx)

	res := &mode.DetectionResult{
		Mode:   target,
		Reason: "user switched mode",
	}
	mode.Apply(a.cfg, res)
	a.detection = res
	a.currentMode = target
	a.active = nil
	a.offline = nil
	a.realtime = nil
	a.monitor = nil

	if err := a.openLocked(ctx, target); err != nil {
		return err
	}
	a.logger.Info().Str("mode", string(target)).Msg("mode switched")
	return nil
}

// Migrate runs an explicit one-off migration in the given direction,
// independent of the active session backend. Existing target notes are left
// untouched, so re-running is safe.
func (a *App) Migrate(ctx context.Context, direction mode.Direction) (migrate.Result, error) {
	remoteKind, ok := a.cfg.RemoteKind()
	if !ok {
		return migrate.Result{}, fmt.Errorf("screwnote: no remote endpoint configured (set %s or %s)",
			config.EnvAPIURL, config.EnvDBURL)
	}
	local, err := a.newStore(a.cfg.LocalKind())
	if err != nil {
		return migrate.Result{}, err
	}
	remote, err := a.newStore(remoteKind)
	if err != nil {
		return migrate.Result{}, err
	}
	defer local.Close()
	defer remote.Close()

	m := &migrate.Migrator{Logger: a.logger}
	switch direction {
	case mode.DirectionLocalToRemote:
		m.Source, m.Target = local, remote
	case mode.DirectionRemoteToLocal:
		m.Source, m.Target = remote, local
	default:
		return migrate.Result{}, fmt.Errorf("screwnote: unknown migration direction %q", direction)
	}
	return m.Run(ctx)
}

func (a *App) countActiveLocked(ctx context.Context) int {
	if a.active == nil {
		return 0
	}
	count, err := a.active.Count(ctx)
	if err != nil {
		return 0
	}
	return count
}

func (a *App) teardownLocked(ctx context.Context) {
	if a.monitor != nil {
		a.monitor.Cleanup()
	}
	if a.realtime != nil {
		if err := a.realtime.Unsubscribe(ctx); err != nil {
			a.logger.Debug().Err(err).Msg("unsubscribe on teardown")
		}
	}
	if a.active != nil {
		if err := a.active.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("close backend on teardown")
		}
	}
}

// Close releases the session's backend, channel and monitor.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked(context.Background())
	a.active = nil
	a.offline = nil
	a.realtime = nil
	a.monitor = nil
	a.initialized = false
	return nil
}
