package screwnote

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/h0pes/screw.nvim-sub001/pkg/config"
	"github.com/h0pes/screw.nvim-sub001/pkg/health"
	"github.com/h0pes/screw.nvim-sub001/pkg/mode"
	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/server"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
	"github.com/h0pes/screw.nvim-sub001/pkg/store/jsonfile"
)

// The health monitor watches the session's real-time store directly, so the
// store capability must satisfy the monitor's channel contract.
var _ health.Channel = store.RealtimeStore(nil)

type countingPrompter struct {
	choice mode.Choice
	calls  int
}

func (p *countingPrompter) ChooseMode(ctx context.Context, reason string, options []mode.Choice) mode.Choice {
	p.calls++
	return p.choice
}

func workspaceConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Backend:     store.KindLocalFile,
		ProjectName: "audit",
		NotesFile:   filepath.Join(dir, ".screwnote", "notes.json"),
		DBFile:      filepath.Join(dir, ".screwnote", "notes.db"),
	}
}

// startServer runs a collaboration server on an embedded database and
// returns its base URL.
func startServer(t *testing.T) string {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	srv, err := server.New(db, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func seedLocalNotes(t *testing.T, cfg *config.Config, n int) {
	t.Helper()
	s := jsonfile.New(cfg.NotesFile, cfg.ProjectName, zerolog.Nop())
	require.NoError(t, s.Connect(context.Background()))
	for i := 0; i < n; i++ {
		require.NoError(t, s.Save(context.Background(), &models.Note{
			ID:         models.NewNoteID(),
			FilePath:   "a.go",
			LineNumber: i + 1,
			Author:     "marco",
			Timestamp:  time.Now().UTC(),
			Comment:    "seeded finding",
			State:      models.StateTodo,
			Source:     models.SourceNative,
			Version:    1,
		}))
	}
	require.NoError(t, s.Close())
}

func TestSetupFreshWorkspaceDefaultsLocal(t *testing.T) {
	cfg := workspaceConfig(t)
	prompter := &countingPrompter{choice: mode.ChooseLocal}
	app := New(cfg, zerolog.Nop(), WithPrompter(prompter))
	defer app.Close()

	require.NoError(t, app.Setup(context.Background()))

	st := app.Status()
	assert.True(t, st.Initialized)
	assert.Equal(t, mode.ModeLocal, st.Mode)
	require.NotNil(t, st.Detection)
	assert.Equal(t, "new workspace, no remote", st.Detection.Reason)
	assert.Zero(t, prompter.calls, "nothing ambiguous to ask about")
	assert.Nil(t, st.Realtime, "local sessions have no realtime block")
	assert.Equal(t, store.KindLocalFile, cfg.Backend)

	// A second Setup is a no-op.
	require.NoError(t, app.Setup(context.Background()))
}

func TestSetupLocalNotesUnreachableRemote(t *testing.T) {
	cfg := workspaceConfig(t)
	cfg.APIURL = "http://127.0.0.1:1"
	cfg.UserEmail = "marco@example.com"
	seedLocalNotes(t, cfg, 5)

	prompter := &countingPrompter{choice: mode.ChooseCollaborative}
	app := New(cfg, zerolog.Nop(), WithPrompter(prompter))
	defer app.Close()

	require.NoError(t, app.Setup(context.Background()))

	st := app.Status()
	assert.Equal(t, mode.ModeLocal, st.Mode)
	assert.Equal(t, "no remote available", st.Detection.Reason)
	assert.Equal(t, 5, st.Detection.LocalCount)
	assert.Zero(t, prompter.calls)

	stats, err := app.StorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.KindLocalFile, stats.Backend)
	assert.Equal(t, 5, stats.NotesCount)
	assert.Empty(t, stats.UserID, "local stats carry no shared identity")
}

func TestSetupPinnedCollaborativeWithoutCredentials(t *testing.T) {
	cfg := workspaceConfig(t)
	on := true
	cfg.Collaboration = &on

	app := New(cfg, zerolog.Nop())
	defer app.Close()

	err := app.Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvAPIURL)
}

func TestSetupPinnedLocalSkipsProbing(t *testing.T) {
	cfg := workspaceConfig(t)
	off := false
	cfg.Collaboration = &off
	// An unreachable endpoint must not matter: pinned local never probes.
	cfg.APIURL = "http://127.0.0.1:1"

	prompter := &countingPrompter{choice: mode.ChooseCollaborative}
	app := New(cfg, zerolog.Nop(), WithPrompter(prompter))
	defer app.Close()

	require.NoError(t, app.Setup(context.Background()))
	assert.Equal(t, mode.ModeLocal, app.Status().Mode)
	assert.Equal(t, "explicitly configured", app.Status().Detection.Reason)
	assert.Zero(t, prompter.calls)
}

func TestSetupAdoptsRemoteData(t *testing.T) {
	cfg := workspaceConfig(t)
	cfg.APIURL = startServer(t)
	cfg.UserEmail = "marco@example.com"

	// Seed the remote through a first collaborative session.
	seedCfg := *cfg
	on := true
	seedCfg.Collaboration = &on
	seed := New(&seedCfg, zerolog.Nop())
	require.NoError(t, seed.Setup(context.Background()))
	require.NoError(t, seed.Store().Save(context.Background(), &models.Note{
		ID:         models.NewNoteID(),
		FilePath:   "remote.go",
		LineNumber: 3,
		Author:     "sara",
		Timestamp:  time.Now().UTC(),
		Comment:    "remote-side finding",
		State:      models.StateTodo,
		Source:     models.SourceNative,
		Version:    1,
	}))
	require.NoError(t, seed.Close())

	// A fresh workspace pointing at the same server auto-joins.
	app := New(cfg, zerolog.Nop())
	defer app.Close()
	require.NoError(t, app.Setup(context.Background()))

	st := app.Status()
	assert.Equal(t, mode.ModeCollaborative, st.Mode)
	assert.Equal(t, "remote data present", st.Detection.Reason)
	assert.Equal(t, 1, st.Detection.RemoteCount)
	require.NotNil(t, st.Realtime)
	assert.False(t, st.Realtime.Supported, "the HTTP backend has no push channel")

	notes, err := app.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	stats, err := app.StorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.KindNetworkHTTP, stats.Backend)
	assert.Equal(t, "marco@example.com", stats.UserID)
}

func TestSetupMigratesWhenUserAsksForIt(t *testing.T) {
	cfg := workspaceConfig(t)
	cfg.APIURL = startServer(t)
	cfg.UserEmail = "marco@example.com"
	seedLocalNotes(t, cfg, 3)

	app := New(cfg, zerolog.Nop(), WithPrompter(&countingPrompter{choice: mode.ChooseMigrate}))
	defer app.Close()

	require.NoError(t, app.Setup(context.Background()))

	st := app.Status()
	assert.Equal(t, mode.ModeCollaborative, st.Mode)
	assert.True(t, st.Detection.MigrationNeeded)
	assert.Equal(t, mode.DirectionLocalToRemote, st.Detection.Direction)

	count, err := app.Store().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count, "local notes arrived on the remote")
}

func TestSyncNowRequiresCollaborativeMode(t *testing.T) {
	app := New(workspaceConfig(t), zerolog.Nop())
	defer app.Close()
	require.NoError(t, app.Setup(context.Background()))

	_, err := app.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrNotCollaborative)
}

func TestStorageStatsBeforeSetup(t *testing.T) {
	app := New(workspaceConfig(t), zerolog.Nop())
	_, err := app.StorageStats(context.Background())
	assert.Error(t, err)
}

func TestSwitchMode(t *testing.T) {
	ctx := context.Background()
	cfg := workspaceConfig(t)
	cfg.APIURL = startServer(t)
	cfg.UserEmail = "marco@example.com"
	seedLocalNotes(t, cfg, 2)

	app := New(cfg, zerolog.Nop(), WithPrompter(&countingPrompter{choice: mode.ChooseLocal}))
	defer app.Close()
	require.NoError(t, app.Setup(ctx))
	require.Equal(t, mode.ModeLocal, app.Status().Mode)

	t.Run("same mode is a no-op", func(t *testing.T) {
		assert.NoError(t, app.SwitchMode(ctx, mode.ModeLocal, false))
	})

	t.Run("declined confirmation aborts", func(t *testing.T) {
		app.confirm = ConfirmFunc(func(context.Context, string) bool { return false })
		err := app.SwitchMode(ctx, mode.ModeCollaborative, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
		app.confirm = AlwaysConfirm
	})

	t.Run("switch to collaborative migrates the working set", func(t *testing.T) {
		require.NoError(t, app.SwitchMode(ctx, mode.ModeCollaborative, true))

		st := app.Status()
		assert.Equal(t, mode.ModeCollaborative, st.Mode)
		assert.Equal(t, "user switched mode", st.Detection.Reason)
		assert.Equal(t, store.KindNetworkHTTP, cfg.Backend)

		count, err := app.Store().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("switch back to local", func(t *testing.T) {
		require.NoError(t, app.SwitchMode(ctx, mode.ModeLocal, true))
		assert.Equal(t, mode.ModeLocal, app.Status().Mode)

		count, err := app.Store().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count, "re-migration skips records already present")
	})
}

func TestSwitchModeWithoutRemoteEndpoint(t *testing.T) {
	app := New(workspaceConfig(t), zerolog.Nop())
	defer app.Close()
	require.NoError(t, app.Setup(context.Background()))

	err := app.SwitchMode(context.Background(), mode.ModeCollaborative, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvAPIURL)
}

func TestExplicitMigrate(t *testing.T) {
	ctx := context.Background()
	cfg := workspaceConfig(t)
	cfg.APIURL = startServer(t)
	cfg.UserEmail = "marco@example.com"
	seedLocalNotes(t, cfg, 4)

	app := New(cfg, zerolog.Nop(), WithPrompter(&countingPrompter{choice: mode.ChooseLocal}))
	defer app.Close()
	require.NoError(t, app.Setup(ctx))

	result, err := app.Migrate(ctx, mode.DirectionLocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Migrated)

	// A second run finds everything in place.
	result, err = app.Migrate(ctx, mode.DirectionLocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Skipped)
	assert.Zero(t, result.Migrated)
}
