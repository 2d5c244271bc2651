package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/config"
	"notespace/internal/domain"
	mcpserver "notespace/internal/mcp"
	"notespace/internal/secret"
	"notespace/internal/service"
	"notespace/internal/storage"
)

func testConfig(t *testing.T, user string) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.User = config.User{ID: user, Email: user + "@example.com", DisplayName: user}
	cfg.ResyncSchedule = ""
	cfg.PresenceHeartbeat = ""
	return cfg
}

func startApp(t *testing.T, cfg config.Config, secrets secret.SecretStore) *App {
	t.Helper()
	a := New(cfg, secrets, zerolog.Nop())
	require.NoError(t, a.Startup(context.Background()))
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

func TestApp_OfflineExport(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.LocalBackend = "file"
	a := startApp(t, cfg, secret.NewMemoryStore())

	out, err := a.Export("")
	require.NoError(t, err)
	assert.Contains(t, out, "# Getting Started")
	assert.Contains(t, out, "Welcome to your workspace")

	_, err = a.Invite(context.Background(), "editor")
	assert.ErrorIs(t, err, service.ErrOffline)
}

func TestApp_InviteAcrossDevices(t *testing.T) {
	ctx := context.Background()
	remotePath := filepath.Join(t.TempDir(), "remote.db")
	secrets := secret.NewMemoryStore()

	aliceCfg := testConfig(t, "alice")
	aliceCfg.Remote = config.Remote{Driver: "sqlite", DSN: remotePath}
	alice := startApp(t, aliceCfg, secrets)
	require.NotNil(t, alice.store, "sqlite remote connects")
	require.NoError(t, alice.Workspaces().Flush(ctx))

	_, err := alice.Invite(ctx, "owner")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = alice.Invite(ctx, "admin")
	assert.ErrorIs(t, err, domain.ErrValidation)

	inv, err := alice.Invite(ctx, "editor")
	require.NoError(t, err)
	require.NotEmpty(t, inv.Token)

	bobCfg := testConfig(t, "bob")
	bobCfg.Remote = aliceCfg.Remote
	bob := startApp(t, bobCfg, secrets)
	res, err := bob.Accept(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, res.Member.Role)

	cur, err := bob.Workspaces().Current()
	require.NoError(t, err)
	assert.Equal(t, inv.WorkspaceID, cur.ID)
	out, err := bob.Export("")
	require.NoError(t, err)
	assert.Contains(t, out, "Getting Started")
}

func TestOpenRemote_RejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t, "alice")
	cfg.Remote.Driver = "cassandra"
	_, err := OpenRemote(context.Background(), cfg, secret.NewMemoryStore(), nil, zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported remote driver")

	cfg.Remote.Driver = ""
	_, err = OpenRemote(context.Background(), cfg, secret.NewMemoryStore(), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestCacheWatcher_AnnouncesEachApprovalOnce(t *testing.T) {
	em := &service.MockEmitter{}
	w := newCacheWatcher(&App{emitter: em})
	ctx := context.Background()
	pending := []storage.Approval{{ID: "a1", Tool: "delete_page", CreatedAt: time.Now()}}

	w.announce(ctx, pending)
	w.announce(ctx, pending)
	assert.Equal(t, 1, em.Count(mcpserver.EventApprovalRequired))

	last, ok := em.Last(mcpserver.EventApprovalRequired)
	require.True(t, ok)
	assert.Equal(t, "delete_page", last.(mcpserver.PendingAction).Tool)

	// Once settled, the same id may come back as a new request.
	w.announce(ctx, nil)
	w.announce(ctx, pending)
	assert.Equal(t, 2, em.Count(mcpserver.EventApprovalRequired))
}

func TestCacheWatcher_AdoptsOtherWriters(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")
	a := startApp(t, cfg, secret.NewMemoryStore())

	db, err := storage.New(filepath.Join(cfg.DataDir, "notespace.db"))
	require.NoError(t, err)
	other := storage.NewAppStateStore(db, nil)
	defer other.Close()
	data, err := other.Load(ctx)
	require.NoError(t, err)
	ws, ok := data.Current()
	require.True(t, ok)
	require.NoError(t, other.Save(ctx, data.With(ws.Rename(&domain.CounterClock{Start: ws.UpdatedAt}, "From the CLI"))))

	newCacheWatcher(a).check(ctx)
	cur, err := a.Workspaces().Current()
	require.NoError(t, err)
	assert.Equal(t, "From the CLI", cur.Name)
}

func TestHeartbeatInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, heartbeatInterval("@every 30s"))
	assert.Zero(t, heartbeatInterval("*/5 * * * *"))
	assert.Zero(t, heartbeatInterval("@every soon"))
	assert.Zero(t, heartbeatInterval(""))
}
