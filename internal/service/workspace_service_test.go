package service_test

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
	"notespace/internal/service"
	"notespace/internal/storage"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PushDebounce = config.Duration{Duration: time.Hour}
	cfg.HistoryDebounce = config.Duration{}
	cfg.ResyncSchedule = ""
	cfg.PresenceHeartbeat = ""
	return cfg
}

// emptySeed starts a device with one empty workspace and no owner.
func emptySeed() domain.AppData {
	ws := domain.NewWorkspace(domain.NewLogicalClock(), "Scratch", "")
	return domain.AppData{
		Version:            domain.AppDataVersion,
		CurrentWorkspaceID: ws.ID,
		Workspaces:         map[string]domain.Workspace{ws.ID: ws},
	}
}

func newOffline(t *testing.T) (*service.WorkspaceService, storage.LocalStore, *service.MockEmitter) {
	t.Helper()
	local := storage.NewFileStore(filepath.Join(t.TempDir(), "appdata.json"), emptySeed, zerolog.Nop())
	em := &service.MockEmitter{}
	svc := service.NewWorkspaceService(service.Options{
		Local:   local,
		Emitter: em,
		Logger:  zerolog.Nop(),
		Config:  testConfig(),
	})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	ws, err := svc.Current()
	require.NoError(t, err)
	_, err = svc.OpenWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, local, em
}

func TestWorkspaceService_NotStarted(t *testing.T) {
	svc := service.NewWorkspaceService(service.Options{Logger: zerolog.Nop()})
	_, err := svc.CreatePage(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrNotStarted)
}

func TestWorkspaceService_EditsPersistLocally(t *testing.T) {
	svc, local, em := newOffline(t)
	ctx := context.Background()

	page, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	require.NoError(t, svc.RenamePage(ctx, page.ID, "Groceries"))
	_, err = svc.AddBlock(ctx, page.ID, "", domain.BlockTodo, "milk")
	require.NoError(t, err)
	assert.Positive(t, em.Count(service.EventPageChanged))

	data, err := local.Load(ctx)
	require.NoError(t, err)
	ws, ok := data.Current()
	require.True(t, ok)
	stored, ok := ws.Page(page.ID)
	require.True(t, ok)
	assert.Equal(t, "Groceries", stored.Title)
	require.Len(t, stored.Blocks, 2)
	assert.Equal(t, "milk", stored.Blocks[1].Content)
}

func TestWorkspaceService_ReloadKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appdata.json")
	ctx := context.Background()
	open := func() *service.WorkspaceService {
		svc := service.NewWorkspaceService(service.Options{
			Local:  storage.NewFileStore(path, emptySeed, zerolog.Nop()),
			Logger: zerolog.Nop(),
			Config: testConfig(),
		})
		require.NoError(t, svc.Start(ctx))
		return svc
	}

	first := open()
	ws, err := first.CreateWorkspace(ctx, "Second")
	require.NoError(t, err)
	_, err = first.OpenWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	p, err := first.CreatePage(ctx, "")
	require.NoError(t, err)

	second := open()
	cur, err := second.Current()
	require.NoError(t, err)
	assert.Equal(t, ws.ID, cur.ID)
	_, err = second.GetPage(p.ID)
	assert.NoError(t, err)
	assert.Len(t, second.ListWorkspaces(), 2)
}

func TestWorkspaceService_DeletePageCascadesAndTombstones(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()

	parent, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	child, err := svc.CreatePage(ctx, parent.ID)
	require.NoError(t, err)
	other, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)

	removed, err := svc.DeletePage(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ID, child.ID}, removed)

	ws, err := svc.Current()
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ws.PageOrder)
	assert.ElementsMatch(t, removed, ws.DeletedPageIDs)

	_, err = svc.DeletePage(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkspaceService_ReparentRejectsCycles(t *testing.T) {
	svc, _, _ := newOffline(t)
	ctx := context.Background()

	a, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	b, err := svc.CreatePage(ctx, a.ID)
	require.NoError(t, err)

	err = svc.ReparentPage(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	got, err := svc.GetPage(a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)

	require.NoError(t, svc.ReparentPage(ctx, b.ID, ""))
	got, err = svc.GetPage(b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)
}

func TestWorkspaceService_SettingsAndOrder(t *testing.T) {
	svc, _, em := newOffline(t)
	ctx := context.Background()

	a, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	b, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)

	require.NoError(t, svc.RenameWorkspace(ctx, "Home"))
	require.NoError(t, svc.SetDarkMode(ctx, true))
	require.NoError(t, svc.ReorderPages(ctx, []string{b.ID, a.ID}))
	assert.ErrorIs(t, svc.ReorderPages(ctx, []string{a.ID}), domain.ErrValidation)

	ws, err := svc.Current()
	require.NoError(t, err)
	assert.Equal(t, "Home", ws.Name)
	assert.True(t, ws.DarkMode)
	assert.Equal(t, []string{b.ID, a.ID}, ws.PageOrder)
	assert.Positive(t, em.Count(service.EventWorkspaceChanged))
}

func TestWorkspaceService_OfflineMembership(t *testing.T) {
	svc, _, _ := newOffline(t)
	_, err := svc.Invite(context.Background(), domain.RoleEditor)
	assert.ErrorIs(t, err, service.ErrOffline)
}

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "test:event", map[string]string{"foo": "bar"})
	m.Emit(ctx, "test:event2", nil)
	m.Emit(ctx, "test:event", "again")

	assert.Equal(t, 2, m.Count("test:event"))
	last, ok := m.Last("test:event")
	require.True(t, ok)
	assert.Equal(t, "again", last)
	_, ok = m.Last("never")
	assert.False(t, ok)
}

func TestWorkspaceService_ReplaceData(t *testing.T) {
	svc, _, em := newOffline(t)
	ctx := context.Background()

	page, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddBlock(ctx, page.ID, "", domain.BlockText, "mine")
	require.NoError(t, err)
	undo, _ := svc.CanUndo(page.ID)
	require.True(t, undo)

	ws, err := svc.Current()
	require.NoError(t, err)
	clock := &domain.CounterClock{Start: ws.UpdatedAt + 1000}
	ws = ws.UpdatePageBlocks(clock, page.ID, []domain.Block{domain.NewBlock(domain.BlockQuote, "theirs")})
	before := em.Count(service.EventWorkspaceChanged)

	require.NoError(t, svc.ReplaceData(ctx, domain.AppData{
		Version:            domain.AppDataVersion,
		CurrentWorkspaceID: ws.ID,
		Workspaces:         map[string]domain.Workspace{ws.ID: ws},
	}))

	text, err := svc.ExportPlainText(page.ID)
	require.NoError(t, err)
	assert.Equal(t, "> theirs", text)
	undo, _ = svc.CanUndo(page.ID)
	assert.False(t, undo, "outside edits restart the undo history")
	assert.Equal(t, before+1, em.Count(service.EventWorkspaceChanged))

	// The next local edit lands on top of the adopted data.
	next, err := svc.CreatePage(ctx, "")
	require.NoError(t, err)
	assert.Greater(t, next.UpdatedAt, clock.Start)
}
