package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
	"notespace/internal/storage"
)

const legacyJSON = `{
	"workspace": {
		"id": "ws-legacy",
		"name": "Old notes",
		"darkMode": true,
		"pages": [
			{"id": "p1", "title": "Inbox", "blocks": [{"id": "b1", "type": "todo", "content": "call", "attrs": {"checked": true}}], "updatedAt": 10},
			{"id": "p2", "title": "Child", "parentId": "p1", "blocks": [], "updatedAt": 11}
		]
	}
}`

func openAppState(t *testing.T) (*storage.AppStateStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notespace.db")
	db, err := storage.New(path)
	require.NoError(t, err)
	s := storage.NewAppStateStore(db, nil)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppStateStore_FirstLoadSeedsOnboarding(t *testing.T) {
	s, _ := openAppState(t)
	ctx := context.Background()

	data, err := s.Load(ctx)
	require.NoError(t, err)
	ws, ok := data.Current()
	require.True(t, ok)
	require.Len(t, ws.PageOrder, 1)
	assert.Equal(t, "Getting Started", ws.Pages[ws.PageOrder[0]].Title)

	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, data.CurrentWorkspaceID, again.CurrentWorkspaceID, "seed is persisted, not regenerated")
}

func TestAppStateStore_SaveLoad(t *testing.T) {
	s, path := openAppState(t)
	ctx := context.Background()
	clock := &domain.CounterClock{}

	ws := domain.NewWorkspace(clock, "Team", "u1")
	ws, p := ws.CreatePage(clock, "")
	ws = ws.RenamePage(clock, p.ID, "Plan")
	data := domain.AppData{CurrentWorkspaceID: ws.ID}.With(ws)

	require.NoError(t, s.Save(ctx, data))
	require.NoError(t, s.Close())

	db, err := storage.New(path)
	require.NoError(t, err)
	reopened := storage.NewAppStateStore(db, nil)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AppDataVersion, loaded.Version)
	got := loaded.Workspaces[ws.ID]
	assert.Equal(t, "Plan", got.Pages[p.ID].Title)
	assert.True(t, domain.BlocksEqual(p.Blocks, got.Pages[p.ID].Blocks))
}

func TestAppStateStore_PollSeesOtherWriters(t *testing.T) {
	mine, path := openAppState(t)
	ctx := context.Background()
	data, err := mine.Load(ctx)
	require.NoError(t, err)

	_, changed, err := mine.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "own load is not a change")

	db, err := storage.New(path)
	require.NoError(t, err)
	theirs := storage.NewAppStateStore(db, nil)
	defer theirs.Close()
	other, err := theirs.Load(ctx)
	require.NoError(t, err)
	ws, ok := other.Current()
	require.True(t, ok)
	require.NoError(t, theirs.Save(ctx, other.With(ws.Rename(&domain.CounterClock{Start: ws.UpdatedAt}, "Renamed"))))

	polled, changed, err := mine.Poll(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	cur, _ := polled.Current()
	assert.Equal(t, "Renamed", cur.Name)

	_, changed, err = mine.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, mine.Save(ctx, data))
	_, changed, err = mine.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "own writes are not reported")
}

func TestAppStateStore_UpgradesLegacyOnce(t *testing.T) {
	s, _ := openAppState(t)
	ctx := context.Background()
	require.NoError(t, s.PutLegacy(ctx, []byte(legacyJSON)))

	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ws-legacy", data.CurrentWorkspaceID)
	ws := data.Workspaces["ws-legacy"]
	assert.Equal(t, "Old notes", ws.Name)
	assert.True(t, ws.DarkMode)
	assert.Equal(t, []string{"p1", "p2"}, ws.PageOrder)
	assert.Equal(t, "p1", ws.Pages["p2"].ParentID)
	assert.Equal(t, domain.TodoAttrs{Checked: true}, ws.Pages["p1"].Blocks[0].Attrs)

	upgrades, err := s.Upgrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"multi-workspace-v2"}, upgrades)

	// Mutate and save; a second load must see the saved state, not re-run the upgrade.
	ws.Name = "Renamed"
	require.NoError(t, s.Save(ctx, data.With(ws)))
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Workspaces["ws-legacy"].Name)
	upgrades, _ = s.Upgrades(ctx)
	assert.Len(t, upgrades, 1)
}

func TestFileStore_LegacyUpgradeIsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appdata.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyJSON), 0644))

	s := storage.NewFileStore(path, nil, zerolog.Nop())
	data, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, data.Workspaces["ws-legacy"].Pages, 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":2`)
	assert.NotContains(t, string(raw), `"workspace":`)
}

func TestFileStore_SeedAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "appdata.json")
	s := storage.NewFileStore(path, nil, zerolog.Nop())
	ctx := context.Background()

	data, err := s.Load(ctx)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	ws, _ := data.Current()
	ws = ws.SetDarkMode(domain.NewLogicalClock(), true)
	require.NoError(t, s.Save(ctx, data.With(ws)))

	loaded, err := storage.NewFileStore(path, nil, zerolog.Nop()).Load(ctx)
	require.NoError(t, err)
	cur, _ := loaded.Current()
	assert.True(t, cur.DarkMode)
}

func TestFileStore_WatchReportsExternalReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appdata.json")
	s := storage.NewFileStore(path, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Load(ctx)
	require.NoError(t, err)

	changes := make(chan domain.AppData, 4)
	go s.Watch(ctx, func(d domain.AppData) { changes <- d })
	time.Sleep(100 * time.Millisecond)

	// Own writes are not reported.
	data, _ := s.Load(ctx)
	require.NoError(t, s.Save(ctx, data))

	restored := domain.DefaultAppData(&domain.CounterClock{}, "someone")
	other := storage.NewFileStore(filepath.Join(dir, "staging.json"), func() domain.AppData { return restored }, zerolog.Nop())
	_, err = other.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(dir, "staging.json"), path))

	select {
	case got := <-changes:
		assert.Equal(t, restored.CurrentWorkspaceID, got.CurrentWorkspaceID)
	case <-time.After(3 * time.Second):
		t.Fatal("external replace not observed")
	}
}

func TestApprovalStore_Lifecycle(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "notespace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := storage.NewApprovalStore(db)
	ctx := context.Background()

	require.NoError(t, s.Request(ctx, storage.Approval{ID: "a1", Tool: "delete_page", Description: "Delete Inbox"}))
	require.NoError(t, s.Request(ctx, storage.Approval{ID: "a2", Tool: "delete_page"}))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Delete Inbox", pending[0].Description)
	assert.Equal(t, "{}", pending[0].Metadata)

	require.NoError(t, s.Resolve(ctx, "a1", true))
	status, err := s.Status(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, storage.ApprovalApproved, status)
	assert.ErrorIs(t, s.Resolve(ctx, "a1", false), domain.ErrNotFound, "already settled")

	require.NoError(t, s.Remove(ctx, "a1"))
	_, err = s.Status(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].ID)
}
