// Package remotetest is the conformance suite every remote backend runs.
package remotetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
	"notespace/internal/realtime"
	"notespace/internal/remote"
)

// Run exercises b through remote.Adapter. newBackend must return an empty
// store; the suite closes it.
func Run(t *testing.T, newBackend func(t *testing.T) remote.Backend) {
	cases := []struct {
		name string
		fn   func(t *testing.T, f *fixture)
	}{
		{"bootstrap", testBootstrap},
		{"save and version", testSaveAndVersion},
		{"stale save conflicts", testStaleSaveConflicts},
		{"concurrent saves", testConcurrentSaves},
		{"viewer cannot save", testViewerCannotSave},
		{"invite redemption", testInviteRedemption},
		{"delete page", testDeletePage},
		{"update workspace", testUpdateWorkspace},
		{"delete workspace", testDeleteWorkspace},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newFixture(t, newBackend(t)))
		})
	}
}

type fixture struct {
	store  *remote.Adapter
	broker *realtime.Broker
	ws     domain.Workspace
	clock  *domain.CounterClock
	ctx    context.Context
}

const owner = "owner-1"

func newFixture(t *testing.T, b remote.Backend) *fixture {
	t.Helper()
	broker := realtime.NewBroker(64)
	store := remote.NewAdapter("test", b, remote.Options{Publisher: broker, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = store.Close() })

	clock := &domain.CounterClock{Start: 100}
	ws := domain.NewWorkspace(clock, "Team", owner)
	ctx := context.Background()
	require.NoError(t, store.CreateWorkspace(ctx, owner, ws))
	return &fixture{store: store, broker: broker, ws: ws, clock: clock, ctx: ctx}
}

func (f *fixture) page(t *testing.T, title string) domain.Page {
	t.Helper()
	p := domain.NewPage(f.clock, f.ws.ID, "")
	p.Title = title
	p.UpdatedBy = owner
	return p
}

func (f *fixture) join(t *testing.T, user string, role domain.Role) {
	t.Helper()
	require.NoError(t, f.store.AddMember(f.ctx, owner, domain.Member{WorkspaceID: f.ws.ID, UserID: user, Role: role}, ""))
}

func testBootstrap(t *testing.T, f *fixture) {
	other := domain.NewWorkspace(f.clock, "Other", "someone")
	err := f.store.CreateWorkspace(f.ctx, owner, other)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	list, err := f.store.ListWorkspaces(f.ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Team", list[0].Name)
	assert.Empty(t, list[0].Pages)

	members, err := f.store.ListMembers(f.ctx, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.RoleOwner, members[0].Role)

	none, err := f.store.ListWorkspaces(f.ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSaveAndVersion(t *testing.T, f *fixture) {
	sub, err := f.broker.Subscribe(f.ctx, f.ws.ID)
	require.NoError(t, err)
	defer sub.Close()

	p := f.page(t, "Notes")
	res := f.store.SavePage(f.ctx, f.ws.ID, p, nil)
	require.Equal(t, remote.Success, res.Outcome, "%v", res.Err)
	v1 := res.Version

	e := <-sub.Events()
	assert.Equal(t, realtime.OpInsert, e.Operation)
	assert.Equal(t, p.ID, e.RowID)

	p.Title = "Notes v2"
	res = f.store.SavePage(f.ctx, f.ws.ID, p, &v1)
	require.Equal(t, remote.Success, res.Outcome, "%v", res.Err)
	assert.Greater(t, res.Version, v1)

	e = <-sub.Events()
	assert.Equal(t, realtime.OpUpdate, e.Operation)
	assert.Equal(t, res.Version, e.UpdatedAt)

	got, err := f.store.GetPage(f.ctx, f.ws.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Notes v2", got.Title)
	assert.Equal(t, res.Version, got.UpdatedAt)
	assert.True(t, domain.BlocksEqual(p.Blocks, got.Blocks))

	pages, err := f.store.ListPages(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func testStaleSaveConflicts(t *testing.T, f *fixture) {
	p := f.page(t, "A")
	res := f.store.SavePage(f.ctx, f.ws.ID, p, nil)
	require.Equal(t, remote.Success, res.Outcome)
	base := res.Version

	theirs := p
	theirs.Title = "theirs"
	res = f.store.SavePage(f.ctx, f.ws.ID, theirs, &base)
	require.Equal(t, remote.Success, res.Outcome)

	mine := p
	mine.Title = "mine"
	res = f.store.SavePage(f.ctx, f.ws.ID, mine, &base)
	require.Equal(t, remote.Conflict, res.Outcome)
	require.NotNil(t, res.Remote)
	assert.Equal(t, "theirs", res.Remote.Title)

	got, err := f.store.GetPage(f.ctx, f.ws.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "theirs", got.Title)

	gone := f.page(t, "never saved")
	res = f.store.SavePage(f.ctx, f.ws.ID, gone, &base)
	assert.Equal(t, remote.Conflict, res.Outcome)
	assert.Nil(t, res.Remote)
}

func testConcurrentSaves(t *testing.T, f *fixture) {
	p := f.page(t, "race")
	res := f.store.SavePage(f.ctx, f.ws.ID, p, nil)
	require.Equal(t, remote.Success, res.Outcome)
	base := res.Version

	var wg sync.WaitGroup
	outcomes := make([]remote.Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := p
			q.Title = []string{"left", "right"}[i]
			outcomes[i] = f.store.SavePage(f.ctx, f.ws.ID, q, &base).Outcome
		}(i)
	}
	wg.Wait()
	assert.ElementsMatch(t, []remote.Outcome{remote.Success, remote.Conflict}, outcomes)
}

func testViewerCannotSave(t *testing.T, f *fixture) {
	f.join(t, "viewer-1", domain.RoleViewer)
	p := f.page(t, "read only")
	p.UpdatedBy = "viewer-1"
	res := f.store.SavePage(f.ctx, f.ws.ID, p, nil)
	assert.Equal(t, remote.Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrForbidden)

	f.join(t, "editor-1", domain.RoleEditor)
	p.UpdatedBy = "editor-1"
	res = f.store.SavePage(f.ctx, f.ws.ID, p, nil)
	assert.Equal(t, remote.Success, res.Outcome)
}

func testInviteRedemption(t *testing.T, f *fixture) {
	expires := time.Now().Add(time.Hour)
	inv := domain.Invite{ID: domain.NewID(), WorkspaceID: f.ws.ID, Token: "tok-1", Role: domain.RoleEditor, ExpiresAt: &expires}

	assert.ErrorIs(t, f.store.CreateInvite(f.ctx, "stranger", inv), domain.ErrForbidden)
	require.NoError(t, f.store.CreateInvite(f.ctx, owner, inv))

	found, err := f.store.FindInvite(f.ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, found.ID)
	assert.Equal(t, owner, found.CreatedBy)
	require.NotNil(t, found.ExpiresAt)
	assert.Equal(t, expires.UnixMilli(), found.ExpiresAt.UnixMilli())

	_, err = f.store.FindInvite(f.ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	asOwner := domain.Member{WorkspaceID: f.ws.ID, UserID: "guest", Role: domain.RoleOwner}
	assert.ErrorIs(t, f.store.AddMember(f.ctx, "guest", asOwner, inv.ID), domain.ErrForbidden)

	asEditor := domain.Member{WorkspaceID: f.ws.ID, UserID: "guest", Role: domain.RoleEditor}
	require.NoError(t, f.store.AddMember(f.ctx, "guest", asEditor, inv.ID))
	require.NoError(t, f.store.MarkInviteAccepted(f.ctx, inv.ID, "guest"))
	assert.ErrorIs(t, f.store.AddMember(f.ctx, "guest", asEditor, inv.ID), domain.ErrAlreadyMember)

	second := domain.Member{WorkspaceID: f.ws.ID, UserID: "late", Role: domain.RoleEditor}
	assert.ErrorIs(t, f.store.AddMember(f.ctx, "late", second, inv.ID), domain.ErrInviteUsed)

	revoked := domain.Invite{ID: domain.NewID(), WorkspaceID: f.ws.ID, Token: "tok-2", Role: domain.RoleViewer}
	require.NoError(t, f.store.CreateInvite(f.ctx, owner, revoked))
	require.NoError(t, f.store.RevokeInvite(f.ctx, owner, f.ws.ID, revoked.ID))
	late := domain.Member{WorkspaceID: f.ws.ID, UserID: "late", Role: domain.RoleViewer}
	assert.ErrorIs(t, f.store.AddMember(f.ctx, "late", late, revoked.ID), domain.ErrInviteRevoked)

	invites, err := f.store.ListInvites(f.ctx, owner, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, invites, 2)
}

func testDeletePage(t *testing.T, f *fixture) {
	p := f.page(t, "doomed")
	require.Equal(t, remote.Success, f.store.SavePage(f.ctx, f.ws.ID, p, nil).Outcome)

	sub, err := f.broker.Subscribe(f.ctx, f.ws.ID)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.store.DeletePage(f.ctx, f.ws.ID, p.ID, owner))
	e := <-sub.Events()
	assert.Equal(t, realtime.OpDelete, e.Operation)
	assert.Equal(t, p.ID, e.RowID)

	_, err = f.store.GetPage(f.ctx, f.ws.ID, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, f.store.DeletePage(f.ctx, f.ws.ID, p.ID, owner))
}

func testUpdateWorkspace(t *testing.T, f *fixture) {
	f.join(t, "editor-1", domain.RoleEditor)

	reordered := f.ws
	reordered.PageOrder = []string{"x", "y"}
	require.NoError(t, f.store.UpdateWorkspace(f.ctx, "editor-1", reordered))

	renamed := reordered
	renamed.Name = "Renamed"
	assert.ErrorIs(t, f.store.UpdateWorkspace(f.ctx, "editor-1", renamed), domain.ErrForbidden)
	require.NoError(t, f.store.UpdateWorkspace(f.ctx, owner, renamed))

	got, err := f.store.GetWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, []string{"x", "y"}, got.PageOrder)
	assert.Equal(t, owner, got.OwnerID)

	assert.ErrorIs(t, f.store.RemoveMember(f.ctx, owner, f.ws.ID, owner), domain.ErrForbidden)
	require.NoError(t, f.store.RemoveMember(f.ctx, "editor-1", f.ws.ID, "editor-1"))
}

func testDeleteWorkspace(t *testing.T, f *fixture) {
	require.Equal(t, remote.Success, f.store.SavePage(f.ctx, f.ws.ID, f.page(t, "p"), nil).Outcome)
	f.join(t, "editor-1", domain.RoleEditor)
	assert.ErrorIs(t, f.store.DeleteWorkspace(f.ctx, "editor-1", f.ws.ID), domain.ErrForbidden)
	require.NoError(t, f.store.DeleteWorkspace(f.ctx, owner, f.ws.ID))

	_, err := f.store.GetWorkspace(f.ctx, f.ws.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	pages, err := f.store.ListPages(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Empty(t, pages)
}
