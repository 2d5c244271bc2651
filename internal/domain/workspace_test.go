package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
)

// tree builds pages a(b(d), c) and a top-level e.
func tree(t *testing.T) (domain.Workspace, *domain.CounterClock, map[string]string) {
	t.Helper()
	clock := &domain.CounterClock{}
	ws := domain.NewWorkspace(clock, "Team", "owner-1")
	ids := map[string]string{}
	var p domain.Page
	ws, p = ws.CreatePage(clock, "")
	ids["a"] = p.ID
	ws, p = ws.CreatePage(clock, ids["a"])
	ids["b"] = p.ID
	ws, p = ws.CreatePage(clock, ids["a"])
	ids["c"] = p.ID
	ws, p = ws.CreatePage(clock, ids["b"])
	ids["d"] = p.ID
	ws, p = ws.CreatePage(clock, "")
	ids["e"] = p.ID
	return ws, clock, ids
}

func TestCreatePage(t *testing.T) {
	clock := &domain.CounterClock{}
	ws := domain.NewWorkspace(clock, "Team", "owner-1")
	require.Len(t, ws.Members, 1)
	assert.Equal(t, domain.RoleOwner, ws.Members[0].Role)

	next, p := ws.CreatePage(clock, "")
	assert.Empty(t, ws.PageOrder, "original value untouched")
	assert.Equal(t, []string{p.ID}, next.PageOrder)
	assert.Equal(t, domain.UntitledPage, p.Title)
	require.Len(t, p.Blocks, 1)
	assert.Equal(t, domain.BlockText, p.Blocks[0].Type)
	assert.Greater(t, next.UpdatedAt, ws.UpdatedAt)

	_, orphan := next.CreatePage(clock, "no-such-parent")
	assert.Empty(t, orphan.ParentID)
}

func TestDeletePage_Cascades(t *testing.T) {
	ws, clock, ids := tree(t)

	next, removed := ws.DeletePage(clock, ids["a"])
	assert.Equal(t, []string{ids["a"], ids["b"], ids["d"], ids["c"]}, removed)
	assert.Equal(t, []string{ids["e"]}, next.PageOrder)
	assert.Len(t, next.Pages, 1)
	for _, p := range next.Pages {
		_, dangling := next.Pages[p.ParentID]
		assert.True(t, p.ParentID == "" || dangling)
	}
	assert.Len(t, ws.Pages, 5, "original value untouched")
}

func TestDeletePage_LeafAndUnknown(t *testing.T) {
	ws, clock, ids := tree(t)

	next, removed := ws.DeletePage(clock, ids["d"])
	assert.Equal(t, []string{ids["d"]}, removed)
	assert.Len(t, next.PageOrder, 4)

	same, removed := ws.DeletePage(clock, "missing")
	assert.Nil(t, removed)
	assert.Equal(t, ws.PageOrder, same.PageOrder)
}

func TestPageFieldUpdatesBumpUpdatedAt(t *testing.T) {
	ws, clock, ids := tree(t)
	before := ws.Pages[ids["b"]].UpdatedAt

	ws = ws.RenamePage(clock, ids["b"], "Roadmap")
	ws = ws.SetIcon(clock, ids["b"], "🗺")
	ws = ws.SetCover(clock, ids["b"], "https://example.com/cover.png")

	p := ws.Pages[ids["b"]]
	assert.Equal(t, "Roadmap", p.Title)
	assert.Equal(t, "🗺", p.Icon)
	assert.Equal(t, "https://example.com/cover.png", p.Cover)
	assert.Greater(t, p.UpdatedAt, before)

	unchanged := ws.RenamePage(clock, "missing", "x")
	assert.Equal(t, ws.UpdatedAt, unchanged.UpdatedAt)
}

func TestReparent(t *testing.T) {
	ws, clock, ids := tree(t)

	moved, err := ws.Reparent(clock, ids["d"], ids["e"])
	require.NoError(t, err)
	assert.Equal(t, ids["e"], moved.Pages[ids["d"]].ParentID)

	_, err = ws.Reparent(clock, ids["a"], ids["a"])
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ws.Reparent(clock, ids["a"], ids["d"])
	assert.ErrorIs(t, err, domain.ErrValidation, "cannot move under a descendant")

	_, err = ws.Reparent(clock, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	top, err := ws.Reparent(clock, ids["b"], "")
	require.NoError(t, err)
	assert.Empty(t, top.Pages[ids["b"]].ParentID)
	assert.Equal(t, []string{ids["a"]}, top.Ancestors(ids["c"]))
	assert.Equal(t, []string{ids["b"]}, top.Ancestors(ids["d"]))
}

func TestReorderPages(t *testing.T) {
	ws, clock, ids := tree(t)
	order := []string{ids["e"], ids["d"], ids["c"], ids["b"], ids["a"]}

	next, err := ws.ReorderPages(clock, order)
	require.NoError(t, err)
	assert.Equal(t, order, next.PageOrder)

	cases := map[string][]string{
		"missing id":   {ids["e"], ids["d"], ids["c"], ids["b"]},
		"duplicate id": {ids["e"], ids["d"], ids["c"], ids["b"], ids["b"]},
		"unknown id":   {ids["e"], ids["d"], ids["c"], ids["b"], "ghost"},
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			same, err := ws.ReorderPages(clock, bad)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, ws.PageOrder, same.PageOrder)
		})
	}
}

func TestWorkspaceSettings(t *testing.T) {
	clock := &domain.CounterClock{}
	ws := domain.NewWorkspace(clock, "Team", "owner-1")
	next := ws.SetDarkMode(clock, true).Rename(clock, "Platform")
	assert.True(t, next.DarkMode)
	assert.Equal(t, "Platform", next.Name)
	assert.False(t, ws.DarkMode)
}

func TestTombstones(t *testing.T) {
	ws, _, ids := tree(t)
	ws = ws.MarkDeleted(ids["a"], ids["a"], ids["b"])
	assert.Equal(t, []string{ids["a"], ids["b"]}, ws.DeletedPageIDs)
	assert.True(t, ws.IsDeleted(ids["b"]))
	ws = ws.ClearDeleted(ids["a"])
	assert.Equal(t, []string{ids["b"]}, ws.DeletedPageIDs)
}

func TestLogicalClockIsMonotonic(t *testing.T) {
	c := domain.NewLogicalClock()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		require.Greater(t, next, prev)
		prev = next
	}
	future := time.Now().Add(time.Hour).UnixMilli()
	c.Observe(future)
	assert.Greater(t, c.Now(), future)
}

func TestInviteState(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	inv := domain.Invite{ID: "i", Role: domain.RoleEditor}
	assert.Equal(t, domain.InviteCreated, inv.State(now))

	inv.ExpiresAt = &past
	assert.Equal(t, domain.InviteExpired, inv.State(now))

	inv.AcceptedBy = "u"
	assert.Equal(t, domain.InviteAccepted, inv.State(now))

	inv.Revoked = true
	assert.Equal(t, domain.InviteRevoked, inv.State(now))
}

func TestRoles(t *testing.T) {
	assert.True(t, domain.RoleOwner.AtLeast(domain.RoleEditor))
	assert.True(t, domain.RoleEditor.CanWrite())
	assert.False(t, domain.RoleViewer.CanWrite())
	assert.False(t, domain.RoleEditor.CanManage())
	assert.True(t, domain.RoleOwner.CanManage())

	_, err := domain.ParseRole("admin")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDefaultAppData(t *testing.T) {
	data := domain.DefaultAppData(&domain.CounterClock{}, "u1")
	ws, ok := data.Current()
	require.True(t, ok)
	assert.Equal(t, domain.AppDataVersion, data.Version)
	require.Len(t, ws.PageOrder, 1)
	p := ws.Pages[ws.PageOrder[0]]
	assert.Equal(t, "Getting Started", p.Title)
	require.NoError(t, domain.ValidateBlocks(p.Blocks))
}

func TestAdoptOrder(t *testing.T) {
	c := &domain.CounterClock{}
	ws := domain.NewWorkspace(c, "W", "u")
	ws, a := ws.CreatePage(c, "")
	ws, b := ws.CreatePage(c, "")
	ws, d := ws.CreatePage(c, "")

	out := ws.AdoptOrder([]string{d.ID, "ghost", a.ID, d.ID})
	assert.Equal(t, []string{d.ID, a.ID, b.ID}, out.PageOrder)
	assert.Equal(t, ws.UpdatedAt, out.UpdatedAt)
	assert.Equal(t, []string{a.ID, b.ID, d.ID}, ws.PageOrder)
}
