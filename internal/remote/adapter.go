package remote

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"notespace/internal/access"
	"notespace/internal/domain"
	"notespace/internal/realtime"
)

type Options struct {
	// Publisher receives an event after every committed write. Optional.
	Publisher realtime.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Adapter is the Store every backend is served through.
type Adapter struct {
	b    Backend
	pub  realtime.Publisher
	log  zerolog.Logger
	now  func() time.Time
	name string
}

var _ Store = (*Adapter)(nil)

// NewAdapter serves b under name (used in logs and errors).
func NewAdapter(name string, b Backend, opts Options) *Adapter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{
		b:    b,
		pub:  opts.Publisher,
		log:  opts.Logger.With().Str("component", "remote").Str("backend", name).Logger(),
		now:  opts.Now,
		name: name,
	}
}

func (a *Adapter) members(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	members, err := a.b.Members(ctx, workspaceID)
	return members, domain.Transport(a.name+" members", err)
}

func (a *Adapter) publish(ctx context.Context, e realtime.Event, err error) {
	if a.pub == nil {
		return
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("build event")
		return
	}
	if err := a.pub.Publish(ctx, e); err != nil {
		a.log.Warn().Err(err).Str("table", string(e.Table)).Str("row", e.RowID).Msg("publish")
	}
}

func (a *Adapter) ListWorkspaces(ctx context.Context, userID string) ([]domain.Workspace, error) {
	list, err := a.b.WorkspacesFor(ctx, userID)
	return list, domain.Transport(a.name+" list workspaces", err)
}

func (a *Adapter) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	ws, err := a.b.Workspace(ctx, id)
	return ws, domain.Transport(a.name+" get workspace", err)
}

// CreateWorkspace inserts the workspace row and its owner membership. Only
// the owner recorded on ws may do this.
func (a *Adapter) CreateWorkspace(ctx context.Context, actor string, ws domain.Workspace) error {
	owner := domain.Member{WorkspaceID: ws.ID, UserID: actor, Role: domain.RoleOwner, JoinedAt: a.now()}
	if !access.IsBootstrap(ws, nil, actor, owner) {
		return domain.Forbidden(actor, "create a workspace owned by "+ws.OwnerID)
	}
	if err := a.b.InsertWorkspace(ctx, Settings(ws), owner); err != nil {
		return domain.Transport(a.name+" create workspace", err)
	}
	e, err := realtime.WorkspaceEvent(realtime.OpInsert, Settings(ws), actor)
	a.publish(ctx, e, err)
	return nil
}

// UpdateWorkspace stores name, dark mode and page order. Owners may rename;
// editors may reorder pages.
func (a *Adapter) UpdateWorkspace(ctx context.Context, actor string, ws domain.Workspace) error {
	members, err := a.members(ctx, ws.ID)
	if err != nil {
		return err
	}
	cur, err := a.b.Workspace(ctx, ws.ID)
	if err != nil {
		return domain.Transport(a.name+" update workspace", err)
	}
	if cur.Name != ws.Name || cur.OwnerID != ws.OwnerID {
		if err := access.CanManage(members, actor); err != nil {
			return err
		}
	} else if err := access.CanWritePages(members, actor); err != nil {
		return err
	}
	ws.OwnerID = cur.OwnerID
	ws.CreatedAt = cur.CreatedAt
	if err := a.b.PutWorkspace(ctx, Settings(ws)); err != nil {
		return domain.Transport(a.name+" update workspace", err)
	}
	e, err := realtime.WorkspaceEvent(realtime.OpUpdate, Settings(ws), actor)
	a.publish(ctx, e, err)
	return nil
}

func (a *Adapter) DeleteWorkspace(ctx context.Context, actor, id string) error {
	members, err := a.members(ctx, id)
	if err != nil {
		return err
	}
	if err := access.CanManage(members, actor); err != nil {
		return err
	}
	if err := a.b.DeleteWorkspace(ctx, id); err != nil {
		return domain.Transport(a.name+" delete workspace", err)
	}
	e, err := realtime.WorkspaceEvent(realtime.OpDelete, domain.Workspace{ID: id, UpdatedAt: a.now().UnixMilli()}, actor)
	a.publish(ctx, e, err)
	return nil
}

func (a *Adapter) ListPages(ctx context.Context, workspaceID string) ([]domain.Page, error) {
	pages, err := a.b.Pages(ctx, workspaceID)
	return pages, domain.Transport(a.name+" list pages", err)
}

func (a *Adapter) GetPage(ctx context.Context, workspaceID, pageID string) (domain.Page, error) {
	p, err := a.b.Page(ctx, workspaceID, pageID)
	return p, domain.Transport(a.name+" get page", err)
}

// SavePage never returns an error directly; failures come back as a
// Failure outcome.
func (a *Adapter) SavePage(ctx context.Context, workspaceID string, page domain.Page, expectedVersion *int64) SaveResult {
	page.WorkspaceID = workspaceID
	if err := domain.ValidateBlocks(page.Blocks); err != nil {
		return SaveResult{Outcome: Failure, Err: err}
	}
	members, err := a.members(ctx, workspaceID)
	if err != nil {
		return SaveResult{Outcome: Failure, Err: err}
	}
	if err := access.CanWritePages(members, page.UpdatedBy); err != nil {
		return SaveResult{Outcome: Failure, Err: err}
	}

	swap, err := a.b.SwapPage(ctx, page, expectedVersion)
	if err != nil {
		return SaveResult{Outcome: Failure, Err: domain.Transport(a.name+" save page", err)}
	}
	if swap.Conflict {
		res := SaveResult{Outcome: Conflict, Remote: swap.Current}
		if swap.Current != nil {
			res.Version = swap.Current.UpdatedAt
		}
		a.log.Debug().Str("page", page.ID).Msg("save conflict")
		return res
	}

	op := realtime.OpUpdate
	if swap.Created {
		op = realtime.OpInsert
	}
	e, err := realtime.PageEvent(op, swap.Saved)
	a.publish(ctx, e, err)
	return SaveResult{Outcome: Success, Version: swap.Saved.UpdatedAt}
}

func (a *Adapter) DeletePage(ctx context.Context, workspaceID, pageID, actor string) error {
	members, err := a.members(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := access.CanWritePages(members, actor); err != nil {
		return err
	}
	if err := a.b.DeletePage(ctx, workspaceID, pageID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return domain.Transport(a.name+" delete page", err)
	}
	e, err := realtime.PageEvent(realtime.OpDelete, domain.Page{
		ID:          pageID,
		WorkspaceID: workspaceID,
		UpdatedBy:   actor,
		UpdatedAt:   a.now().UnixMilli(),
	})
	a.publish(ctx, e, err)
	return nil
}

func (a *Adapter) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	return a.members(ctx, workspaceID)
}

func (a *Adapter) AddMember(ctx context.Context, actor string, m domain.Member, inviteID string) error {
	ws, err := a.b.Workspace(ctx, m.WorkspaceID)
	if err != nil {
		return domain.Transport(a.name+" add member", err)
	}
	members, err := a.members(ctx, m.WorkspaceID)
	if err != nil {
		return err
	}
	if _, ok := domain.FindMember(members, m.UserID); ok {
		return domain.ErrAlreadyMember
	}

	var inv *domain.Invite
	if inviteID != "" {
		found, err := a.b.Invite(ctx, inviteID)
		if err != nil {
			return domain.Transport(a.name+" add member", err)
		}
		inv = &found
	}
	if err := access.CanAddMember(ws, members, actor, m, inv, a.now()); err != nil {
		return err
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = a.now()
	}
	return domain.Transport(a.name+" add member", a.b.PutMember(ctx, m))
}

// RemoveMember lets owners remove anyone and members remove themselves. The
// last owner stays.
func (a *Adapter) RemoveMember(ctx context.Context, actor, workspaceID, userID string) error {
	members, err := a.members(ctx, workspaceID)
	if err != nil {
		return err
	}
	target, ok := domain.FindMember(members, userID)
	if !ok {
		return domain.NotFound("member", userID)
	}
	if actor != userID {
		if err := access.CanManage(members, actor); err != nil {
			return err
		}
	}
	if target.Role == domain.RoleOwner {
		owners := 0
		for _, m := range members {
			if m.Role == domain.RoleOwner {
				owners++
			}
		}
		if owners == 1 {
			return domain.Forbidden(actor, "remove the last owner")
		}
	}
	return domain.Transport(a.name+" remove member", a.b.DeleteMember(ctx, workspaceID, userID))
}

func (a *Adapter) CreateInvite(ctx context.Context, actor string, inv domain.Invite) error {
	members, err := a.members(ctx, inv.WorkspaceID)
	if err != nil {
		return err
	}
	if err := access.CanManage(members, actor); err != nil {
		return err
	}
	inv.CreatedBy = actor
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = a.now()
	}
	return domain.Transport(a.name+" create invite", a.b.PutInvite(ctx, inv))
}

func (a *Adapter) FindInvite(ctx context.Context, token string) (domain.Invite, error) {
	inv, err := a.b.InviteByToken(ctx, token)
	return inv, domain.Transport(a.name+" find invite", err)
}

func (a *Adapter) ListInvites(ctx context.Context, actor, workspaceID string) ([]domain.Invite, error) {
	members, err := a.members(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := access.CanManage(members, actor); err != nil {
		return nil, err
	}
	list, err := a.b.Invites(ctx, workspaceID)
	return list, domain.Transport(a.name+" list invites", err)
}

// MarkInviteAccepted closes a live invite once userID holds the membership
// it grants.
func (a *Adapter) MarkInviteAccepted(ctx context.Context, inviteID, userID string) error {
	inv, err := a.b.Invite(ctx, inviteID)
	if err != nil {
		return domain.Transport(a.name+" accept invite", err)
	}
	if err := access.CheckRedeemable(inv, a.now()); err != nil {
		return err
	}
	members, err := a.members(ctx, inv.WorkspaceID)
	if err != nil {
		return err
	}
	if _, ok := domain.FindMember(members, userID); !ok {
		return domain.Forbidden(userID, "accept an invite without joining")
	}
	inv.AcceptedBy = userID
	return domain.Transport(a.name+" accept invite", a.b.PutInvite(ctx, inv))
}

func (a *Adapter) RevokeInvite(ctx context.Context, actor, workspaceID, inviteID string) error {
	members, err := a.members(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := access.CanManage(members, actor); err != nil {
		return err
	}
	inv, err := a.b.Invite(ctx, inviteID)
	if err != nil {
		return domain.Transport(a.name+" revoke invite", err)
	}
	if inv.WorkspaceID != workspaceID {
		return domain.NotFound("invite", inviteID)
	}
	inv.Revoked = true
	return domain.Transport(a.name+" revoke invite", a.b.PutInvite(ctx, inv))
}

func (a *Adapter) Close() error {
	return a.b.Close()
}
