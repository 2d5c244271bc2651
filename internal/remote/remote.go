// Package remote is the shared store of record. Adapter enforces the
// access rules and publishes change events; a Backend only stores rows.
package remote

import (
	"context"

	"notespace/internal/domain"
)

type Outcome int

const (
	Success Outcome = iota
	Conflict
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	default:
		return "failure"
	}
}

// SaveResult reports a conditional page write. Version is the stored
// version after a Success. Remote holds the row that won a Conflict; it is
// nil when the page no longer exists remotely.
type SaveResult struct {
	Outcome Outcome
	Version int64
	Remote  *domain.Page
	Err     error
}

// Store is what the app talks to.
type Store interface {
	ListWorkspaces(ctx context.Context, userID string) ([]domain.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	CreateWorkspace(ctx context.Context, actor string, ws domain.Workspace) error
	UpdateWorkspace(ctx context.Context, actor string, ws domain.Workspace) error
	DeleteWorkspace(ctx context.Context, actor, id string) error

	ListPages(ctx context.Context, workspaceID string) ([]domain.Page, error)
	GetPage(ctx context.Context, workspaceID, pageID string) (domain.Page, error)
	// SavePage writes page unconditionally when expectedVersion is nil.
	// Otherwise the write only lands if the stored version still equals
	// *expectedVersion.
	SavePage(ctx context.Context, workspaceID string, page domain.Page, expectedVersion *int64) SaveResult
	DeletePage(ctx context.Context, workspaceID, pageID, actor string) error

	ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error)
	// AddMember inserts a membership row. inviteID names the invite being
	// redeemed when the actor is not an owner; it may be empty.
	AddMember(ctx context.Context, actor string, m domain.Member, inviteID string) error
	RemoveMember(ctx context.Context, actor, workspaceID, userID string) error

	CreateInvite(ctx context.Context, actor string, inv domain.Invite) error
	FindInvite(ctx context.Context, token string) (domain.Invite, error)
	ListInvites(ctx context.Context, actor, workspaceID string) ([]domain.Invite, error)
	MarkInviteAccepted(ctx context.Context, inviteID, userID string) error
	RevokeInvite(ctx context.Context, actor, workspaceID, inviteID string) error

	Close() error
}

// Swap is the outcome of Backend.SwapPage. When Conflict is set nothing was
// written and Current holds the stored row, if any.
type Swap struct {
	Saved    domain.Page
	Created  bool
	Conflict bool
	Current  *domain.Page
}

// Backend is a row store. Implementations must make SwapPage atomic: the
// version check and the write happen as one step. Workspace rows carry
// settings only; Pages is always empty.
type Backend interface {
	InsertWorkspace(ctx context.Context, ws domain.Workspace, owner domain.Member) error
	Workspace(ctx context.Context, id string) (domain.Workspace, error)
	WorkspacesFor(ctx context.Context, userID string) ([]domain.Workspace, error)
	PutWorkspace(ctx context.Context, ws domain.Workspace) error
	// DeleteWorkspace removes the workspace with its pages, members and
	// invites.
	DeleteWorkspace(ctx context.Context, id string) error

	Pages(ctx context.Context, workspaceID string) ([]domain.Page, error)
	Page(ctx context.Context, workspaceID, pageID string) (domain.Page, error)
	// SwapPage stores p at domain.NextVersion(p.UpdatedAt, stored).
	SwapPage(ctx context.Context, p domain.Page, expected *int64) (Swap, error)
	DeletePage(ctx context.Context, workspaceID, pageID string) error

	Members(ctx context.Context, workspaceID string) ([]domain.Member, error)
	PutMember(ctx context.Context, m domain.Member) error
	DeleteMember(ctx context.Context, workspaceID, userID string) error

	PutInvite(ctx context.Context, inv domain.Invite) error
	Invite(ctx context.Context, id string) (domain.Invite, error)
	InviteByToken(ctx context.Context, token string) (domain.Invite, error)
	Invites(ctx context.Context, workspaceID string) ([]domain.Invite, error)

	Close() error
}

// Settings strips pages from ws, leaving the workspace row.
func Settings(ws domain.Workspace) domain.Workspace {
	ws.Pages = nil
	ws.Members = nil
	ws.Invites = nil
	ws.DeletedPageIDs = nil
	ws.PageOrder = append([]string(nil), ws.PageOrder...)
	return ws
}
