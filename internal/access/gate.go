// Package access holds the permission rules every remote backend enforces
// and the signed invite tokens.
package access

import (
	"time"

	"notespace/internal/domain"
)

// RoleOf returns the actor's role, or "" when the actor is not a member.
func RoleOf(members []domain.Member, actor string) domain.Role {
	if m, ok := domain.FindMember(members, actor); ok {
		return m.Role
	}
	return ""
}

// CanRead allows any member.
func CanRead(members []domain.Member, actor string) error {
	if RoleOf(members, actor).AtLeast(domain.RoleViewer) {
		return nil
	}
	return domain.Forbidden(actor, "read this workspace")
}

// CanWritePages allows editors and owners.
func CanWritePages(members []domain.Member, actor string) error {
	if RoleOf(members, actor).CanWrite() {
		return nil
	}
	return domain.Forbidden(actor, "edit pages")
}

// CanManage allows owners only: membership, invites, workspace settings
// and deletion.
func CanManage(members []domain.Member, actor string) error {
	if RoleOf(members, actor).CanManage() {
		return nil
	}
	return domain.Forbidden(actor, "manage this workspace")
}

// IsBootstrap reports whether m is the first membership row of ws, inserted
// by the owner recorded on the workspace itself.
func IsBootstrap(ws domain.Workspace, members []domain.Member, actor string, m domain.Member) bool {
	return len(members) == 0 &&
		ws.OwnerID != "" &&
		actor == ws.OwnerID &&
		m.UserID == ws.OwnerID &&
		m.Role == domain.RoleOwner
}

// CanAddMember decides whether actor may insert membership row m.
//
// Three paths are allowed: the bootstrap insert of the workspace owner when
// no rows exist yet, an owner adding anyone, and a user redeeming a live
// invite for themself at exactly the invited role.
func CanAddMember(ws domain.Workspace, members []domain.Member, actor string, m domain.Member, inv *domain.Invite, now time.Time) error {
	if m.WorkspaceID != ws.ID {
		return domain.Forbidden(actor, "add members across workspaces")
	}
	if IsBootstrap(ws, members, actor, m) {
		return nil
	}
	if RoleOf(members, actor).CanManage() {
		return nil
	}
	if inv == nil {
		return domain.Forbidden(actor, "add members")
	}
	if err := CheckRedeemable(*inv, now); err != nil {
		return err
	}
	if inv.WorkspaceID != ws.ID || m.UserID != actor || m.Role != inv.Role {
		return domain.Forbidden(actor, "redeem this invite")
	}
	return nil
}

// CheckRedeemable maps the invite lifecycle to acceptance errors. Accepted
// invites are single use.
func CheckRedeemable(inv domain.Invite, now time.Time) error {
	switch inv.State(now) {
	case domain.InviteRevoked:
		return domain.ErrInviteRevoked
	case domain.InviteExpired:
		return domain.ErrInviteExpired
	case domain.InviteAccepted:
		return domain.ErrInviteUsed
	}
	return nil
}
