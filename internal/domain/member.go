package domain

import (
	"fmt"
	"time"
)

// Role is a workspace permission level: owner > editor > viewer.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Rank orders roles; unknown roles rank below viewer.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func (r Role) AtLeast(min Role) bool { return r.Rank() >= min.Rank() }

// CanWrite reports whether r may edit pages.
func (r Role) CanWrite() bool { return r.AtLeast(RoleEditor) }

// CanManage reports whether r may change membership and invites.
func (r Role) CanManage() bool { return r == RoleOwner }

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleEditor, RoleViewer:
		return r, nil
	}
	return "", invalid("parse role", "unknown role %q", s)
}

type Member struct {
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// FindMember returns the membership row of userID.
func FindMember(members []Member, userID string) (Member, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

type InviteState string

const (
	InviteCreated  InviteState = "created"
	InviteAccepted InviteState = "accepted"
	InviteExpired  InviteState = "expired"
	InviteRevoked  InviteState = "revoked"
)

// Invite grants Role in a workspace to whoever presents Token.
type Invite struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Token       string     `json:"token"`
	Role        Role       `json:"role"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Revoked     bool       `json:"revoked"`
	AcceptedBy  string     `json:"acceptedBy,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// State derives the lifecycle state at now. Revocation takes precedence
// over acceptance and expiry.
func (i Invite) State(now time.Time) InviteState {
	switch {
	case i.Revoked:
		return InviteRevoked
	case i.AcceptedBy != "":
		return InviteAccepted
	case i.ExpiresAt != nil && !now.Before(*i.ExpiresAt):
		return InviteExpired
	}
	return InviteCreated
}

func (i Invite) String() string {
	return fmt.Sprintf("invite %s (%s, %s)", i.ID, i.WorkspaceID, i.Role)
}
