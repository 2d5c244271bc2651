package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notespace/internal/access"
	"notespace/internal/domain"
	"notespace/internal/remote"
)

// ─────────────────────────────────────────────────────────────
// Membership Service: invites, membership rows, workspace bootstrap
// ─────────────────────────────────────────────────────────────

type MembershipService struct {
	store  remote.Store
	issuer *access.Issuer
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// AcceptResult describes a redeemed invite. AlreadyMember is set when the
// user held a membership before, which is not an error.
type AcceptResult struct {
	Member        domain.Member
	AlreadyMember bool
}

// NewMembershipService mints invites valid for ttl; zero means no expiry.
func NewMembershipService(store remote.Store, issuer *access.Issuer, ttl time.Duration, log zerolog.Logger) *MembershipService {
	return &MembershipService{
		store:  store,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "membership").Logger(),
	}
}

// BootstrapWorkspace creates ws remotely together with the owner's
// membership row. It only works for ws.OwnerID.
func (s *MembershipService) BootstrapWorkspace(ctx context.Context, ws domain.Workspace) error {
	if err := s.store.CreateWorkspace(ctx, ws.OwnerID, ws); err != nil {
		return fmt.Errorf("bootstrap workspace %s: %w", ws.ID, err)
	}
	s.log.Info().Str("workspace", ws.ID).Str("owner", ws.OwnerID).Msg("workspace bootstrapped")
	return nil
}

// CreateInvite issues a signed invite for role. Owners cannot be invited.
func (s *MembershipService) CreateInvite(ctx context.Context, actor, workspaceID string, role domain.Role) (domain.Invite, error) {
	if role != domain.RoleEditor && role != domain.RoleViewer {
		return domain.Invite{}, &domain.ValidationError{Op: "create invite", Reason: fmt.Sprintf("cannot invite as %q", role)}
	}
	now := s.now()
	inv := domain.Invite{
		ID:          domain.NewID(),
		WorkspaceID: workspaceID,
		Role:        role,
		CreatedBy:   actor,
		CreatedAt:   now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		inv.ExpiresAt = &exp
	}
	token, err := s.issuer.Issue(inv)
	if err != nil {
		return domain.Invite{}, err
	}
	inv.Token = token
	if err := s.store.CreateInvite(ctx, actor, inv); err != nil {
		return domain.Invite{}, fmt.Errorf("create invite: %w", err)
	}
	s.log.Info().Str("workspace", workspaceID).Str("invite", inv.ID).Str("role", string(role)).Msg("invite created")
	return inv, nil
}

// Accept redeems token for userID. Unknown, tampered, expired, revoked and
// spent tokens fail with errors matching domain.ErrNotFound. A user who is
// already a member gets AlreadyMember instead of an error.
func (s *MembershipService) Accept(ctx context.Context, userID, token string) (AcceptResult, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return AcceptResult{}, err
	}
	inv, err := s.store.FindInvite(ctx, token)
	if err != nil {
		return AcceptResult{}, err
	}
	if inv.ID != claims.InviteID || inv.WorkspaceID != claims.WorkspaceID {
		return AcceptResult{}, domain.NotFound("invite", "token")
	}

	switch inv.State(s.now()) {
	case domain.InviteRevoked:
		return AcceptResult{}, domain.ErrInviteRevoked
	case domain.InviteExpired:
		return AcceptResult{}, domain.ErrInviteExpired
	}

	members, err := s.store.ListMembers(ctx, inv.WorkspaceID)
	if err != nil {
		return AcceptResult{}, err
	}
	if m, ok := domain.FindMember(members, userID); ok {
		return AcceptResult{Member: m, AlreadyMember: true}, nil
	}
	if inv.AcceptedBy != "" {
		return AcceptResult{}, domain.ErrInviteUsed
	}

	m := domain.Member{WorkspaceID: inv.WorkspaceID, UserID: userID, Role: inv.Role, JoinedAt: s.now()}
	err = s.store.AddMember(ctx, userID, m, inv.ID)
	if errors.Is(err, domain.ErrAlreadyMember) {
		return AcceptResult{Member: m, AlreadyMember: true}, nil
	}
	if err != nil {
		return AcceptResult{}, err
	}
	if err := s.store.MarkInviteAccepted(ctx, inv.ID, userID); err != nil {
		// The membership row exists, so a replay reports AlreadyMember.
		s.log.Warn().Err(err).Str("invite", inv.ID).Msg("mark invite accepted")
	}
	s.log.Info().Str("workspace", inv.WorkspaceID).Str("user", userID).Str("role", string(inv.Role)).Msg("invite accepted")
	return AcceptResult{Member: m}, nil
}

func (s *MembershipService) Revoke(ctx context.Context, actor, workspaceID, inviteID string) error {
	return s.store.RevokeInvite(ctx, actor, workspaceID, inviteID)
}

func (s *MembershipService) Invites(ctx context.Context, actor, workspaceID string) ([]domain.Invite, error) {
	return s.store.ListInvites(ctx, actor, workspaceID)
}

func (s *MembershipService) Members(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	return s.store.ListMembers(ctx, workspaceID)
}

func (s *MembershipService) RemoveMember(ctx context.Context, actor, workspaceID, userID string) error {
	return s.store.RemoveMember(ctx, actor, workspaceID, userID)
}
