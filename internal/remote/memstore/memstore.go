// Package memstore is an in-memory remote backend for tests and
// single-process setups.
package memstore

import (
	"context"
	"sort"
	"sync"

	"notespace/internal/domain"
	"notespace/internal/remote"
)

type Store struct {
	mu         sync.Mutex
	workspaces map[string]domain.Workspace
	pages      map[string]map[string]domain.Page
	members    map[string]map[string]domain.Member
	invites    map[string]domain.Invite

	failNext error
}

var _ remote.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		workspaces: make(map[string]domain.Workspace),
		pages:      make(map[string]map[string]domain.Page),
		members:    make(map[string]map[string]domain.Member),
		invites:    make(map[string]domain.Invite),
	}
}

// FailNext makes the next backend call return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) fault() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) InsertWorkspace(_ context.Context, ws domain.Workspace, owner domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	if _, ok := s.workspaces[ws.ID]; ok {
		return &domain.ValidationError{Op: "insert workspace", Reason: "duplicate id " + ws.ID}
	}
	s.workspaces[ws.ID] = remote.Settings(ws)
	s.pages[ws.ID] = make(map[string]domain.Page)
	s.members[ws.ID] = map[string]domain.Member{owner.UserID: owner}
	return nil
}

func (s *Store) Workspace(_ context.Context, id string) (domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return domain.Workspace{}, err
	}
	ws, ok := s.workspaces[id]
	if !ok {
		return domain.Workspace{}, domain.NotFound("workspace", id)
	}
	return remote.Settings(ws), nil
}

func (s *Store) WorkspacesFor(_ context.Context, userID string) ([]domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return nil, err
	}
	var out []domain.Workspace
	for id, ws := range s.workspaces {
		if _, ok := s.members[id][userID]; ok {
			out = append(out, remote.Settings(ws))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) PutWorkspace(_ context.Context, ws domain.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	if _, ok := s.workspaces[ws.ID]; !ok {
		return domain.NotFound("workspace", ws.ID)
	}
	s.workspaces[ws.ID] = remote.Settings(ws)
	return nil
}

func (s *Store) DeleteWorkspace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	delete(s.workspaces, id)
	delete(s.pages, id)
	delete(s.members, id)
	for invID, inv := range s.invites {
		if inv.WorkspaceID == id {
			delete(s.invites, invID)
		}
	}
	return nil
}

func (s *Store) Pages(_ context.Context, workspaceID string) ([]domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return nil, err
	}
	out := make([]domain.Page, 0, len(s.pages[workspaceID]))
	for _, p := range s.pages[workspaceID] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) Page(_ context.Context, workspaceID, pageID string) (domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return domain.Page{}, err
	}
	p, ok := s.pages[workspaceID][pageID]
	if !ok {
		return domain.Page{}, domain.NotFound("page", pageID)
	}
	return p.Clone(), nil
}

func (s *Store) SwapPage(_ context.Context, p domain.Page, expected *int64) (remote.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return remote.Swap{}, err
	}
	pages, ok := s.pages[p.WorkspaceID]
	if !ok {
		return remote.Swap{}, domain.NotFound("workspace", p.WorkspaceID)
	}

	cur, exists := pages[p.ID]
	switch {
	case !exists && expected != nil:
		return remote.Swap{Conflict: true}, nil
	case exists && expected != nil && *expected != cur.UpdatedAt:
		c := cur.Clone()
		return remote.Swap{Conflict: true, Current: &c}, nil
	}

	saved := p.Clone()
	if exists {
		saved.UpdatedAt = domain.NextVersion(p.UpdatedAt, cur.UpdatedAt)
		saved.CreatedAt = cur.CreatedAt
	}
	pages[p.ID] = saved
	return remote.Swap{Saved: saved.Clone(), Created: !exists}, nil
}

func (s *Store) DeletePage(_ context.Context, workspaceID, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	if _, ok := s.pages[workspaceID][pageID]; !ok {
		return domain.NotFound("page", pageID)
	}
	delete(s.pages[workspaceID], pageID)
	return nil
}

func (s *Store) Members(_ context.Context, workspaceID string) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0, len(s.members[workspaceID]))
	for _, m := range s.members[workspaceID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) PutMember(_ context.Context, m domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	if s.members[m.WorkspaceID] == nil {
		return domain.NotFound("workspace", m.WorkspaceID)
	}
	s.members[m.WorkspaceID][m.UserID] = m
	return nil
}

func (s *Store) DeleteMember(_ context.Context, workspaceID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	delete(s.members[workspaceID], userID)
	return nil
}

func (s *Store) PutInvite(_ context.Context, inv domain.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return err
	}
	s.invites[inv.ID] = inv
	return nil
}

func (s *Store) Invite(_ context.Context, id string) (domain.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return domain.Invite{}, err
	}
	inv, ok := s.invites[id]
	if !ok {
		return domain.Invite{}, domain.NotFound("invite", id)
	}
	return inv, nil
}

func (s *Store) InviteByToken(_ context.Context, token string) (domain.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return domain.Invite{}, err
	}
	for _, inv := range s.invites {
		if inv.Token == token {
			return inv, nil
		}
	}
	return domain.Invite{}, domain.NotFound("invite", "token")
}

func (s *Store) Invites(_ context.Context, workspaceID string) ([]domain.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(); err != nil {
		return nil, err
	}
	var out []domain.Invite
	for _, inv := range s.invites {
		if inv.WorkspaceID == workspaceID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Close() error { return nil }

// NewStore serves a fresh in-memory backend through remote.Adapter.
func NewStore(opts remote.Options) (*remote.Adapter, *Store) {
	b := New()
	return remote.NewAdapter("memory", b, opts), b
}
