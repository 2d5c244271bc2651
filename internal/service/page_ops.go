package service

import (
	"context"

	"notespace/internal/domain"
	"notespace/internal/reconcile"
)

// ── Pages ──────────────────────────────────────────────────

// ListPages returns the open workspace's pages in navigation order.
func (s *WorkspaceService) ListPages() ([]domain.Page, error) {
	ws, err := s.current()
	if err != nil {
		return nil, err
	}
	return ws.OrderedPages(), nil
}

func (s *WorkspaceService) GetPage(id string) (domain.Page, error) {
	ws, err := s.current()
	if err != nil {
		return domain.Page{}, err
	}
	p, ok := ws.Page(id)
	if !ok {
		return domain.Page{}, domain.NotFound("page", id)
	}
	return p.Clone(), nil
}

// CreatePage adds an untitled page under parentID, or at the top level
// when parentID is empty or unknown.
func (s *WorkspaceService) CreatePage(ctx context.Context, parentID string) (domain.Page, error) {
	var page domain.Page
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		ws, page = ws.CreatePage(s.clock, parentID)
		return ws, nil
	})
	if err != nil {
		return domain.Page{}, err
	}
	s.pageChanged(eng, page.ID)
	return page, nil
}

// DeletePage removes id and its descendants. The removed ids stay
// tombstoned until the remote confirms the delete.
func (s *WorkspaceService) DeletePage(ctx context.Context, id string) ([]string, error) {
	var removed []string
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		ws, removed = ws.DeletePage(s.clock, id)
		if len(removed) == 0 {
			return ws, domain.NotFound("page", id)
		}
		for _, r := range removed {
			delete(s.histories, r)
		}
		return ws.MarkDeleted(removed...), nil
	})
	if err != nil {
		return nil, err
	}
	if eng != nil {
		eng.EnqueueDelete(removed...)
	}
	s.emit(EventWorkspaceChanged, removed)
	return removed, nil
}

func (s *WorkspaceService) RenamePage(ctx context.Context, id, title string) error {
	return s.editPage(ctx, id, func(ws domain.Workspace) domain.Workspace { return ws.RenamePage(s.clock, id, title) })
}

func (s *WorkspaceService) SetIcon(ctx context.Context, id, icon string) error {
	return s.editPage(ctx, id, func(ws domain.Workspace) domain.Workspace { return ws.SetIcon(s.clock, id, icon) })
}

func (s *WorkspaceService) SetCover(ctx context.Context, id, cover string) error {
	return s.editPage(ctx, id, func(ws domain.Workspace) domain.Workspace { return ws.SetCover(s.clock, id, cover) })
}

// ReparentPage moves id under newParent; empty means top level.
func (s *WorkspaceService) ReparentPage(ctx context.Context, id, newParent string) error {
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		return ws.Reparent(s.clock, id, newParent)
	})
	if err != nil {
		return err
	}
	s.pageChanged(eng, id)
	return nil
}

// ReorderPages sets the navigation order. order must list every page once.
func (s *WorkspaceService) ReorderPages(ctx context.Context, order []string) error {
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		return ws.ReorderPages(s.clock, order)
	})
	if err != nil {
		return err
	}
	if eng != nil {
		eng.EnqueueWorkspace()
	}
	s.emit(EventWorkspaceChanged, order)
	return nil
}

func (s *WorkspaceService) editPage(ctx context.Context, id string, fn func(domain.Workspace) domain.Workspace) error {
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		if _, ok := ws.Page(id); !ok {
			return ws, domain.NotFound("page", id)
		}
		return fn(ws), nil
	})
	if err != nil {
		return err
	}
	s.pageChanged(eng, id)
	return nil
}

// pageChanged queues the push and tells the UI.
func (s *WorkspaceService) pageChanged(eng *reconcile.Engine, pageID string) {
	if eng != nil {
		eng.Enqueue(pageID)
	}
	s.emit(EventPageChanged, pageID)
}
