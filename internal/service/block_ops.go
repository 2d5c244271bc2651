package service

import (
	"context"
	"errors"
	"fmt"

	"notespace/internal/domain"
	"notespace/internal/history"
)

// ── Blocks ─────────────────────────────────────────────────

// editBlocks replaces pageID's block forest with fn's result, records an
// undo step and queues the push. An unchanged forest is a no-op.
func (s *WorkspaceService) editBlocks(ctx context.Context, pageID string, fn func([]domain.Block) ([]domain.Block, error)) error {
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		p, ok := ws.Page(pageID)
		if !ok {
			return ws, domain.NotFound("page", pageID)
		}
		blocks, err := fn(p.Blocks)
		if err != nil {
			return ws, err
		}
		if domain.BlocksEqual(blocks, p.Blocks) {
			return ws, errNoChange
		}
		s.historyLocked(pageID, p.Blocks).Push(domain.CloneBlocks(blocks))
		return ws.UpdatePageBlocks(s.clock, pageID, blocks), nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	s.pageChanged(eng, pageID)
	return nil
}

func (s *WorkspaceService) historyLocked(pageID string, initial []domain.Block) *history.History[[]domain.Block] {
	if h, ok := s.histories[pageID]; ok {
		return h
	}
	cfg := s.opts.Config
	h := history.New(domain.CloneBlocks(initial), history.Options[[]domain.Block]{
		MaxDepth: cfg.HistoryDepth,
		Debounce: cfg.HistoryDebounce.Duration,
		Equal:    domain.BlocksEqual,
	})
	s.histories[pageID] = h
	return h
}

func blockNotFound(id string) error {
	return domain.NotFound("block", id)
}

// AddBlock inserts a new block after afterID, or at the end of the page
// when afterID is empty or unknown.
func (s *WorkspaceService) AddBlock(ctx context.Context, pageID, afterID string, t domain.BlockType, content string) (domain.Block, error) {
	if !t.Valid() {
		return domain.Block{}, &domain.ValidationError{Op: "add block", Reason: fmt.Sprintf("unknown block type %q", t)}
	}
	nb := domain.NewBlock(t, content)
	err := s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		return domain.InsertAfter(list, afterID, nb), nil
	})
	return nb, err
}

func (s *WorkspaceService) UpdateBlockContent(ctx context.Context, pageID, blockID, content string) error {
	return s.updateBlock(ctx, pageID, blockID, func(b domain.Block) domain.Block {
		b.Content = content
		return b
	})
}

func (s *WorkspaceService) ChangeBlockType(ctx context.Context, pageID, blockID string, t domain.BlockType) error {
	if !t.Valid() {
		return &domain.ValidationError{Op: "change block type", Reason: fmt.Sprintf("unknown block type %q", t)}
	}
	return s.updateBlock(ctx, pageID, blockID, func(b domain.Block) domain.Block {
		return domain.ChangeType(b, t)
	})
}

func (s *WorkspaceService) ToggleTodo(ctx context.Context, pageID, blockID string) error {
	return s.updateBlock(ctx, pageID, blockID, domain.ToggleTodo)
}

// SetBlockAttrs replaces the type-specific attributes of a block.
func (s *WorkspaceService) SetBlockAttrs(ctx context.Context, pageID, blockID string, attrs domain.Attrs) error {
	return s.updateBlock(ctx, pageID, blockID, func(b domain.Block) domain.Block {
		b.Attrs = attrs
		return b
	})
}

func (s *WorkspaceService) updateBlock(ctx context.Context, pageID, blockID string, fn func(domain.Block) domain.Block) error {
	return s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		out, ok := domain.UpdateBlock(list, blockID, fn)
		if !ok {
			return nil, blockNotFound(blockID)
		}
		return out, nil
	})
}

// DeleteBlock removes a block and its subtree.
func (s *WorkspaceService) DeleteBlock(ctx context.Context, pageID, blockID string) error {
	return s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		out, ok := domain.RemoveBlock(list, blockID)
		if !ok {
			return nil, blockNotFound(blockID)
		}
		return out, nil
	})
}

// MergeWithPrevious joins blockID into its previous sibling. The first
// block of a sibling list has nothing to merge into and is left alone.
func (s *WorkspaceService) MergeWithPrevious(ctx context.Context, pageID, blockID string) error {
	return s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		b, ok := domain.DeepFindByID(list, blockID)
		if !ok {
			return nil, blockNotFound(blockID)
		}
		prev, ok := domain.PreviousSibling(list, blockID)
		if !ok {
			return list, nil
		}
		merged := domain.Merge(prev, b)
		out, _ := domain.UpdateBlock(list, prev.ID, func(domain.Block) domain.Block { return merged })
		out, _ = domain.RemoveBlock(out, blockID)
		return out, nil
	})
}

// MoveBlock reorders the page's top-level blocks. Out of range indices are
// a no-op.
func (s *WorkspaceService) MoveBlock(ctx context.Context, pageID string, from, to int) error {
	return s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		return domain.Move(list, from, to), nil
	})
}

// DuplicateBlock copies a block with its subtree right after itself.
func (s *WorkspaceService) DuplicateBlock(ctx context.Context, pageID, blockID string) (domain.Block, error) {
	var dup domain.Block
	err := s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		b, ok := domain.DeepFindByID(list, blockID)
		if !ok {
			return nil, blockNotFound(blockID)
		}
		dup = domain.DeepDuplicate(b)
		return domain.InsertAfter(list, blockID, dup), nil
	})
	return dup, err
}

// ── Clipboard ──────────────────────────────────────────────

// CopyBlocks serializes the given blocks, subtrees included, into the
// internal clipboard and returns the payload.
func (s *WorkspaceService) CopyBlocks(pageID string, blockIDs ...string) (string, error) {
	p, err := s.GetPage(pageID)
	if err != nil {
		return "", err
	}
	blocks := make([]domain.Block, 0, len(blockIDs))
	for _, id := range blockIDs {
		b, ok := domain.DeepFindByID(p.Blocks, id)
		if !ok {
			return "", blockNotFound(id)
		}
		blocks = append(blocks, b)
	}
	payload := domain.SerializeClipboard(blocks)

	s.mu.Lock()
	s.clipboard = payload
	s.mu.Unlock()
	return payload, nil
}

// PasteBlocks inserts payload after afterID with fresh ids. An empty
// payload pastes the internal clipboard; anything that is not a clipboard
// payload is parsed as plain text.
func (s *WorkspaceService) PasteBlocks(ctx context.Context, pageID, afterID, payload string) ([]domain.Block, error) {
	if payload == "" {
		s.mu.Lock()
		payload = s.clipboard
		s.mu.Unlock()
	}
	blocks, ok := domain.DeserializeClipboard(payload)
	if !ok {
		blocks = domain.FromPlainText(payload)
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	err := s.editBlocks(ctx, pageID, func(list []domain.Block) ([]domain.Block, error) {
		after := afterID
		for _, b := range blocks {
			list = domain.InsertAfter(list, after, b)
			after = b.ID
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// ExportPlainText renders a page as indented plain text.
func (s *WorkspaceService) ExportPlainText(pageID string) (string, error) {
	p, err := s.GetPage(pageID)
	if err != nil {
		return "", err
	}
	return domain.ToPlainText(p.Blocks), nil
}

// ── History ────────────────────────────────────────────────

// Undo restores the previous block snapshot of pageID. ok is false when
// there is nothing to undo.
func (s *WorkspaceService) Undo(ctx context.Context, pageID string) (bool, error) {
	return s.travel(ctx, pageID, (*history.History[[]domain.Block]).Undo)
}

// Redo re-applies the most recently undone snapshot.
func (s *WorkspaceService) Redo(ctx context.Context, pageID string) (bool, error) {
	return s.travel(ctx, pageID, (*history.History[[]domain.Block]).Redo)
}

func (s *WorkspaceService) travel(ctx context.Context, pageID string, step func(*history.History[[]domain.Block]) ([]domain.Block, bool)) (bool, error) {
	_, eng, err := s.mutate(ctx, func(ws domain.Workspace) (domain.Workspace, error) {
		if _, ok := ws.Page(pageID); !ok {
			return ws, domain.NotFound("page", pageID)
		}
		h, ok := s.histories[pageID]
		if !ok {
			return ws, errNoChange
		}
		blocks, ok := step(h)
		if !ok {
			return ws, errNoChange
		}
		return ws.UpdatePageBlocks(s.clock, pageID, domain.CloneBlocks(blocks)), nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.pageChanged(eng, pageID)
	return true, nil
}

// CanUndo reports whether pageID has undo and redo steps.
func (s *WorkspaceService) CanUndo(pageID string) (undo, redo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[pageID]
	if !ok {
		return false, false
	}
	return h.CanUndo(), h.CanRedo()
}
