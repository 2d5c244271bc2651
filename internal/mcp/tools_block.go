package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"notespace/internal/domain"
)

func (s *Server) registerBlockTools() {
	// ── list_blocks ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List the blocks of a page in document order, nested blocks included, optionally filtered by type"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("type", mcp.Description("Filter by block type (optional)")),
	), s.handleListBlocks)

	// ── get_page_text ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_page_text",
		mcp.WithDescription("Read a page as indented plain text"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleGetPageText)

	// ── add_block ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("add_block",
		mcp.WithDescription("Insert a block after another block, or at the end of the page"),
		mcp.WithString("type",
			mcp.Description("Block type: text, heading1, heading2, heading3, bulleted, numbered, todo, code, quote, divider, toggle, callout, image, table, video, file"),
			mcp.Required(),
		),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("afterId", mcp.Description("Insert after this block (optional, appends if omitted)")),
		mcp.WithString("content", mcp.Description("Initial content (optional)")),
	), s.handleAddBlock)

	// ── update_block ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("update_block",
		mcp.WithDescription("Replace the content of a block, and optionally convert its type"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("blockId", mcp.Description("Block ID"), mcp.Required()),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("type", mcp.Description("New block type (optional)")),
	), s.handleUpdateBlock)

	// ── toggle_todo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("toggle_todo",
		mcp.WithDescription("Check or uncheck a todo block"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("blockId", mcp.Description("Todo block ID"), mcp.Required()),
	), s.handleToggleTodo)

	// ── move_block ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("move_block",
		mcp.WithDescription("Move a top-level block to another index on its page"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithNumber("from", mcp.Description("Current index"), mcp.Required()),
		mcp.WithNumber("to", mcp.Description("Target index"), mcp.Required()),
	), s.handleMoveBlock)

	// ── delete_block (destructive) ─────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_block",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete a block and its nested blocks. Requires user approval."),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("blockId", mcp.Description("Block ID to delete"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteBlock)

	// ── undo / redo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last block edit on a page"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleUndo)
	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone block edit on a page"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleRedo)
}

// ── Handlers ───────────────────────────────────────────────

type blockSummary struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ParentID string `json:"parentId,omitempty"`
	Depth    int    `json:"depth"`
	Checked *bool  `json:"checked,omitempty"`
	Preview string `json:"preview"` // first 200 chars of content
}

func summarizeBlock(b domain.Block, depth int) blockSummary {
	preview := b.Content
	if len(preview) > 200 {
		preview = preview[:200] + "…"
	}
	sum := blockSummary{ID: b.ID, Type: string(b.Type), Depth: depth, Preview: preview}
	if todo, ok := b.Attrs.(domain.TodoAttrs); ok {
		checked := todo.Checked
		sum.Checked = &checked
	}
	return sum
}

// flattenBlocks lists the page's blocks pre-order with nesting depth and parent.
func flattenBlocks(list []domain.Block) ([]blockSummary, error) {
	f, err := domain.NewForest(list)
	if err != nil {
		return nil, err
	}
	ids := f.IDs()
	out := make([]blockSummary, 0, len(ids))
	for _, id := range ids {
		b, _ := f.Find(id)
		sum := summarizeBlock(b, f.Depth(id))
		sum.ParentID, _ = f.Parent(id)
		out = append(out, sum)
	}
	return out, nil
}

func (s *Server) handleListBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	page, err := s.ws.GetPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	summaries, err := flattenBlocks(page.Blocks)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	if filterType := req.GetString("type", ""); filterType != "" {
		filtered := []blockSummary{}
		for _, b := range summaries {
			if b.Type == filterType {
				filtered = append(filtered, b)
			}
		}
		return jsonResult(filtered)
	}
	return jsonResult(summaries)
}

func (s *Server) handleGetPageText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	text, err := s.ws.ExportPlainText(pageID)
	if err != nil {
		return nil, fmt.Errorf("export page: %w", err)
	}
	return textResult(text), nil
}

func parseBlockType(raw string) (domain.BlockType, error) {
	t := domain.BlockType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown block type %q", raw)
	}
	return t, nil
}

func (s *Server) handleAddBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := parseBlockType(req.GetString("type", ""))
	if err != nil {
		return nil, err
	}
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	block, err := s.ws.AddBlock(ctx, pageID, req.GetString("afterId", ""), t, req.GetString("content", ""))
	if err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}
	s.emitActivity(ctx, "add_block", pageID)
	return jsonResult(summarizeBlock(block, 0))
}

func (s *Server) handleUpdateBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	blockID := req.GetString("blockId", "")
	if blockID == "" {
		return nil, fmt.Errorf("blockId is required")
	}

	args := req.GetArguments()
	if raw, ok := args["type"].(string); ok && raw != "" {
		t, err := parseBlockType(raw)
		if err != nil {
			return nil, err
		}
		if err := s.ws.ChangeBlockType(ctx, pageID, blockID, t); err != nil {
			return nil, fmt.Errorf("change block type: %w", err)
		}
	}
	if content, ok := args["content"].(string); ok {
		if err := s.ws.UpdateBlockContent(ctx, pageID, blockID, content); err != nil {
			return nil, fmt.Errorf("update block: %w", err)
		}
	}
	s.emitActivity(ctx, "update_block", pageID)
	return textResult(fmt.Sprintf("Block %s updated", blockID)), nil
}

func (s *Server) handleToggleTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	blockID := req.GetString("blockId", "")
	if err := s.ws.ToggleTodo(ctx, pageID, blockID); err != nil {
		return nil, fmt.Errorf("toggle todo: %w", err)
	}
	s.emitActivity(ctx, "toggle_todo", pageID)
	return textResult(fmt.Sprintf("Todo %s toggled", blockID)), nil
}

func (s *Server) handleMoveBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	from := req.GetInt("from", -1)
	to := req.GetInt("to", -1)
	if err := s.ws.MoveBlock(ctx, pageID, from, to); err != nil {
		return nil, fmt.Errorf("move block: %w", err)
	}
	s.emitActivity(ctx, "move_block", pageID)
	return textResult(fmt.Sprintf("Moved block %d to %d", from, to)), nil
}

func (s *Server) handleDeleteBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	page, err := s.ws.GetPage(pageID)
	if err != nil {
		return nil, err
	}
	blockID := req.GetString("blockId", "")
	block, ok := domain.DeepFindByID(page.Blocks, blockID)
	if !ok {
		return nil, domain.NotFound("block", blockID)
	}

	// Require approval (with metadata for the host to highlight)
	meta := fmt.Sprintf(`{"pageId":%q,"blockIds":[%q]}`, pageID, block.ID)
	if err := s.approval.Request("delete_block", fmt.Sprintf("Delete %s block %s", block.Type, block.ID), meta); err != nil {
		return textResult(fmt.Sprintf("Action not applied: %v", err)), nil
	}

	if err := s.ws.DeleteBlock(ctx, pageID, block.ID); err != nil {
		return nil, fmt.Errorf("delete block: %w", err)
	}
	s.emitActivity(ctx, "delete_block", pageID)
	return textResult(fmt.Sprintf("Block %s deleted", block.ID)), nil
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.travel(ctx, req, "undo", s.ws.Undo)
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.travel(ctx, req, "redo", s.ws.Redo)
}

func (s *Server) travel(ctx context.Context, req mcp.CallToolRequest, tool string, step func(context.Context, string) (bool, error)) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	ok, err := step(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	if !ok {
		return textResult(fmt.Sprintf("Nothing to %s", tool)), nil
	}
	s.emitActivity(ctx, tool, pageID)
	return textResult(fmt.Sprintf("%s applied on page %s", tool, pageID)), nil
}
