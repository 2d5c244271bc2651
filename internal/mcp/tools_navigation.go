package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"notespace/internal/domain"
)

func (s *Server) registerNavigationTools() {
	// ── list_workspaces ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_workspaces",
		mcp.WithDescription("List every workspace cached on this device. The open one is marked current."),
	), s.handleListWorkspaces)

	// ── open_workspace ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("open_workspace",
		mcp.WithDescription("Open a workspace. Page tools act on the open workspace."),
		mcp.WithString("workspaceId", mcp.Description("ID of the workspace"), mcp.Required()),
	), s.handleOpenWorkspace)

	// ── list_pages ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List the pages of the open workspace in sidebar order"),
	), s.handleListPages)

	// ── create_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a page, optionally nested under a parent. The new page becomes the active page."),
		mcp.WithString("title", mcp.Description("Page title (optional)")),
		mcp.WithString("parentId", mcp.Description("Parent page ID (optional, top level if omitted)")),
	), s.handleCreatePage)

	// ── rename_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("rename_page",
		mcp.WithDescription("Change a page title"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("title", mcp.Description("New title"), mcp.Required()),
	), s.handleRenamePage)

	// ── move_page ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("move_page",
		mcp.WithDescription("Nest a page under another page, or move it to the top level"),
		mcp.WithString("pageId", mcp.Description("Page to move"), mcp.Required()),
		mcp.WithString("parentId", mcp.Description("New parent page ID (empty for top level)")),
	), s.handleMovePage)

	// ── delete_page (destructive) ──────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_page",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete a page and all of its sub-pages. Requires user approval."),
		mcp.WithString("pageId", mcp.Description("Page ID to delete"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeletePage)

	// ── set_active_page ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_active_page",
		mcp.WithDescription("Set the active page for subsequent tool calls. Tools that accept pageId will default to this."),
		mcp.WithString("pageId", mcp.Description("ID of the page to make active"), mcp.Required()),
	), s.handleSetActivePage)
}

func boolPtr(v bool) *bool { return &v }

type workspaceSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OwnerID  string `json:"ownerId,omitempty"`
	Pages    int    `json:"pages"`
	Current  bool   `json:"current"`
	DarkMode bool   `json:"darkMode"`
}

type pageSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Blocks   int    `json:"blocks"`
}

func summarizePage(p domain.Page) pageSummary {
	return pageSummary{ID: p.ID, Title: p.Title, ParentID: p.ParentID, Icon: p.Icon, Blocks: len(p.Blocks)}
}

func (s *Server) workspaceSummaries() []workspaceSummary {
	current := ""
	if ws, err := s.ws.Current(); err == nil {
		current = ws.ID
	}
	list := s.ws.ListWorkspaces()
	out := make([]workspaceSummary, len(list))
	for i, ws := range list {
		out[i] = workspaceSummary{
			ID:       ws.ID,
			Name:     ws.Name,
			OwnerID:  ws.OwnerID,
			Pages:    len(ws.Pages),
			Current:  ws.ID == current,
			DarkMode: ws.DarkMode,
		}
	}
	return out
}

func (s *Server) handleListWorkspaces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.workspaceSummaries())
}

func (s *Server) handleOpenWorkspace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("workspaceId", "")
	if id == "" {
		return nil, fmt.Errorf("workspaceId is required")
	}
	ws, err := s.ws.OpenWorkspace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	s.setActivePage("")
	return textResult(fmt.Sprintf("Opened workspace %q (%d pages)", ws.Name, len(ws.Pages))), nil
}

func (s *Server) handleListPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.ws.ListPages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	out := make([]pageSummary, len(pages))
	for i, p := range pages {
		out[i] = summarizePage(p)
	}
	return jsonResult(out)
}

func (s *Server) handleCreatePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.ws.CreatePage(ctx, req.GetString("parentId", ""))
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if title := req.GetString("title", ""); title != "" {
		if err := s.ws.RenamePage(ctx, page.ID, title); err != nil {
			return nil, fmt.Errorf("title page: %w", err)
		}
		page.Title = title
	}
	s.setActivePage(page.ID)
	s.emitActivity(ctx, "create_page", page.ID)
	return jsonResult(summarizePage(page))
}

func (s *Server) handleRenamePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	title := req.GetString("title", "")
	if err := s.ws.RenamePage(ctx, pageID, title); err != nil {
		return nil, fmt.Errorf("rename page: %w", err)
	}
	s.emitActivity(ctx, "rename_page", pageID)
	return textResult(fmt.Sprintf("Page %s renamed to %q", pageID, title)), nil
}

func (s *Server) handleMovePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	if pageID == "" {
		return nil, fmt.Errorf("pageId is required")
	}
	if err := s.ws.ReparentPage(ctx, pageID, req.GetString("parentId", "")); err != nil {
		return nil, fmt.Errorf("move page: %w", err)
	}
	s.emitActivity(ctx, "move_page", pageID)
	return textResult(fmt.Sprintf("Page %s moved", pageID)), nil
}

func (s *Server) handleDeletePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	if pageID == "" {
		return nil, fmt.Errorf("pageId is required")
	}
	page, err := s.ws.GetPage(pageID)
	if err != nil {
		return nil, err
	}

	meta := fmt.Sprintf(`{"pageIds":[%q]}`, page.ID)
	if err := s.approval.Request("delete_page", fmt.Sprintf("Delete page %q and its sub-pages", page.Title), meta); err != nil {
		return textResult(fmt.Sprintf("Action not applied: %v", err)), nil
	}

	removed, err := s.ws.DeletePage(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("delete page: %w", err)
	}
	s.mu.Lock()
	for _, id := range removed {
		if s.activePageID == id {
			s.activePageID = ""
		}
	}
	s.mu.Unlock()
	s.emitActivity(ctx, "delete_page", page.ID)
	return textResult(fmt.Sprintf("Deleted %d page(s)", len(removed))), nil
}

func (s *Server) handleSetActivePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	if pageID == "" {
		return nil, fmt.Errorf("pageId is required")
	}
	if _, err := s.ws.GetPage(pageID); err != nil {
		return nil, err
	}
	s.setActivePage(pageID)
	return textResult(fmt.Sprintf("Active page set to %s", pageID)), nil
}
