package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"notespace/internal/domain"
)

func (s *Server) registerMarkdownTools() {
	s.mcp.AddTool(mcp.NewTool("write_markdown",
		mcp.WithDescription("Insert markdown-style text as blocks. Lines starting with #, -, >, [ ] and ``` become headings, bullets, quotes, todos and code; indentation nests blocks."),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("content", mcp.Description("Text to insert"), mcp.Required()),
		mcp.WithString("afterId", mcp.Description("Insert after this block (optional, appends if omitted)")),
	), s.handleWriteMarkdown)

	s.mcp.AddTool(mcp.NewTool("append_markdown",
		mcp.WithDescription("Append text to the content of an existing block"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("blockId", mcp.Description("Block ID"), mcp.Required()),
		mcp.WithString("content", mcp.Description("Text to append"), mcp.Required()),
	), s.handleAppendMarkdown)
}

func (s *Server) handleWriteMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req)
	if err != nil {
		return nil, err
	}
	content := req.GetString("content", "")
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	blocks, err := s.ws.PasteBlocks(ctx, pageID, req.GetString("afterId", ""), content)
	if err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}
	s.emitActivity(ctx, "write_markdown", pageID)
	summaries, err := flattenBlocks(blocks)
	if err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}
	return jsonResult(summaries)
}

func (s *Server) handleAppendMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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
	appendText := req.GetString("content", "")
	if err := s.ws.UpdateBlockContent(ctx, pageID, block.ID, block.Content+appendText); err != nil {
		return nil, fmt.Errorf("append markdown: %w", err)
	}
	s.emitActivity(ctx, "append_markdown", pageID)
	return textResult(fmt.Sprintf("Appended %d chars to block %s", len(appendText), block.ID)), nil
}
