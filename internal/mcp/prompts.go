package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("outline_page",
		mcp.WithPromptDescription("Draft a structured page (headings, bullets, todos) about a topic"),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("What the page is about"),
			mcp.RequiredArgument(),
		),
	), s.handleOutlinePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("summarize_page",
		mcp.WithPromptDescription("Summarize a page and append the summary as a callout"),
		mcp.WithArgument("pageId",
			mcp.ArgumentDescription("ID of the page to summarize"),
			mcp.RequiredArgument(),
		),
	), s.handleSummarizePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("triage_todos",
		mcp.WithPromptDescription("Collect the open todos of the workspace onto one page"),
	), s.handleTriagePrompt)
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleOutlinePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := req.Params.Arguments["topic"]
	return userPrompt(fmt.Sprintf("Outline a page about: %s", topic), fmt.Sprintf(`Create a page about "%s" in the open workspace. Follow these steps:

1. Use create_page with the title "%s". It becomes the active page.
2. Use write_markdown to insert the outline in one call: "# " for the main sections, "- " for points, "[ ] " for follow-ups. Indent by two spaces to nest.
3. Read the result back with get_page_text and fix anything that did not parse as intended with update_block.

Keep the outline short: at most five sections.`, topic, topic)), nil
}

func (s *Server) handleSummarizePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	pageID := req.Params.Arguments["pageId"]
	return userPrompt(fmt.Sprintf("Summarize page %s", pageID), fmt.Sprintf(`Summarize page %s. Follow these steps:

1. Use set_active_page with pageId "%s", then get_page_text to read it.
2. Write a three sentence summary.
3. Use add_block with type "callout" and the summary as content, appended at the end of the page.

Do not modify any other block.`, pageID, pageID)), nil
}

func (s *Server) handleTriagePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return userPrompt("Collect open todos", `Gather every unchecked todo in the open workspace. Follow these steps:

1. Use list_pages, then list_blocks with type "todo" on each page. Unchecked todos have "checked": false.
2. Use create_page with the title "Open todos".
3. Use write_markdown to add one "[ ] " line per open todo, grouped under a "## <page title>" heading per source page.

Never toggle or delete the original todos.`), nil
}
