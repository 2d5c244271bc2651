package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	workspacesURI      = "notespace://workspaces"
	workspacePagesURI  = "notespace://workspace/{workspaceId}/pages"
	pageTextURI        = "notespace://page/{pageId}/text"
	workspaceURIPrefix = "notespace://workspace/"
	pageURIPrefix      = "notespace://page/"
)

func (s *Server) registerResources() {
	// ── notespace://workspaces ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		workspacesURI,
		"All Workspaces",
		mcp.WithMIMEType("application/json"),
	), s.handleWorkspacesResource)

	// ── notespace://workspace/{workspaceId}/pages ──────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(workspacePagesURI, "Pages of the open workspace"),
		s.handleWorkspacePagesResource,
	)

	// ── notespace://page/{pageId}/text ─────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(pageTextURI, "Plain text of a page"),
		s.handlePageTextResource,
	)
}

func (s *Server) handleWorkspacesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(s.workspaceSummaries(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      workspacesURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleWorkspacePagesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	wsID := segmentBetween(uri, workspaceURIPrefix, "/pages")
	if wsID == "" {
		return nil, fmt.Errorf("could not extract workspaceId from URI: %s", uri)
	}
	cur, err := s.ws.Current()
	if err != nil {
		return nil, err
	}
	if cur.ID != wsID {
		return nil, fmt.Errorf("workspace %s is not open (open it with open_workspace)", wsID)
	}

	pages := cur.OrderedPages()
	summaries := make([]pageSummary, len(pages))
	for i, p := range pages {
		summaries[i] = summarizePage(p)
	}
	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handlePageTextResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	pageID := segmentBetween(uri, pageURIPrefix, "/text")
	if pageID == "" {
		return nil, fmt.Errorf("could not extract pageId from URI: %s", uri)
	}
	text, err := s.ws.ExportPlainText(pageID)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		},
	}, nil
}

// segmentBetween extracts the id in prefix + id + suffix.
func segmentBetween(uri, prefix, suffix string) string {
	rest, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
