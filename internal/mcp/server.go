package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"notespace/internal/service"
)

// EventActivity tells the host UI that an agent changed a page.
const EventActivity = "mcp:activity"

// Server is the MCP server for notespace.
// It exposes tools, resources, and prompts so AI agents can read and edit
// the open workspace through the same pipeline as the UI.
type Server struct {
	mcp      *server.MCPServer
	emitter  EventEmitter
	approval *ApprovalQueue
	ws       *service.WorkspaceService
	log      zerolog.Logger

	// Active page context (set by set_active_page and create_page)
	mu           sync.Mutex
	activePageID string
}

// Deps holds everything the MCP server needs from the app layer.
type Deps struct {
	Emitter    EventEmitter
	Workspaces *service.WorkspaceService
	// Approvals, when set, parks destructive calls for another process to
	// settle (standalone mode).
	Approvals       ApprovalBackend
	ApprovalTimeout time.Duration
	Logger          zerolog.Logger
	Version         string
}

// New creates and configures a new MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Emitter == nil {
		deps.Emitter = service.NopEmitter{}
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	approval := NewApprovalQueue(ctx, deps.Emitter, deps.Logger)
	if deps.Approvals != nil {
		approval.SetBackend(deps.Approvals)
	}
	approval.SetTimeout(deps.ApprovalTimeout)

	s := &Server{
		emitter:  deps.Emitter,
		approval: approval,
		ws:       deps.Workspaces,
		log:      deps.Logger.With().Str("component", "mcp").Logger(),
	}

	s.mcp = server.NewMCPServer(
		"notespace-mcp",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerNavigationTools()
	s.registerBlockTools()
	s.registerMarkdownTools()
	s.registerMembershipTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio runs the MCP server on stdin/stdout until the client hangs up.
func (s *Server) ServeStdio() error {
	s.log.Info().Msg("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// Approve forwards a user approval to the approval queue.
func (s *Server) Approve(actionID string) {
	s.approval.Approve(actionID)
}

// Reject forwards a user rejection to the approval queue.
func (s *Server) Reject(actionID string) {
	s.approval.Reject(actionID)
}

// ── Helpers ────────────────────────────────────────────────

// emitActivity notifies the host that an agent touched a page.
func (s *Server) emitActivity(ctx context.Context, tool, pageID string) {
	s.emitter.Emit(ctx, EventActivity, map[string]string{"tool": tool, "pageId": pageID})
}

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func (s *Server) setActivePage(pageID string) {
	s.mu.Lock()
	s.activePageID = pageID
	s.mu.Unlock()
}

// resolvePageID returns the pageId argument or falls back to the active page.
func (s *Server) resolvePageID(req mcp.CallToolRequest) (string, error) {
	if pid := req.GetString("pageId", ""); pid != "" {
		return pid, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePageID != "" {
		return s.activePageID, nil
	}
	return "", fmt.Errorf("no pageId provided and no active page set (use set_active_page first)")
}
