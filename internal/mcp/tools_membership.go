package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"notespace/internal/domain"
)

func (s *Server) registerMembershipTools() {
	s.mcp.AddTool(mcp.NewTool("create_invite",
		mcp.WithDescription("Mint an invite token for the open workspace. Only owners can invite."),
		mcp.WithString("role",
			mcp.Description("Role granted on acceptance"),
			mcp.Enum(string(domain.RoleEditor), string(domain.RoleViewer)),
			mcp.DefaultString(string(domain.RoleEditor)),
		),
	), s.handleCreateInvite)

	s.mcp.AddTool(mcp.NewTool("list_members",
		mcp.WithDescription("List the members of the open workspace and their roles"),
	), s.handleListMembers)
}

func (s *Server) handleCreateInvite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role, err := domain.ParseRole(req.GetString("role", string(domain.RoleEditor)))
	if err != nil {
		return nil, err
	}
	inv, err := s.ws.Invite(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	out := map[string]any{
		"id":    inv.ID,
		"role":  inv.Role,
		"token": inv.Token,
	}
	if inv.ExpiresAt != nil {
		out["expiresAt"] = inv.ExpiresAt
	}
	return jsonResult(out)
}

func (s *Server) handleListMembers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	members, err := s.ws.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return jsonResult(members)
}
