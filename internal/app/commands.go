package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/service"
	"notespace/internal/storage"
)

// ============================================================
// CLI commands
// ============================================================

// Export renders pageID as plain text. An empty pageID exports every page
// of the current workspace, each under its title.
func (a *App) Export(pageID string) (string, error) {
	if pageID != "" {
		return a.ws.ExportPlainText(pageID)
	}
	ws, err := a.ws.Current()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, p := range ws.OrderedPages() {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		depth := len(ws.Ancestors(p.ID))
		sb.WriteString(strings.Repeat("#", min(depth+1, 3)) + " " + title + "\n")
		sb.WriteString(domain.ToPlainText(p.Blocks))
	}
	return sb.String(), nil
}

// Invite mints an invite to the current workspace.
func (a *App) Invite(ctx context.Context, role string) (domain.Invite, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.Invite{}, err
	}
	return a.ws.Invite(ctx, r)
}

// Accept redeems token and opens the joined workspace.
func (a *App) Accept(ctx context.Context, token string) (service.AcceptResult, error) {
	res, err := a.ws.AcceptInvite(ctx, token)
	if err != nil {
		return res, err
	}
	if _, err := a.ws.OpenWorkspace(ctx, res.Member.WorkspaceID); err != nil {
		return res, fmt.Errorf("open joined workspace: %w", err)
	}
	return res, nil
}

// OpenApprovals opens the approvals table without starting the workspace
// service. Close the returned io.Closer when done.
func OpenApprovals(cfg config.Config) (*storage.ApprovalStore, io.Closer, error) {
	db, err := storage.New(filepath.Join(cfg.DataDir, "notespace.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return storage.NewApprovalStore(db), db, nil
}
