package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notespace/internal/domain"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a destructive agent action parked for a human decision. The
// MCP process writes it; another process resolves it.
type Approval struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	Metadata    string         `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ApprovalStore keeps approvals in the mcp_approvals table.
type ApprovalStore struct {
	db *DB
}

func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Request(ctx context.Context, a Approval) error {
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO mcp_approvals (id, tool, description, status, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Tool, a.Description, ApprovalPending, a.Metadata, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Status(ctx context.Context, id string) (ApprovalStatus, error) {
	var status string
	err := s.db.conn.QueryRowContext(ctx, `SELECT status FROM mcp_approvals WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFound("approval", id)
	}
	if err != nil {
		return "", fmt.Errorf("approval status: %w", err)
	}
	return ApprovalStatus(status), nil
}

// Resolve settles a pending approval. Settled or unknown ids are NotFound.
func (s *ApprovalStore) Resolve(ctx context.Context, id string, approved bool) error {
	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE mcp_approvals SET status = ? WHERE id = ? AND status = ?`, status, id, ApprovalPending)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("pending approval", id)
	}
	return nil
}

func (s *ApprovalStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM mcp_approvals WHERE id = ?`, id)
	return err
}

// Pending lists unresolved approvals, oldest first.
func (s *ApprovalStore) Pending(ctx context.Context) ([]Approval, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, tool, description, status, metadata, created_at FROM mcp_approvals WHERE status = ? ORDER BY created_at`,
		ApprovalPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		var status string
		if err := rows.Scan(&a.ID, &a.Tool, &a.Description, &status, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = ApprovalStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
