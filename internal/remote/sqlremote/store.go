// Package sqlremote stores the shared workspace rows in Postgres, MySQL or
// SQLite through database/sql.
package sqlremote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"notespace/internal/domain"
	"notespace/internal/remote"
)

type Store struct {
	db     *sql.DB
	driver string

	// beforeInsert runs just before a page INSERT. Tests use it to let
	// another writer in.
	beforeInsert func()
}

// errLostRace marks a write another writer overtook between read and write.
var errLostRace = errors.New("concurrent write")

var _ remote.Backend = (*Store)(nil)

// Open connects, pings and creates the tables when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	s := &Store{db: db, driver: driver}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			settings TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pages (
			workspace_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			data TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			updated_by VARCHAR(64) NOT NULL DEFAULT '',
			PRIMARY KEY (workspace_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			workspace_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL,
			joined_at BIGINT NOT NULL,
			PRIMARY KEY (workspace_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invites (
			id VARCHAR(64) PRIMARY KEY,
			workspace_id VARCHAR(64) NOT NULL,
			token TEXT NOT NULL,
			role VARCHAR(16) NOT NULL,
			expires_at BIGINT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			accepted_by VARCHAR(64) NOT NULL DEFAULT '',
			created_by VARCHAR(64) NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) forUpdate() string {
	if s.driver == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// upsert runs update when probe finds a row, insert otherwise, inside one
// transaction.
func (s *Store) upsert(ctx context.Context, probe string, probeArgs []any, update string, updateArgs []any, insert string, insertArgs []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	found, err := s.exists(ctx, tx, probe+s.forUpdate(), probeArgs...)
	if err != nil {
		return err
	}
	if found {
		_, err = tx.ExecContext(ctx, s.rebind(update), updateArgs...)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(insert), insertArgs...)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

type settings struct {
	PageOrder []string `json:"pageOrder"`
	DarkMode  bool     `json:"darkMode"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func encodeSettings(ws domain.Workspace) (string, error) {
	raw, err := json.Marshal(settings{
		PageOrder: ws.PageOrder,
		DarkMode:  ws.DarkMode,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	})
	return string(raw), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(r rowScanner) (domain.Workspace, error) {
	var ws domain.Workspace
	var raw string
	if err := r.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &raw); err != nil {
		return ws, err
	}
	var st settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return ws, fmt.Errorf("decode settings of %s: %w", ws.ID, err)
	}
	ws.PageOrder = st.PageOrder
	ws.DarkMode = st.DarkMode
	ws.CreatedAt = st.CreatedAt
	ws.UpdatedAt = st.UpdatedAt
	return ws, nil
}

func (s *Store) InsertWorkspace(ctx context.Context, ws domain.Workspace, owner domain.Member) error {
	st, err := encodeSettings(ws)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO workspaces (id, owner_id, name, settings) VALUES (?, ?, ?, ?)`),
		ws.ID, ws.OwnerID, ws.Name, st); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO members (workspace_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`),
		owner.WorkspaceID, owner.UserID, string(owner.Role), owner.JoinedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Workspace(ctx context.Context, id string) (domain.Workspace, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, owner_id, name, settings FROM workspaces WHERE id = ?`), id)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ws, domain.NotFound("workspace", id)
	}
	return ws, err
}

func (s *Store) WorkspacesFor(ctx context.Context, userID string) ([]domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT w.id, w.owner_id, w.name, w.settings
		FROM workspaces w JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id = ?`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, rows.Err()
}

func (s *Store) PutWorkspace(ctx context.Context, ws domain.Workspace) error {
	st, err := encodeSettings(ws)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE workspaces SET owner_id = ?, name = ?, settings = ? WHERE id = ?`),
		ws.OwnerID, ws.Name, st, ws.ID)
	return err
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"pages", "members", "invites"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE workspace_id = ?`), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM workspaces WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return tx.Commit()
}

func decodePage(raw string, updatedAt int64, updatedBy string) (domain.Page, error) {
	var p domain.Page
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode page: %w", err)
	}
	p.UpdatedAt = updatedAt
	p.UpdatedBy = updatedBy
	return p, nil
}

func (s *Store) Pages(ctx context.Context, workspaceID string) ([]domain.Page, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT data, updated_at, updated_by FROM pages WHERE workspace_id = ?`), workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Page
	for rows.Next() {
		var raw, by string
		var at int64
		if err := rows.Scan(&raw, &at, &by); err != nil {
			return nil, err
		}
		p, err := decodePage(raw, at, by)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, rows.Err()
}

func (s *Store) Page(ctx context.Context, workspaceID, pageID string) (domain.Page, error) {
	var raw, by string
	var at int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data, updated_at, updated_by FROM pages WHERE workspace_id = ? AND id = ?`),
		workspaceID, pageID).Scan(&raw, &at, &by)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Page{}, domain.NotFound("page", pageID)
	}
	if err != nil {
		return domain.Page{}, err
	}
	return decodePage(raw, at, by)
}

// SwapPage reads the stored version under a row lock and writes with an
// UPDATE guarded on that version. An unconditional write that loses a race
// to a concurrent first insert or update is applied again on top of it.
func (s *Store) SwapPage(ctx context.Context, p domain.Page, expected *int64) (remote.Swap, error) {
	sw, err := s.swapPage(ctx, p, expected)
	if expected == nil && errors.Is(err, errLostRace) {
		return s.swapPage(ctx, p, nil)
	}
	return sw, err
}

func (s *Store) swapPage(ctx context.Context, p domain.Page, expected *int64) (remote.Swap, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Swap{}, err
	}
	defer tx.Rollback()

	var raw, by string
	var cur int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT data, updated_at, updated_by FROM pages WHERE workspace_id = ? AND id = ?`+s.forUpdate()),
		p.WorkspaceID, p.ID).Scan(&raw, &cur, &by)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return remote.Swap{}, err
	}

	if expected != nil {
		if !exists {
			return remote.Swap{Conflict: true}, nil
		}
		if *expected != cur {
			current, err := decodePage(raw, cur, by)
			if err != nil {
				return remote.Swap{}, err
			}
			return remote.Swap{Conflict: true, Current: &current}, nil
		}
	}

	saved := p.Clone()
	if exists {
		stored, err := decodePage(raw, cur, by)
		if err != nil {
			return remote.Swap{}, err
		}
		saved.CreatedAt = stored.CreatedAt
		saved.UpdatedAt = domain.NextVersion(p.UpdatedAt, cur)
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return remote.Swap{}, fmt.Errorf("encode page: %w", err)
	}

	if !exists {
		if s.beforeInsert != nil {
			s.beforeInsert()
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO pages (workspace_id, id, data, updated_at, updated_by) VALUES (?, ?, ?, ?, ?)`),
			saved.WorkspaceID, saved.ID, string(data), saved.UpdatedAt, saved.UpdatedBy); err != nil {
			// The row did not exist when read; a failed insert most likely
			// means a concurrent writer created it.
			return remote.Swap{}, fmt.Errorf("insert page: %w: %w", errLostRace, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE pages SET data = ?, updated_at = ?, updated_by = ?
			WHERE workspace_id = ? AND id = ? AND updated_at = ?`),
			string(data), saved.UpdatedAt, saved.UpdatedBy, saved.WorkspaceID, saved.ID, cur)
		if err != nil {
			return remote.Swap{}, fmt.Errorf("update page: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			if expected == nil {
				return remote.Swap{}, fmt.Errorf("update page: %w", errLostRace)
			}
			tx.Rollback()
			current, err := s.Page(ctx, p.WorkspaceID, p.ID)
			if err != nil {
				return remote.Swap{Conflict: true}, nil
			}
			return remote.Swap{Conflict: true, Current: &current}, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return remote.Swap{}, err
	}
	return remote.Swap{Saved: saved, Created: !exists}, nil
}

func (s *Store) DeletePage(ctx context.Context, workspaceID, pageID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM pages WHERE workspace_id = ? AND id = ?`), workspaceID, pageID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound("page", pageID)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT user_id, role, joined_at FROM members WHERE workspace_id = ? ORDER BY user_id`), workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		var joined int64
		if err := rows.Scan(&m.UserID, &role, &joined); err != nil {
			return nil, err
		}
		m.WorkspaceID = workspaceID
		m.Role = domain.Role(role)
		m.JoinedAt = time.UnixMilli(joined)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PutMember(ctx context.Context, m domain.Member) error {
	return s.upsert(ctx,
		`SELECT 1 FROM members WHERE workspace_id = ? AND user_id = ?`, []any{m.WorkspaceID, m.UserID},
		`UPDATE members SET role = ? WHERE workspace_id = ? AND user_id = ?`, []any{string(m.Role), m.WorkspaceID, m.UserID},
		`INSERT INTO members (workspace_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		[]any{m.WorkspaceID, m.UserID, string(m.Role), m.JoinedAt.UnixMilli()},
	)
}

func (s *Store) DeleteMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM members WHERE workspace_id = ? AND user_id = ?`), workspaceID, userID)
	return err
}

const inviteColumns = `id, workspace_id, token, role, expires_at, revoked, accepted_by, created_by, created_at`

func scanInvite(r rowScanner) (domain.Invite, error) {
	var inv domain.Invite
	var role string
	var expires sql.NullInt64
	var created int64
	if err := r.Scan(&inv.ID, &inv.WorkspaceID, &inv.Token, &role, &expires, &inv.Revoked, &inv.AcceptedBy, &inv.CreatedBy, &created); err != nil {
		return inv, err
	}
	inv.Role = domain.Role(role)
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		inv.ExpiresAt = &t
	}
	inv.CreatedAt = time.UnixMilli(created)
	return inv, nil
}

func (s *Store) PutInvite(ctx context.Context, inv domain.Invite) error {
	var expires sql.NullInt64
	if inv.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: inv.ExpiresAt.UnixMilli(), Valid: true}
	}
	return s.upsert(ctx,
		`SELECT 1 FROM invites WHERE id = ?`, []any{inv.ID},
		`UPDATE invites SET revoked = ?, accepted_by = ?, expires_at = ? WHERE id = ?`,
		[]any{inv.Revoked, inv.AcceptedBy, expires, inv.ID},
		`INSERT INTO invites (`+inviteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{inv.ID, inv.WorkspaceID, inv.Token, string(inv.Role), expires, inv.Revoked, inv.AcceptedBy, inv.CreatedBy, inv.CreatedAt.UnixMilli()},
	)
}

func (s *Store) Invite(ctx context.Context, id string) (domain.Invite, error) {
	inv, err := scanInvite(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+inviteColumns+` FROM invites WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return inv, domain.NotFound("invite", id)
	}
	return inv, err
}

func (s *Store) InviteByToken(ctx context.Context, token string) (domain.Invite, error) {
	inv, err := scanInvite(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+inviteColumns+` FROM invites WHERE token = ?`), token))
	if errors.Is(err, sql.ErrNoRows) {
		return inv, domain.NotFound("invite", "token")
	}
	return inv, err
}

func (s *Store) Invites(ctx context.Context, workspaceID string) ([]domain.Invite, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+inviteColumns+` FROM invites WHERE workspace_id = ? ORDER BY created_at`), workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
