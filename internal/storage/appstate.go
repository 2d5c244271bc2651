package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"notespace/internal/domain"
)

const (
	appDataKey = "appdata"
	// legacyKey held the single-workspace blob before multi-workspace support.
	legacyKey = "workspace"

	upgradeMultiWorkspace = "multi-workspace-v2"
)

// AppStateStore implements LocalStore on the app_state table.
type AppStateStore struct {
	db   *DB
	seed Seed
	mu   sync.Mutex
	// seen is the blob this store last read or wrote.
	seen []byte
}

// NewAppStateStore wraps db. seed builds the first-run data; nil uses the
// default onboarding workspace.
func NewAppStateStore(db *DB, seed Seed) *AppStateStore {
	if seed == nil {
		seed = defaultSeed
	}
	return &AppStateStore{db: db, seed: seed}
}

// Load returns the cached AppData. A version 1 blob is upgraded and written
// back in the same transaction; an empty database is seeded and saved.
func (s *AppStateStore) Load(ctx context.Context) (domain.AppData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.get(ctx, appDataKey)
	if err != nil {
		return domain.AppData{}, err
	}
	if raw != nil {
		data, upgraded, err := decodeAppData(raw)
		if err != nil {
			return domain.AppData{}, err
		}
		if upgraded {
			if err := s.upgrade(ctx, data); err != nil {
				return domain.AppData{}, err
			}
		} else {
			s.seen = raw
		}
		return data, nil
	}

	legacy, err := s.get(ctx, legacyKey)
	if err != nil {
		return domain.AppData{}, err
	}
	if legacy != nil {
		data, _, err := decodeAppData(legacy)
		if err != nil {
			return domain.AppData{}, err
		}
		if err := s.upgrade(ctx, data); err != nil {
			return domain.AppData{}, err
		}
		return data, nil
	}

	data := s.seed()
	if err := s.put(ctx, s.db.conn, data); err != nil {
		return domain.AppData{}, err
	}
	return data, nil
}

// Save replaces the cached AppData.
func (s *AppStateStore) Save(ctx context.Context, data domain.AppData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, s.db.conn, data)
}

// Poll returns the cached AppData when another process replaced it since
// this store last read or wrote it.
func (s *AppStateStore) Poll(ctx context.Context) (domain.AppData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.get(ctx, appDataKey)
	if err != nil || raw == nil || bytes.Equal(raw, s.seen) {
		return domain.AppData{}, false, err
	}
	data, _, err := decodeAppData(raw)
	if err != nil {
		return domain.AppData{}, false, err
	}
	s.seen = raw
	return data, true, nil
}

func (s *AppStateStore) Close() error {
	return s.db.Close()
}

// Upgrades lists the one-time schema upgrades applied to this database.
func (s *AppStateStore) Upgrades(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT name FROM schema_upgrades ORDER BY applied_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *AppStateStore) get(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := s.db.conn.QueryRowContext(ctx, `SELECT data FROM app_state WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get app state %s: %w", key, err)
	}
	return []byte(data), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *AppStateStore) put(ctx context.Context, ex execer, data domain.AppData) error {
	raw, err := encodeAppData(data)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO app_state (key, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		appDataKey, domain.AppDataVersion, string(raw), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save app state: %w", err)
	}
	s.seen = raw
	return nil
}

func (s *AppStateStore) upgrade(ctx context.Context, data domain.AppData) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer tx.Rollback()

	if err := s.put(ctx, tx, data); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, legacyKey); err != nil {
		return fmt.Errorf("drop legacy blob: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_upgrades (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, upgradeMultiWorkspace,
	); err != nil {
		return fmt.Errorf("record upgrade: %w", err)
	}
	return tx.Commit()
}

// PutLegacy writes a version 1 blob. Used to stage upgrade tests and
// imports from older installs.
func (s *AppStateStore) PutLegacy(ctx context.Context, raw []byte) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO app_state (key, version, data) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`, legacyKey, string(raw))
	return err
}
