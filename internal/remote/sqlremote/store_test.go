package sqlremote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/remote"
	"notespace/internal/remote/remotetest"
)

func TestConformance_SQLite(t *testing.T) {
	remotetest.Run(t, func(t *testing.T) remote.Backend {
		driver, dsn, err := BuildDSN(config.Remote{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "remote.db")}, "")
		require.NoError(t, err)
		s, err := Open(context.Background(), driver, dsn)
		require.NoError(t, err)
		return s
	})
}

func TestSwapPage_RacingFirstWritesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	driver, dsn, err := BuildDSN(config.Remote{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "remote.db")}, "")
	require.NoError(t, err)
	slow, err := Open(ctx, driver, dsn)
	require.NoError(t, err)
	defer slow.Close()
	fast, err := Open(ctx, driver, dsn)
	require.NoError(t, err)
	defer fast.Close()

	clock := domain.NewLogicalClock()
	first := domain.NewPage(clock, "ws1", "")
	first.Title, first.UpdatedBy = "fast", "bob"
	second := first.Clone()
	second.Title, second.UpdatedBy = "slow", "alice"

	// fast creates the row after slow has seen it missing.
	var fastSwap remote.Swap
	var once bool
	slow.beforeInsert = func() {
		if once {
			return
		}
		once = true
		fastSwap, err = fast.SwapPage(ctx, first, nil)
		require.NoError(t, err)
		require.True(t, fastSwap.Created)
	}

	sw, err := slow.SwapPage(ctx, second, nil)
	require.NoError(t, err)
	assert.False(t, sw.Conflict)
	assert.Greater(t, sw.Saved.UpdatedAt, fastSwap.Saved.UpdatedAt)

	stored, err := fast.Page(ctx, "ws1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "slow", stored.Title)
	assert.Equal(t, "alice", stored.UpdatedBy)
	assert.Equal(t, sw.Saved.UpdatedAt, stored.UpdatedAt)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	my := &Store{driver: "mysql"}
	assert.Equal(t, "x = ?", my.rebind("x = ?"))
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.Remote
		driver string
		dsn    string
	}{
		{
			name:   "postgres defaults",
			cfg:    config.Remote{Driver: "postgres", Host: "db", Username: "app", Database: "notes"},
			driver: "postgres",
			dsn:    "host=db port=5432 user=app password=pw dbname=notes sslmode=disable",
		},
		{
			name:   "mysql with tls",
			cfg:    config.Remote{Driver: "mysql", Host: "db", Port: 3307, Username: "app", Database: "notes", SSLMode: "require"},
			driver: "mysql",
			dsn:    "app:pw@tcp(db:3307)/notes?parseTime=true&charset=utf8mb4&tls=true",
		},
		{
			name:   "explicit dsn wins",
			cfg:    config.Remote{Driver: "postgres", DSN: "postgres://x", Host: "ignored"},
			driver: "postgres",
			dsn:    "postgres://x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := BuildDSN(tt.cfg, "pw")
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}

	_, _, err := BuildDSN(config.Remote{Driver: "oracle"}, "")
	assert.Error(t, err)
	_, _, err = BuildDSN(config.Remote{Driver: "sqlite"}, "")
	assert.Error(t, err)
}
