package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/config"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.json"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.LocalBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.PushDebounce.Duration)
	assert.False(t, cfg.Online())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"dataDir": "/tmp/ns",
		"pushDebounce": "200ms",
		"remote": {"driver": "postgres", "host": "db", "port": 5432, "database": "notes"},
		"user": {"id": "from-file"}
	}`), 0644))

	cfg, err := config.Load(path, env(map[string]string{"NOTESPACE_USER_ID": "from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ns", cfg.DataDir)
	assert.Equal(t, 200*time.Millisecond, cfg.PushDebounce.Duration)
	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, "from-env", cfg.User.ID)
	assert.Equal(t, filepath.Join("/tmp/ns", "notespace.db"), cfg.LocalPath())
	assert.True(t, cfg.Online())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"remote": {"driver": "oracle"}}`), 0644))
	_, err := config.Load(path, env(nil))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"pushDebounce": "soon"}`), 0644))
	_, err = config.Load(path, env(nil))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/etc/ns.json", config.Path(env(map[string]string{"NOTESPACE_CONFIG": "/etc/ns.json"})))
}
