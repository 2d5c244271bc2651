package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Duration reads "750ms"-style strings from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Remote selects the store of record. An empty Driver keeps the app offline.
type Remote struct {
	Driver   string `json:"driver"` // postgres, mysql, sqlite, mongodb
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
	// PasswordKey names the secret holding the password. Defaults to
	// secret.KeyRemotePass.
	PasswordKey string `json:"passwordKey,omitempty"`
}

type Log struct {
	Level  string `json:"level"`
	Path   string `json:"path,omitempty"`
	Pretty bool   `json:"pretty"`
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Config struct {
	DataDir string `json:"dataDir"`
	// LocalBackend is "sqlite" (default) or "file".
	LocalBackend string `json:"localBackend"`
	Remote       Remote `json:"remote"`
	HubURL       string `json:"hubUrl,omitempty"`
	HubAddr      string `json:"hubAddr"`
	User         User   `json:"user"`

	PushDebounce    Duration `json:"pushDebounce"`
	HistoryDebounce Duration `json:"historyDebounce"`
	HistoryDepth    int      `json:"historyDepth"`
	InviteTTL       Duration `json:"inviteTtl"`

	ResyncSchedule    string `json:"resyncSchedule"`
	PresenceHeartbeat string `json:"presenceHeartbeat"`

	Log Log `json:"log"`
}

// Default mirrors the desktop layout under ~/.local/share.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		DataDir:           filepath.Join(homeDir, ".local", "share", "notespace"),
		LocalBackend:      "sqlite",
		HubAddr:           "127.0.0.1:7431",
		PushDebounce:      Duration{750 * time.Millisecond},
		HistoryDebounce:   Duration{time.Second},
		HistoryDepth:      50,
		InviteTTL:         Duration{7 * 24 * time.Hour},
		ResyncSchedule:    "@every 5m",
		PresenceHeartbeat: "@every 30s",
		Log:               Log{Level: "info"},
	}
}

// Path returns the config file location: $NOTESPACE_CONFIG or
// ~/.config/notespace/config.json.
func Path(getenv func(string) string) string {
	if p := getenv("NOTESPACE_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "notespace", "config.json")
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	cfg.applyEnv(getenv)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.DataDir, "NOTESPACE_DATA_DIR")
	set(&c.LocalBackend, "NOTESPACE_LOCAL_BACKEND")
	set(&c.Remote.Driver, "NOTESPACE_REMOTE_DRIVER")
	set(&c.Remote.DSN, "NOTESPACE_REMOTE_DSN")
	set(&c.HubURL, "NOTESPACE_HUB_URL")
	set(&c.User.ID, "NOTESPACE_USER_ID")
	set(&c.User.Email, "NOTESPACE_USER_EMAIL")
	set(&c.User.DisplayName, "NOTESPACE_USER_NAME")
	set(&c.Log.Level, "NOTESPACE_LOG_LEVEL")
}

// Validate rejects unknown backends and non-positive timings.
func (c Config) Validate() error {
	switch c.LocalBackend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("config: unknown local backend %q", c.LocalBackend)
	}
	switch c.Remote.Driver {
	case "", "postgres", "mysql", "sqlite", "mongodb":
	default:
		return fmt.Errorf("config: unsupported remote driver %q", c.Remote.Driver)
	}
	if c.PushDebounce.Duration <= 0 || c.HistoryDebounce.Duration <= 0 || c.InviteTTL.Duration <= 0 {
		return errors.New("config: debounce and ttl durations must be positive")
	}
	if c.HistoryDepth <= 0 {
		return errors.New("config: historyDepth must be positive")
	}
	return nil
}

// LocalPath is the on-device cache location for the selected backend.
func (c Config) LocalPath() string {
	if c.LocalBackend == "file" {
		return filepath.Join(c.DataDir, "appdata.json")
	}
	return filepath.Join(c.DataDir, "notespace.db")
}

// Online reports whether a remote store is configured.
func (c Config) Online() bool {
	return c.Remote.Driver != ""
}
