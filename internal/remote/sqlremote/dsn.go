package sqlremote

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"notespace/internal/config"
	"notespace/internal/domain"
	"notespace/internal/remote"
)

// BuildDSN returns the driver name and connection string for cfg. An
// explicit cfg.DSN wins over the discrete fields.
func BuildDSN(cfg config.Remote, password string) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DSN != "" {
			return "postgres", cfg.DSN, nil
		}
		return "postgres", buildPostgresDSN(cfg, password), nil
	case "mysql":
		if cfg.DSN != "" {
			return "mysql", cfg.DSN, nil
		}
		return "mysql", buildMySQLDSN(cfg, password), nil
	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = cfg.Host
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite remote needs a file path")
		}
		return "sqlite", path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

func buildPostgresDSN(cfg config.Remote, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.Username, password, cfg.Database, sslMode,
	)
}

func buildMySQLDSN(cfg config.Remote, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.Username, password, cfg.Host, port, cfg.Database,
	)
	if cfg.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

// Connect opens the backend cfg describes and serves it through
// remote.Adapter.
func Connect(ctx context.Context, cfg config.Remote, password string, opts remote.Options) (*remote.Adapter, error) {
	driver, dsn, err := BuildDSN(cfg, password)
	if err != nil {
		return nil, err
	}
	s, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, domain.Transport("connect "+driver, err)
	}
	return remote.NewAdapter(driver, s, opts), nil
}
