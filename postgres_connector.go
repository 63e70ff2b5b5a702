// file: postgres_connector.go
package dbconnector

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pqValue(cfg.Host), cfg.Port, pqValue(cfg.User), pqValue(cfg.Password), pqValue(cfg.Database), sslMode)
	}
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{cfg: cfg, db: db, dialect: postgresDialect}}, nil
}

// pqValue quotes a keyword/value connection parameter when it needs it.
func pqValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "'", "\\'")
	return "'" + v + "'"
}
