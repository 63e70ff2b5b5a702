// file: oracle_connector.go
package dbconnector

import (
	"fmt"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"
)

type OracleConnector struct {
	baseConnector
}

func newOracleConnector(cfg ConnectionConfig) (*OracleConnector, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Port == 0 {
			cfg.Port = 1521
		}
		options := map[string]string{}
		if mode := strings.ToLower(strings.TrimSpace(cfg.SSLMode)); mode != "" && mode != "disable" {
			options["SSL"] = "enable"
		}
		dsn = go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, options)
	}
	db, err := openDatabase("oracle", dsn)
	if err != nil {
		return nil, fmt.Errorf("open oracle connection: %w", err)
	}
	return &OracleConnector{baseConnector{cfg: cfg, db: db, dialect: oracleDialect}}, nil
}
