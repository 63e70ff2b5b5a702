// file: factory.go
package dbconnector

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func NewConnector(cfg ConnectionConfig) (DbConnector, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("connection type is required")
	}
	switch normalizeType(cfg.Type) {
	case "mysql":
		return newMySQLConnector(cfg)
	case "postgres":
		return newPostgresConnector(cfg)
	case "mssql":
		return newMSSQLConnector(cfg)
	case "oracle":
		return newOracleConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// ParseConnectionString turns a stored connection string into a config.
// URL forms (postgres://, mysql://, sqlserver://, oracle://) carry their own
// type; anything else is treated as a driver native DSN for connType.
func ParseConnectionString(connType, raw string) (ConnectionConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ConnectionConfig{}, errors.New("connection string is empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if normalizeType(connType) == "" {
			return ConnectionConfig{}, fmt.Errorf("unsupported database type %q", connType)
		}
		return ConnectionConfig{Type: normalizeType(connType), DSN: raw}, nil
	}
	schemeType := normalizeType(u.Scheme)
	if schemeType == "" {
		return ConnectionConfig{}, fmt.Errorf("unsupported connection string scheme %q", u.Scheme)
	}
	if want := normalizeType(connType); want != "" && want != schemeType {
		return ConnectionConfig{}, fmt.Errorf("connection string scheme %q does not match type %q", u.Scheme, connType)
	}
	if schemeType != "mysql" {
		return ConnectionConfig{Type: schemeType, DSN: raw}, nil
	}
	// go-sql-driver/mysql does not accept URLs.
	cfg := ConnectionConfig{
		Type:     "mysql",
		Host:     u.Hostname(),
		User:     u.User.Username(),
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  u.Query().Get("sslmode"),
	}
	cfg.Password, _ = u.User.Password()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return ConnectionConfig{}, fmt.Errorf("invalid port %q", port)
		}
		cfg.Port = p
	}
	cfg.DSN = mysqlDSN(cfg)
	return cfg, nil
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}
