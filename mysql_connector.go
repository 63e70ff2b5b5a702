// file: mysql_connector.go
package dbconnector

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type MySQLConnector struct {
	baseConnector
}

func newMySQLConnector(cfg ConnectionConfig) (*MySQLConnector, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = mysqlDSN(cfg)
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{cfg: cfg, db: db, dialect: mysqlDialect}}, nil
}

func mysqlDSN(cfg ConnectionConfig) string {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	switch sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode)); sslMode {
	case "":
	case "disable":
		mc.TLSConfig = "false"
	default:
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}
