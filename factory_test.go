package dbconnector

import (
	"strings"
	"testing"
)

func TestParseConnectionStringURLTypes(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/app?sslmode=disable": "postgres",
		"postgresql://u:p@db/app":                    "postgres",
		"sqlserver://sa:secret@db:1433?database=app": "mssql",
		"oracle://scott:tiger@db:1521/ORCLPDB1":      "oracle",
	}
	for raw, want := range cases {
		cfg, err := ParseConnectionString("", raw)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", raw, err)
		}
		if cfg.Type != want || cfg.DSN != raw {
			t.Fatalf("unexpected config for %s: %#v", raw, cfg)
		}
	}
}

func TestParseConnectionStringMySQLURL(t *testing.T) {
	cfg, err := ParseConnectionString("mysql", "mysql://root:s3cret@db:3307/shop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != "mysql" || cfg.Host != "db" || cfg.Port != 3307 || cfg.Database != "shop" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
	if !strings.HasPrefix(cfg.DSN, "root:s3cret@tcp(db:3307)/shop?") || !strings.Contains(cfg.DSN, "parseTime=true") {
		t.Fatalf("unexpected dsn: %s", cfg.DSN)
	}
}

func TestParseConnectionStringNativeDSN(t *testing.T) {
	cfg, err := ParseConnectionString("postgres", "host=db port=5432 user=u dbname=app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != "postgres" || cfg.DSN != "host=db port=5432 user=u dbname=app" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
	if _, err := ParseConnectionString("", "host=db"); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestParseConnectionStringTypeMismatch(t *testing.T) {
	if _, err := ParseConnectionString("mysql", "postgres://u:p@db/app"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestNewConnectorRequiresType(t *testing.T) {
	if _, err := NewConnector(ConnectionConfig{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewConnector(ConnectionConfig{Type: "db2"}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestPQValueQuoting(t *testing.T) {
	if got := pqValue("plain"); got != "plain" {
		t.Fatalf("unexpected value: %s", got)
	}
	if got := pqValue("it's x"); got != `'it\'s x'` {
		t.Fatalf("unexpected quoted value: %s", got)
	}
	if got := pqValue(""); got != "''" {
		t.Fatalf("unexpected empty value: %s", got)
	}
}
