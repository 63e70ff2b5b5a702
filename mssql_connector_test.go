package dbconnector

import (
	"strings"
	"testing"
)

func TestParseMSSQLTable(t *testing.T) {
	schema, name, err := parseMSSQLTable("sales.orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema != "sales" || name != "orders" {
		t.Fatalf("unexpected result: %s %s", schema, name)
	}
}

func TestParseMSSQLTableDefaultSchema(t *testing.T) {
	schema, name, err := parseMSSQLTable("orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema != "dbo" || name != "orders" {
		t.Fatalf("unexpected result: %s %s", schema, name)
	}
}

func TestQuoteMSSQLTable(t *testing.T) {
	quoted, err := quoteMSSQLTable("sales.orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != "[sales].[orders]" {
		t.Fatalf("unexpected quote: %s", quoted)
	}
	quoted, err = quoteMSSQLTable("orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != "[dbo].[orders]" {
		t.Fatalf("unexpected quote: %s", quoted)
	}
}

func TestMSSQLDSNEscapesCredentials(t *testing.T) {
	dsn := mssqlDSN(ConnectionConfig{Host: "db", User: "sa", Password: "p@ss word", Database: "sales", SSLMode: "disable"})
	if !strings.HasPrefix(dsn, "sqlserver://sa:p%40ss%20word@db:1433?") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	if !strings.Contains(dsn, "encrypt=disable") || !strings.Contains(dsn, "database=sales") {
		t.Fatalf("unexpected dsn query: %s", dsn)
	}
}
