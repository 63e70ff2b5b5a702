// file: dialect.go
package dbconnector

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences checks are compiled against.
type Dialect interface {
	Name() string
	QuoteTable(ident string) (string, error)
	QuoteColumn(name string) (string, error)
	// Placeholder returns the bind marker for the 1-based argument index.
	Placeholder(index int) string
	LengthFunc() string
	// SelectLimited renders "SELECT <columns> FROM <rest>" returning at most n rows.
	SelectLimited(columns, rest string, n int) string
}

type limitStyle int

const (
	limitSuffix limitStyle = iota
	limitTop
	limitFetchFirst
)

type sqlDialect struct {
	name        string
	quote       func(string) string
	placeholder func(int) string
	length      string
	limit       limitStyle
	qualify     func(string) (string, error)
}

func (d sqlDialect) Name() string { return d.name }

func (d sqlDialect) QuoteTable(ident string) (string, error) {
	if d.qualify != nil {
		return d.qualify(ident)
	}
	quoted, _, err := quoteQualified(ident, 2, d.quote)
	if err != nil {
		return "", fmt.Errorf("invalid %s table: %w", d.name, err)
	}
	return quoted, nil
}

func (d sqlDialect) QuoteColumn(name string) (string, error) {
	parts, err := splitIdentifier(name)
	if err != nil || len(parts) != 1 {
		return "", fmt.Errorf("invalid %s column name %q", d.name, name)
	}
	return d.quote(parts[0]), nil
}

func (d sqlDialect) Placeholder(index int) string { return d.placeholder(index) }

func (d sqlDialect) LengthFunc() string { return d.length }

func (d sqlDialect) SelectLimited(columns, rest string, n int) string {
	if n <= 0 {
		return fmt.Sprintf("SELECT %s FROM %s", columns, rest)
	}
	switch d.limit {
	case limitTop:
		return fmt.Sprintf("SELECT TOP %d %s FROM %s", n, columns, rest)
	case limitFetchFirst:
		return fmt.Sprintf("SELECT %s FROM %s FETCH FIRST %d ROWS ONLY", columns, rest, n)
	default:
		return fmt.Sprintf("SELECT %s FROM %s LIMIT %d", columns, rest, n)
	}
}

var (
	postgresDialect = sqlDialect{
		name:        "postgres",
		quote:       func(s string) string { return "\"" + s + "\"" },
		placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
		length:      "LENGTH",
	}
	mysqlDialect = sqlDialect{
		name:        "mysql",
		quote:       func(s string) string { return "`" + s + "`" },
		placeholder: func(int) string { return "?" },
		length:      "CHAR_LENGTH",
	}
	mssqlDialect = sqlDialect{
		name:        "mssql",
		quote:       func(s string) string { return "[" + s + "]" },
		placeholder: func(i int) string { return "@p" + strconv.Itoa(i) },
		length:      "LEN",
		limit:       limitTop,
		qualify:     quoteMSSQLTable,
	}
	oracleDialect = sqlDialect{
		name:        "oracle",
		quote:       func(s string) string { return "\"" + strings.ToUpper(s) + "\"" },
		placeholder: func(i int) string { return ":" + strconv.Itoa(i) },
		length:      "LENGTH",
		limit:       limitFetchFirst,
	}
)

// DialectFor returns the dialect for a connection type without opening it.
func DialectFor(connType string) (Dialect, error) {
	switch normalizeType(connType) {
	case "postgres":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	case "mssql":
		return mssqlDialect, nil
	case "oracle":
		return oracleDialect, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", connType)
	}
}

func normalizeType(connType string) string {
	switch strings.ToLower(strings.TrimSpace(connType)) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "mssql", "sqlserver":
		return "mssql"
	case "oracle":
		return "oracle"
	default:
		return ""
	}
}
