// file: connector.go
package dbconnector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DbConnector is a handle on one external database referenced by rules.
type DbConnector interface {
	TestConnection(ctx context.Context) error

	Dialect() Dialect

	// Open acquires a dedicated connection. Statements issued on the returned
	// session run sequentially on that single connection.
	Open(ctx context.Context) (Session, error)

	Close() error
}

// Session is a single database connection used to evaluate compiled checks.
type Session interface {
	Count(ctx context.Context, query string, args ...any) (int64, error)

	// Collect reads (key, value) pairs from a two column result set, stopping
	// after limit rows when limit > 0.
	Collect(ctx context.Context, query string, limit int, args ...any) ([]Row, error)

	Close() error
}

type ConnectionConfig struct {
	Type     string `json:"type"` // mysql | postgres | mssql | oracle
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
	// DSN, when set, is handed to the driver as is.
	DSN string `json:"-"`
}

// Row is one offending row: its identifier and the checked column value.
type Row struct {
	Key   string
	Value *string
}

type baseConnector struct {
	cfg     ConnectionConfig
	db      *sql.DB
	dialect Dialect
}

func (b *baseConnector) Dialect() Dialect {
	return b.dialect
}

func (b *baseConnector) TestConnection(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", b.dialect.Name(), err)
	}
	return nil
}

func (b *baseConnector) Open(ctx context.Context) (Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %s connection: %w", b.dialect.Name(), err)
	}
	return &sqlSession{conn: conn, name: b.dialect.Name()}, nil
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

type sqlSession struct {
	conn *sql.Conn
	name string
}

func (s *sqlSession) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var count sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("query %s row count: %w", s.name, err)
	}
	if !count.Valid {
		return 0, nil
	}
	return count.Int64, nil
}

func (s *sqlSession) Collect(ctx context.Context, query string, limit int, args ...any) ([]Row, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", s.name, err)
	}
	defer rows.Close()
	result, err := scanKeyValueRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", s.name, err)
	}
	return result, nil
}

func (s *sqlSession) Close() error {
	return s.conn.Close()
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func scanKeyValueRows(rows *sql.Rows, limit int) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) != 2 {
		return nil, fmt.Errorf("expected 2 columns, got %d", len(cols))
	}
	results := make([]Row, 0)
	for rows.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}
		var key, value any
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		row, err := keyValueRow(key, value)
		if err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ErrNullKey is returned when a scanned row has no identifier.
var ErrNullKey = errors.New("row key column is NULL")

func keyValueRow(key, value any) (Row, error) {
	k := normalizeValue(key)
	if k == nil {
		return Row{}, ErrNullKey
	}
	row := Row{Key: formatValue(k)}
	if v := normalizeValue(value); v != nil {
		text := formatValue(v)
		row.Value = &text
	}
	return row, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
