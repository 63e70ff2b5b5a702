package rules

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityCritical:
		return true
	}
	return false
}

type Rule struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"db_connection_id"`
	TableName    string    `json:"table_name"`
	ColumnName   string    `json:"column_name"`
	Name         string    `json:"rule_name"`
	Text         string    `json:"rule_text"`
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description,omitempty"`
	Interval     string    `json:"interval"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Connection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	// ConnectionString is the decrypted DSN or URL.
	ConnectionString string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ParseError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

func (e *ParseError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+" "+d.Problem)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, "; "))
}

const CodeBodyInvalid = "RULE_BODY_INVALID"
