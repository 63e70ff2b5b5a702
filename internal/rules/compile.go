package rules

import (
	"fmt"
	"regexp"
	"strings"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/security"
)

// DefaultKeyColumn identifies offending rows when a body names no key.
const DefaultKeyColumn = "id"

// Plan is a compiled check ready to run on a session.
type Plan struct {
	CountQuery string
	CountArgs  []any
	// FailedQuery counts every offending row. It is empty when offending rows
	// are only known after filtering in process.
	FailedQuery string
	FailedArgs  []any
	RowsQuery   string
	RowsArgs    []any
	// ScanLimit bounds the rows read by RowsQuery.
	ScanLimit int
	// Limit caps the offending rows reported.
	Limit int
	// Keep filters scanned rows in process. Nil keeps every row.
	Keep func(row dbconnector.Row) bool
}

// Evaluation is what a plan makes of the rows read by RowsQuery.
type Evaluation struct {
	Offending []dbconnector.Row
	// Matched counts every scanned row Keep accepted, including rows past Limit.
	Matched int64
	// ScanCapped means RowsQuery stopped at ScanLimit and later rows were not read.
	ScanCapped bool
}

func (p Plan) Evaluate(rows []dbconnector.Row) Evaluation {
	ev := Evaluation{
		Offending:  make([]dbconnector.Row, 0, len(rows)),
		ScanCapped: p.ScanLimit > 0 && len(rows) >= p.ScanLimit,
	}
	for _, row := range rows {
		if p.Keep != nil && !p.Keep(row) {
			continue
		}
		ev.Matched++
		if p.Limit <= 0 || len(ev.Offending) < p.Limit {
			ev.Offending = append(ev.Offending, row)
		}
	}
	return ev
}

// Offending applies Keep and Limit to scanned rows.
func (p Plan) Offending(rows []dbconnector.Row) []dbconnector.Row {
	return p.Evaluate(rows).Offending
}

type argList struct {
	dialect dbconnector.Dialect
	args    []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return a.dialect.Placeholder(len(a.args))
}

// Compile turns a validated body into dialect specific parameterized SQL.
func Compile(body Body, rule Rule, dialect dbconnector.Dialect, limits security.Limits, allow security.Allowlist) (Plan, error) {
	if !allow.AllowsTable(rule.TableName) {
		return Plan{}, &ParseError{Code: CodeBodyInvalid, Message: "table is not allowlisted", Details: []ErrorDetail{{Field: "table_name", Problem: "not allowed", Hint: rule.TableName}}}
	}
	table, err := dialect.QuoteTable(rule.TableName)
	if err != nil {
		return Plan{}, err
	}
	col, err := dialect.QuoteColumn(rule.ColumnName)
	if err != nil {
		return Plan{}, err
	}
	keyName := body.Key
	if keyName == "" {
		keyName = DefaultKeyColumn
	}
	key, err := dialect.QuoteColumn(keyName)
	if err != nil {
		return Plan{}, err
	}

	limit := limits.MaxOffendingRows
	if body.Limit > 0 && (limit <= 0 || body.Limit < limit) {
		limit = body.Limit
	}

	scope, scopeArgs, err := scopeSQL(body.Where, dialect, 0)
	if err != nil {
		return Plan{}, err
	}
	countArgs := append([]any(nil), scopeArgs...)
	count := "SELECT COUNT(*) FROM " + table
	if scope != "" {
		count += " WHERE " + scope
	}

	args := &argList{dialect: dialect, args: append([]any(nil), scopeArgs...)}
	var cond string
	plan := Plan{Limit: limit, ScanLimit: limit}
	switch body.Check {
	case CheckNotNull:
		cond = col + " IS NULL"
	case CheckUnique:
		inner, innerArgs, err := scopeSQL(body.Where, dialect, len(args.args))
		if err != nil {
			return Plan{}, err
		}
		args.args = append(args.args, innerArgs...)
		sub := "SELECT " + col + " FROM " + table
		if inner != "" {
			sub += " WHERE " + inner
		}
		cond = col + " IN (" + sub + " GROUP BY " + col + " HAVING COUNT(*) > 1)"
	case CheckRange:
		var parts []string
		if body.Min != nil {
			parts = append(parts, col+" < "+args.add(*body.Min))
		}
		if body.Max != nil {
			parts = append(parts, col+" > "+args.add(*body.Max))
		}
		cond = "(" + strings.Join(parts, " OR ") + ")"
	case CheckAllowedValues:
		marks := make([]string, len(body.Values))
		for i, v := range body.Values {
			marks[i] = args.add(v)
		}
		cond = col + " IS NOT NULL AND " + col + " NOT IN (" + strings.Join(marks, ", ") + ")"
	case CheckMaxLength:
		cond = dialect.LengthFunc() + "(" + col + ") > " + args.add(*body.Length)
	case CheckPattern:
		re, err := regexp.Compile(body.Pattern)
		if err != nil {
			return Plan{}, err
		}
		cond = col + " IS NOT NULL"
		plan.ScanLimit = limits.MaxScanRows
		plan.Keep = func(row dbconnector.Row) bool {
			return row.Value != nil && !re.MatchString(*row.Value)
		}
	case CheckCompare:
		cond = "NOT (" + col + " " + NormalizeOp(body.Op) + " " + args.add(body.Value) + ")"
	default:
		return Plan{}, fmt.Errorf("unsupported check %q", body.Check)
	}
	where := cond
	if scope != "" {
		where = scope + " AND " + where
	}
	plan.CountQuery = count
	plan.CountArgs = countArgs
	if plan.Keep == nil {
		plan.FailedQuery = "SELECT COUNT(*) FROM " + table + " WHERE " + where
		plan.FailedArgs = args.args
	}
	plan.RowsQuery = dialect.SelectLimited(key+", "+col, table+" WHERE "+where+" ORDER BY "+key, plan.ScanLimit)
	plan.RowsArgs = args.args
	return plan, nil
}

// scopeSQL renders the where clauses with placeholders numbered after offset.
func scopeSQL(clauses []Clause, dialect dbconnector.Dialect, offset int) (string, []any, error) {
	if len(clauses) == 0 {
		return "", nil, nil
	}
	list := &argList{dialect: dialect, args: make([]any, offset, offset+len(clauses))}
	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		col, err := dialect.QuoteColumn(clause.Column)
		if err != nil {
			return "", nil, err
		}
		op := NormalizeOp(clause.Op)
		if op == "" {
			return "", nil, fmt.Errorf("unsupported operator %q", clause.Op)
		}
		parts = append(parts, col+" "+op+" "+list.add(clause.Value))
	}
	return strings.Join(parts, " AND "), list.args[offset:], nil
}
