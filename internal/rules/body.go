package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CheckNotNull       = "not_null"
	CheckUnique        = "unique"
	CheckRange         = "range"
	CheckAllowedValues = "allowed_values"
	CheckMaxLength     = "max_length"
	CheckPattern       = "pattern"
	CheckCompare       = "compare"
)

// Body is the declarative check stored in rule_text. JSON documents are
// accepted as well since they are valid YAML.
type Body struct {
	Check   string   `yaml:"check"`
	Key     string   `yaml:"key,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
	Values  []any    `yaml:"values,omitempty"`
	Length  *int     `yaml:"length,omitempty"`
	Pattern string   `yaml:"pattern,omitempty"`
	Op      string   `yaml:"op,omitempty"`
	Value   any      `yaml:"value,omitempty"`
	Where   []Clause `yaml:"where,omitempty"`
	Limit   int      `yaml:"limit,omitempty"`
}

type Clause struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value"`
}

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseBody decodes and validates a rule body.
func ParseBody(text string) (Body, *ParseError) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return Body{}, &ParseError{Code: CodeBodyInvalid, Message: "empty rule body", Details: []ErrorDetail{{Field: "rule_text", Problem: "empty", Hint: "Example: check: not_null"}}}
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.KnownFields(true)
	var body Body
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("document is empty")
		}
		return Body{}, &ParseError{Code: CodeBodyInvalid, Message: "rule body is not a valid check document", Details: []ErrorDetail{{Field: "rule_text", Problem: err.Error()}}}
	}
	if perr := ValidateBody(body); perr != nil {
		return Body{}, perr
	}
	return body, nil
}

// NormalizeOp maps accepted comparison spellings to their SQL form. It returns
// "" for anything else.
func NormalizeOp(op string) string {
	switch strings.TrimSpace(op) {
	case "=", "==":
		return "="
	case "!=", "<>":
		return "<>"
	case "<":
		return "<"
	case "<=":
		return "<="
	case ">":
		return ">"
	case ">=":
		return ">="
	}
	return ""
}

func ValidateBody(body Body) *ParseError {
	var details []ErrorDetail
	switch body.Check {
	case CheckNotNull, CheckUnique:
	case CheckRange:
		if body.Min == nil && body.Max == nil {
			details = append(details, ErrorDetail{Field: "min", Problem: "missing", Hint: "Provide min, max or both"})
		}
		if body.Min != nil && body.Max != nil && *body.Min > *body.Max {
			details = append(details, ErrorDetail{Field: "max", Problem: "less than min"})
		}
	case CheckAllowedValues:
		if len(body.Values) == 0 {
			details = append(details, ErrorDetail{Field: "values", Problem: "missing", Hint: "Example: values: [active, inactive]"})
		}
		for i, v := range body.Values {
			if !isScalar(v) {
				details = append(details, ErrorDetail{Field: fmt.Sprintf("values[%d]", i), Problem: "not a scalar"})
			}
		}
	case CheckMaxLength:
		if body.Length == nil || *body.Length < 0 {
			details = append(details, ErrorDetail{Field: "length", Problem: "missing", Hint: "Provide a non-negative length"})
		}
	case CheckPattern:
		if body.Pattern == "" {
			details = append(details, ErrorDetail{Field: "pattern", Problem: "missing", Hint: "Example: pattern: '^[A-Z]{2}[0-9]+$'"})
		} else if _, err := regexp.Compile(body.Pattern); err != nil {
			details = append(details, ErrorDetail{Field: "pattern", Problem: "invalid", Hint: err.Error()})
		}
	case CheckCompare:
		if NormalizeOp(body.Op) == "" {
			details = append(details, ErrorDetail{Field: "op", Problem: "invalid", Hint: "Use one of = != < <= > >="})
		}
		if body.Value == nil || !isScalar(body.Value) {
			details = append(details, ErrorDetail{Field: "value", Problem: "missing", Hint: "Provide a scalar to compare against"})
		}
	case "":
		details = append(details, ErrorDetail{Field: "check", Problem: "missing", Hint: "One of not_null, unique, range, allowed_values, max_length, pattern, compare"})
	default:
		details = append(details, ErrorDetail{Field: "check", Problem: "unsupported", Hint: "One of not_null, unique, range, allowed_values, max_length, pattern, compare"})
	}
	if body.Key != "" && !identRegex.MatchString(body.Key) {
		details = append(details, ErrorDetail{Field: "key", Problem: "invalid", Hint: "Use alphanumeric identifiers"})
	}
	if body.Limit < 0 {
		details = append(details, ErrorDetail{Field: "limit", Problem: "negative"})
	}
	for i, clause := range body.Where {
		if !identRegex.MatchString(clause.Column) {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("where[%d].column", i), Problem: "invalid", Hint: "Use alphanumeric identifiers"})
		}
		if NormalizeOp(clause.Op) == "" {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("where[%d].op", i), Problem: "invalid", Hint: "Use one of = != < <= > >="})
		}
		if clause.Value == nil || !isScalar(clause.Value) {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("where[%d].value", i), Problem: "missing"})
		}
	}
	if len(details) > 0 {
		return &ParseError{Code: CodeBodyInvalid, Message: "rule body failed validation", Details: details}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, uint64, float64:
		return true
	}
	return false
}
