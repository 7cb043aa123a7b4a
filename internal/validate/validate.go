// Package validate evaluates the input rules of the editable columns.
//
// Rules are pure and stateless; a [Registry] is safe for concurrent use once
// built.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is the outcome of validating one raw input.
//
// Message is set iff Valid is false. Value holds the normalized value when
// Valid is true; it is nil when the input explicitly clears the cell.
type Result struct {
	Valid   bool
	Message string
	Value   any
}

func invalid(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func valid(v any) Result {
	return Result{Valid: true, Value: v}
}

// Rule validates the raw input for a column.
type Rule interface {
	Validate(column string, raw any) Result
}

// Positive accepts finite numbers strictly greater than zero. Empty input is
// rejected.
type Positive struct{}

// Validate implements [Rule].
func (Positive) Validate(column string, raw any) Result {
	f, empty, err := parseNumber(raw)
	switch {
	case empty:
		return invalid("%s cannot be empty", column)
	case err != nil:
		return invalid("invalid number: %q", rawText(raw))
	case math.IsNaN(f) || math.IsInf(f, 0):
		return invalid("%s must be a finite number", column)
	case f <= 0:
		return invalid("%s must be a positive number greater than 0", column)
	}
	return valid(f)
}

// NegativeOrEmpty accepts finite numbers strictly lower than zero, or an empty
// input which clears the cell.
type NegativeOrEmpty struct{}

// Validate implements [Rule].
func (NegativeOrEmpty) Validate(column string, raw any) Result {
	f, empty, err := parseNumber(raw)
	switch {
	case empty:
		return valid(nil)
	case err != nil:
		return invalid("invalid number: %q", rawText(raw))
	case math.IsNaN(f) || math.IsInf(f, 0):
		return invalid("%s must be a finite number", column)
	case f == 0:
		return invalid("%s cannot be zero - must be negative or empty", column)
	case f > 0:
		return invalid("%s must be negative or empty", column)
	}
	return valid(f)
}

// Registry maps column names to their rule. Lookups are case-insensitive.
//
// Columns without a rule are read-only.
type Registry struct {
	rules map[string]Rule
}

// New returns a registry with the given positive and negative-or-empty
// columns.
func New(positive, negativeOrEmpty []string) *Registry {
	r := &Registry{rules: make(map[string]Rule, len(positive)+len(negativeOrEmpty))}
	for _, c := range positive {
		r.Register(c, Positive{})
	}
	for _, c := range negativeOrEmpty {
		r.Register(c, NegativeOrEmpty{})
	}
	return r
}

// Default returns the registry for the standard layout: VIEW must be positive,
// SHORTLIMIT must be negative or empty.
func Default() *Registry {
	return New([]string{"VIEW"}, []string{"SHORTLIMIT"})
}

// Register sets the rule for a column. It must not be called concurrently
// with Validate.
func (r *Registry) Register(column string, rule Rule) {
	r.rules[strings.ToUpper(column)] = rule
}

// Editable reports whether the column has a rule.
func (r *Registry) Editable(column string) bool {
	_, ok := r.rules[strings.ToUpper(column)]
	return ok
}

// Columns returns the upper-cased names of the governed columns.
func (r *Registry) Columns() []string {
	out := make([]string, 0, len(r.rules))
	for c := range r.rules {
		out = append(out, c)
	}
	return out
}

// Validate validates raw against the rule of column.
func (r *Registry) Validate(column string, raw any) Result {
	name := strings.ToUpper(column)
	rule, ok := r.rules[name]
	if !ok {
		return invalid("column %q is read-only and cannot be modified", column)
	}
	return rule.Validate(name, raw)
}

// parseNumber converts raw into a float64.
//
// empty is true for nil and whitespace-only strings. err is set when the
// input is present but is not a number.
func parseNumber(raw any) (f float64, empty bool, err error) {
	switch v := raw.(type) {
	case nil:
		return 0, true, nil
	case float64:
		return v, false, nil
	case float32:
		return float64(v), false, nil
	case int:
		return float64(v), false, nil
	case int64:
		return float64(v), false, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, true, nil
		}
		s, err := decimal(s)
		if err != nil {
			return 0, false, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// ParseFloat reports range errors with ±Inf, keep them as values
			// so the finite check produces the message.
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return f, false, nil
			}
			return 0, false, err
		}
		return f, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported type %T", raw)
	}
}

// decimal restricts s to decimal notation: hexadecimal floats are rejected
// and single underscores between digits are removed.
func decimal(s string) (string, error) {
	digits := strings.TrimLeft(s, "+-")
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return "", fmt.Errorf("hexadecimal notation is not supported: %q", s)
	}
	if !strings.Contains(s, "_") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			b.WriteByte(s[i])
			continue
		}
		if i == 0 || i == len(s)-1 || !isDigit(s[i-1]) || !isDigit(s[i+1]) {
			return "", fmt.Errorf("misplaced underscore: %q", s)
		}
	}
	return b.String(), nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func rawText(raw any) string {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(raw)
}
