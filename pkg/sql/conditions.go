// Package sql synthesizes the parameterized statements behind comparative
// reports: WHERE fragments from typed filter conditions, per-table aggregate
// CTEs for the current and prior-year periods, and config-driven derived
// metric expressions. Values travel exclusively through named parameters;
// identifiers are validated against an allow-pattern before interpolation.
package sql

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
	"github.com/pulsebi/pulse-engine/pkg/models"
)

// fieldNamePattern is the identifier allow-pattern: letters, digits and
// underscores, not starting with a digit. Anything embedded literally in a
// statement (field, table, alias, CTE name) must match it.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks a name against the allow-pattern.
func ValidateIdentifier(name string) error {
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidField, name)
	}
	return nil
}

// Params accumulates named parameter bindings for a statement. The statement
// references each entry as @name; the adapter translates that to its driver's
// native binding.
type Params map[string]any

// dateLayouts are the accepted textual date formats, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ConditionBuilder turns filter conditions into parameterized WHERE
// fragments. It owns the date-shift used to derive the prior-year filter set
// and the table-aware column filtering rules.
type ConditionBuilder struct {
	dateColumn string
	// Tables whose name contains planPrefix structurally cannot carry the
	// planSuppressed dimension; conditions on it are dropped for them.
	planPrefix     string
	planSuppressed string
}

// NewConditionBuilder creates a builder. dateColumn names the filterable
// date field used for year shifting. planPrefix/planSuppressed configure the
// budget-table override; either may be empty to disable it.
func NewConditionBuilder(dateColumn, planPrefix, planSuppressed string) *ConditionBuilder {
	return &ConditionBuilder{
		dateColumn:     dateColumn,
		planPrefix:     planPrefix,
		planSuppressed: planSuppressed,
	}
}

// Build renders the conditions as an AND-joined fragment (no leading WHERE).
// Each value is bound through sink under a name derived from prefix; nothing
// is written to sink until every field name has passed validation. An empty
// result means "no WHERE clause", not an error.
func (b *ConditionBuilder) Build(conditions []models.FilterCondition, sink Params, prefix string) (string, error) {
	for _, c := range conditions {
		if err := ValidateIdentifier(c.Field); err != nil {
			return "", err
		}
	}

	var fragments []string
	for i, c := range conditions {
		fragment, err := b.renderCondition(c, sink, fmt.Sprintf("%s%s_%d", prefix, c.Field, i))
		if err != nil {
			return "", err
		}
		fragments = append(fragments, fragment)
	}
	return strings.Join(fragments, " AND "), nil
}

// BuildForTable is Build with table awareness: conditions on columns the
// table does not carry are dropped (per the column map contract, a table
// absent from the map behaves like a table with no columns), and conditions
// on the configured plan-suppressed field are dropped for plan/budget-class
// tables. Field validation still covers dropped conditions.
func (b *ConditionBuilder) BuildForTable(conditions []models.FilterCondition, sink Params, prefix, table string, columns models.ColumnMap) (string, error) {
	for _, c := range conditions {
		if err := ValidateIdentifier(c.Field); err != nil {
			return "", err
		}
	}

	applicable := make([]models.FilterCondition, 0, len(conditions))
	for _, c := range conditions {
		if !columns.Has(table, c.Field) {
			continue
		}
		if b.suppressedFor(table, c.Field) {
			continue
		}
		applicable = append(applicable, c)
	}
	return b.Build(applicable, sink, prefix)
}

func (b *ConditionBuilder) suppressedFor(table, field string) bool {
	if b.planPrefix == "" || b.planSuppressed == "" {
		return false
	}
	return field == b.planSuppressed && strings.Contains(table, b.planPrefix)
}

// renderCondition emits one comparison. The field name has already been
// validated by the caller.
func (b *ConditionBuilder) renderCondition(c models.FilterCondition, sink Params, name string) (string, error) {
	switch c.Operator {
	case models.OpNeq:
		return b.bindScalar(c, sink, name, "!=")
	case models.OpGt:
		return b.bindScalar(c, sink, name, ">")
	case models.OpGte:
		return b.bindScalar(c, sink, name, ">=")
	case models.OpLt:
		return b.bindScalar(c, sink, name, "<")
	case models.OpLte:
		return b.bindScalar(c, sink, name, "<=")
	case models.OpLike:
		return b.bindScalar(c, sink, name, "LIKE")
	case models.OpILike:
		return b.bindScalar(c, sink, name, "ILIKE")
	case models.OpIn, models.OpNotIn:
		values, ok := asSlice(c.Value)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("%w: %s on %q requires a non-empty list", apperrors.ErrMalformedCondition, c.Operator, c.Field)
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			element := fmt.Sprintf("%s_%d", name, i)
			sink[element] = v
			placeholders[i] = "@" + element
		}
		keyword := "IN"
		if c.Operator == models.OpNotIn {
			keyword = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", c.Field, keyword, strings.Join(placeholders, ", ")), nil
	case models.OpBetween:
		values, ok := asSlice(c.Value)
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("%w: between on %q requires exactly two values", apperrors.ErrMalformedCondition, c.Field)
		}
		low, high := name+"_lo", name+"_hi"
		sink[low] = values[0]
		sink[high] = values[1]
		return fmt.Sprintf("%s BETWEEN @%s AND @%s", c.Field, low, high), nil
	case models.OpIsNull:
		return c.Field + " IS NULL", nil
	case models.OpIsNotNull:
		return c.Field + " IS NOT NULL", nil
	default:
		// Unknown operators (including eq) bind as equality. Callers have
		// historically relied on this fallback, so it stays.
		return b.bindScalar(c, sink, name, "=")
	}
}

func (b *ConditionBuilder) bindScalar(c models.FilterCondition, sink Params, name, op string) (string, error) {
	if _, isSlice := asSlice(c.Value); isSlice {
		return "", fmt.Errorf("%w: %s on %q expects a scalar value", apperrors.ErrMalformedCondition, c.Operator, c.Field)
	}
	sink[name] = c.Value
	return fmt.Sprintf("%s %s @%s", c.Field, op, name), nil
}

// ShiftDates returns a new condition list where every condition on the date
// column has its value's calendar year moved by yearDelta. Other conditions
// pass through unchanged. The input list and its conditions are not mutated.
func (b *ConditionBuilder) ShiftDates(conditions []models.FilterCondition, yearDelta int) []models.FilterCondition {
	shifted := make([]models.FilterCondition, len(conditions))
	for i, c := range conditions {
		shifted[i] = c
		if c.Field != b.dateColumn {
			continue
		}
		if values, ok := asSlice(c.Value); ok {
			moved := make([]any, len(values))
			for j, v := range values {
				moved[j] = shiftYear(v, yearDelta)
			}
			shifted[i].Value = moved
		} else {
			shifted[i].Value = shiftYear(c.Value, yearDelta)
		}
	}
	return shifted
}

// shiftYear moves a date value by delta years, preserving the value's
// representation. Values that do not parse as dates pass through unchanged.
// Feb 29 normalizes to Mar 1 on non-leap targets; the drift is accepted.
func shiftYear(value any, delta int) any {
	switch v := value.(type) {
	case time.Time:
		return v.AddDate(delta, 0, 0)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.AddDate(delta, 0, 0).Format(layout)
			}
		}
		return value
	default:
		return value
	}
}

// asSlice normalizes slice-typed values ([]any, []string, []int, ...) to
// []any. Strings and byte slices are treated as scalars.
func asSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if _, ok := value.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
