package sql

import (
	"fmt"
	"strings"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
	"github.com/pulsebi/pulse-engine/pkg/models"
)

const (
	// CurrentSuffix and PreviousSuffix name the per-table period CTEs.
	CurrentSuffix  = "_current"
	PreviousSuffix = "_previous"

	// PriorYearSuffix marks prior-year metric columns (alias -> alias_ly).
	PriorYearSuffix = "_ly"

	// VariationSuffix marks the percent-variation columns.
	VariationSuffix = "_vs_last_year"
)

// CTE is one named sub-query of the assembled statement.
type CTE struct {
	Name    string
	SQL     string
	Metrics []models.MetricRequest
}

// Render returns the `name AS (sql)` form used inside the WITH clause.
func (c CTE) Render() string {
	return fmt.Sprintf("%s AS (%s)", c.Name, c.SQL)
}

// BuildAggregateCTE emits a scalar aggregate CTE for one table and one
// period. prior selects the previous-period variant: aliases get the _ly
// suffix so the two CTEs can be joined without column collisions. where is a
// rendered fragment without the WHERE keyword; empty means unfiltered.
func BuildAggregateCTE(table string, metrics []models.MetricRequest, where string, prior bool) (CTE, error) {
	selects, err := aggregateSelects(metrics, prior)
	if err != nil {
		return CTE{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	return CTE{Name: table + periodSuffix(prior), SQL: sb.String(), Metrics: metrics}, nil
}

// BuildGroupedCTE is BuildAggregateCTE grouped by a dimension. The dimension
// id column is whitespace-trimmed and selected first; when the dimension has
// a distinct display column it is selected second and the grouping is by
// ordinals 1, 2 instead of just 1.
func BuildGroupedCTE(table string, metrics []models.MetricRequest, where string, prior bool, dim models.Dimension) (CTE, error) {
	if err := ValidateIdentifier(dim.IDColumn); err != nil {
		return CTE{}, err
	}

	selects := []string{fmt.Sprintf("trim(%s) AS %s", dim.IDColumn, dim.IDColumn)}
	groupBy := "1"
	if dim.HasNamePair() {
		if err := ValidateIdentifier(dim.NameColumn); err != nil {
			return CTE{}, err
		}
		selects = append(selects, fmt.Sprintf("trim(%s) AS %s", dim.NameColumn, dim.NameColumn))
		groupBy = "1, 2"
	}

	aggs, err := aggregateSelects(metrics, prior)
	if err != nil {
		return CTE{}, err
	}
	selects = append(selects, aggs...)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(" GROUP BY ")
	sb.WriteString(groupBy)

	return CTE{Name: table + periodSuffix(prior), SQL: sb.String(), Metrics: metrics}, nil
}

func aggregateSelects(metrics []models.MetricRequest, prior bool) ([]string, error) {
	selects := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if !m.Aggregation.Valid() {
			return nil, fmt.Errorf("%w: %q on %s.%s", apperrors.ErrUnsupportedAggregation, m.Aggregation, m.Table, m.Field)
		}
		if err := ValidateIdentifier(m.Field); err != nil {
			return nil, err
		}
		if err := ValidateIdentifier(m.Alias); err != nil {
			return nil, err
		}
		alias := m.Alias
		if prior {
			alias += PriorYearSuffix
		}
		selects = append(selects, fmt.Sprintf("%s(%s) AS %s", m.Aggregation, m.Field, alias))
	}
	return selects, nil
}

func periodSuffix(prior bool) string {
	if prior {
		return PreviousSuffix
	}
	return CurrentSuffix
}
