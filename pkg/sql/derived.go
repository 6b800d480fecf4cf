package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

// placeholderPattern matches {alias} tokens inside derived metric formulas.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]\w*)\}`)

// FormulaPlaceholders returns the deduplicated placeholder names of a
// formula in order of first appearance.
func FormulaPlaceholders(formula string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(formula, -1)
	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if name := match[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ValidateFormula checks that every placeholder in the formula appears in
// the declared dependency list. Formulas may only reference their declared
// dependencies; anything else would let configuration smuggle arbitrary
// column references into the statement.
func ValidateFormula(metric models.DerivedMetric) error {
	declared := make(map[string]bool, len(metric.Dependencies))
	for _, dep := range metric.Dependencies {
		declared[dep] = true
	}
	for _, name := range FormulaPlaceholders(metric.Formula) {
		if !declared[name] {
			return fmt.Errorf("derived metric %q references undeclared placeholder {%s}", metric.Name, name)
		}
	}
	return nil
}

// ApplyDerivedMetrics renders the eligible derived metrics as SELECT
// expressions. A metric is eligible when every dependency alias is among the
// requested base metrics; incomplete metrics are omitted without error so
// the metric configuration can evolve ahead of (or behind) its callers.
// Dependencies on tables in skipped resolve to a literal zero instead of a
// CTE reference: the row structurally carries the column, the table just
// contributes nothing.
func ApplyDerivedMetrics(derived []models.DerivedMetric, metricsByTable map[string][]models.MetricRequest, skipped map[string]bool) []string {
	cteByAlias := make(map[string]string)
	tableByAlias := make(map[string]string)
	for table, metrics := range metricsByTable {
		for _, m := range metrics {
			cteByAlias[m.Alias] = table + CurrentSuffix
			tableByAlias[m.Alias] = table
		}
	}

	var expressions []string
	for _, d := range derived {
		if ValidateIdentifier(d.Name) != nil || ValidateFormula(d) != nil {
			continue
		}
		if !resolvable(d.Dependencies, cteByAlias) {
			continue
		}
		formula := d.Formula
		for _, dep := range d.Dependencies {
			ref := "0"
			if !skipped[tableByAlias[dep]] {
				ref = cteByAlias[dep] + "." + dep
			}
			formula = strings.ReplaceAll(formula, "{"+dep+"}", ref)
		}
		expressions = append(expressions, fmt.Sprintf("%s AS %s", formula, d.Name))
	}
	return expressions
}

// EligibleDerivedNames returns the names of the derived metrics that would
// be emitted for the given base metric set, used to validate ORDER BY fields.
func EligibleDerivedNames(derived []models.DerivedMetric, metricsByTable map[string][]models.MetricRequest) []string {
	cteByAlias := make(map[string]string)
	for table, metrics := range metricsByTable {
		for _, m := range metrics {
			cteByAlias[m.Alias] = table + CurrentSuffix
		}
	}
	var names []string
	for _, d := range derived {
		if ValidateIdentifier(d.Name) != nil || ValidateFormula(d) != nil {
			continue
		}
		if resolvable(d.Dependencies, cteByAlias) {
			names = append(names, d.Name)
		}
	}
	return names
}

func resolvable(dependencies []string, cteByAlias map[string]string) bool {
	if len(dependencies) == 0 {
		return false
	}
	for _, dep := range dependencies {
		if _, ok := cteByAlias[dep]; !ok {
			return false
		}
	}
	return true
}
