package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

var testDerived = []models.DerivedMetric{
	{
		Name:         "gross_margin",
		Formula:      "{sales} - {cost}",
		Dependencies: []string{"sales", "cost"},
	},
	{
		Name:         "avg_ticket",
		Formula:      "{sales} / nullif({transactions}, 0)",
		Dependencies: []string{"sales", "transactions"},
	},
	{
		Name:         "budget_attainment",
		Formula:      "{sales} * 100.0 / nullif({budget_amount}, 0)",
		Dependencies: []string{"sales", "budget_amount"},
	},
}

func metricsFor(pairs ...[2]string) map[string][]models.MetricRequest {
	byTable := make(map[string][]models.MetricRequest)
	for _, p := range pairs {
		table, alias := p[0], p[1]
		byTable[table] = append(byTable[table], models.MetricRequest{
			Table: table, Field: "amount", Aggregation: models.AggSum, Alias: alias,
		})
	}
	return byTable
}

func TestFormulaPlaceholders(t *testing.T) {
	names := FormulaPlaceholders("({sales} - {cost}) * 100.0 / nullif({sales}, 0)")
	assert.Equal(t, []string{"sales", "cost"}, names)

	assert.Empty(t, FormulaPlaceholders("1 + 1"))
}

func TestValidateFormula(t *testing.T) {
	require.NoError(t, ValidateFormula(models.DerivedMetric{
		Name:         "margin",
		Formula:      "{sales} - {cost}",
		Dependencies: []string{"sales", "cost"},
	}))

	err := ValidateFormula(models.DerivedMetric{
		Name:         "sneaky",
		Formula:      "{sales} - {password_hash}",
		Dependencies: []string{"sales"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password_hash")
}

func TestApplyDerivedMetricsResolvesReferences(t *testing.T) {
	byTable := metricsFor([2]string{"sales", "sales"}, [2]string{"sales", "cost"})

	expressions := ApplyDerivedMetrics(testDerived, byTable, nil)
	require.Len(t, expressions, 1)
	assert.Equal(t, "sales_current.sales - sales_current.cost AS gross_margin", expressions[0])
}

func TestApplyDerivedMetricsOmitsIncomplete(t *testing.T) {
	// Only sales requested: nothing with a second dependency is eligible.
	expressions := ApplyDerivedMetrics(testDerived, metricsFor([2]string{"sales", "sales"}), nil)
	assert.Empty(t, expressions)
}

func TestApplyDerivedMetricsMonotonicInclusion(t *testing.T) {
	smaller := metricsFor([2]string{"sales", "sales"}, [2]string{"sales", "cost"})
	larger := metricsFor(
		[2]string{"sales", "sales"},
		[2]string{"sales", "cost"},
		[2]string{"sales", "transactions"},
	)

	before := ApplyDerivedMetrics(testDerived, smaller, nil)
	after := ApplyDerivedMetrics(testDerived, larger, nil)

	// Growing the request only adds derived metrics, never removes them.
	assert.Subset(t, after, before)
	assert.Contains(t, after, "sales_current.sales / nullif(sales_current.transactions, 0) AS avg_ticket")
}

func TestApplyDerivedMetricsSkippedTableContributesZero(t *testing.T) {
	byTable := metricsFor([2]string{"sales", "sales"}, [2]string{"budget_sales", "budget_amount"})
	skipped := map[string]bool{"budget_sales": true}

	expressions := ApplyDerivedMetrics(testDerived, byTable, skipped)
	require.Len(t, expressions, 1)
	assert.Equal(t, "sales_current.sales * 100.0 / nullif(0, 0) AS budget_attainment", expressions[0])
}

func TestApplyDerivedMetricsSkipsInvalidDefinitions(t *testing.T) {
	bad := []models.DerivedMetric{
		{Name: "no deps", Formula: "1", Dependencies: nil},
		{Name: "bad name!", Formula: "{sales}", Dependencies: []string{"sales"}},
		{Name: "undeclared", Formula: "{sales} + {cost}", Dependencies: []string{"sales"}},
	}
	expressions := ApplyDerivedMetrics(bad, metricsFor([2]string{"sales", "sales"}), nil)
	assert.Empty(t, expressions)
}

func TestEligibleDerivedNames(t *testing.T) {
	byTable := metricsFor(
		[2]string{"sales", "sales"},
		[2]string{"sales", "cost"},
		[2]string{"budget_sales", "budget_amount"},
	)
	names := EligibleDerivedNames(testDerived, byTable)
	assert.ElementsMatch(t, []string{"gross_margin", "budget_attainment"}, names)
}
