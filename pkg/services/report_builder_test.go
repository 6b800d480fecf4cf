package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
	"github.com/pulsebi/pulse-engine/pkg/config"
	"github.com/pulsebi/pulse-engine/pkg/models"
	"github.com/pulsebi/pulse-engine/pkg/schema"
)

type fakeMetadata struct {
	mu     sync.Mutex
	calls  int
	result models.ColumnMap
}

func (f *fakeMetadata) TableColumns(_ context.Context, _ []string) (models.ColumnMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, nil
}

func testReportConfig() *config.ReportConfig {
	return &config.ReportConfig{
		PrimaryTable:        "sales",
		DateColumn:          "date",
		PlanTablePrefix:     "budget",
		PlanSuppressedField: "salesperson_id",
		Dimensions: []models.Dimension{
			{Key: "region", IDColumn: "region_id", NameColumn: "region_name"},
			{Key: "channel", IDColumn: "channel", NameColumn: "channel"},
		},
	}
}

func testDerivedMetrics() []models.DerivedMetric {
	return []models.DerivedMetric{
		{
			Name:         "gross_margin",
			Formula:      "{sales} - {cost}",
			Dependencies: []string{"sales", "cost"},
		},
		{
			Name:         "budget_attainment",
			Formula:      "{sales} * 100.0 / nullif({budget_amount}, 0)",
			Dependencies: []string{"sales", "budget_amount"},
		},
	}
}

func testColumnMap() models.ColumnMap {
	return models.ColumnMap{
		"sales": {
			"date": true, "amount": true, "cost": true,
			"region_id": true, "region_name": true,
			"channel": true, "salesperson_id": true,
		},
		"returns": {
			"date": true, "amount": true,
			"region_id": true, "region_name": true,
		},
		// Plan table: no dimension columns at all.
		"budget_sales": {"date": true, "amount": true},
	}
}

func newTestReportBuilder() *ReportBuilder {
	cache := schema.NewCache(&fakeMetadata{result: testColumnMap()}, 0, nil)
	return NewReportBuilder(testReportConfig(), testDerivedMetrics(), cache, nil)
}

func salesSum() models.MetricRequest {
	return models.MetricRequest{Table: "sales", Field: "amount", Aggregation: models.AggSum, Alias: "sales"}
}

func dateFrom(value string) models.FilterCondition {
	return models.FilterCondition{Field: "date", Operator: models.OpGte, Value: value}
}

func TestBuildSummarySingleTable(t *testing.T) {
	b := newTestReportBuilder()

	query, params, err := b.BuildSummary(context.Background(),
		[]models.MetricRequest{salesSum()},
		[]models.FilterCondition{dateFrom("2025-01-01")})
	require.NoError(t, err)

	assert.Equal(t,
		"WITH sales_current AS (SELECT sum(amount) AS sales FROM sales WHERE date >= @c_sales_date_0), "+
			"sales_previous AS (SELECT sum(amount) AS sales_ly FROM sales WHERE date >= @p_sales_date_0) "+
			"SELECT COALESCE(sales_current.sales, 0) AS sales, "+
			"COALESCE(sales_previous.sales_ly, 0) AS sales_ly, "+
			"CASE WHEN COALESCE(sales_previous.sales_ly, 0) = 0 THEN 0 "+
			"ELSE (COALESCE(sales_current.sales, 0) - sales_previous.sales_ly) * 100.0 / sales_previous.sales_ly END AS sales_vs_last_year "+
			"FROM sales_current CROSS JOIN sales_previous",
		query)

	// The prior-year CTE reuses the same filters shifted back one year.
	assert.Equal(t, "2025-01-01", params["c_sales_date_0"])
	assert.Equal(t, "2024-01-01", params["p_sales_date_0"])
}

func TestBuildSummaryMultiTableCrossJoin(t *testing.T) {
	b := newTestReportBuilder()

	query, params, err := b.BuildSummary(context.Background(),
		[]models.MetricRequest{
			salesSum(),
			{Table: "sales", Field: "cost", Aggregation: models.AggSum, Alias: "cost"},
			{Table: "budget_sales", Field: "amount", Aggregation: models.AggSum, Alias: "budget_amount"},
		},
		[]models.FilterCondition{
			dateFrom("2025-01-01"),
			{Field: "salesperson_id", Operator: models.OpEq, Value: "s-7"},
		})
	require.NoError(t, err)

	// Each table contributes exactly one row, so the period CTEs cross join.
	assert.Contains(t, query, "FROM sales_current CROSS JOIN sales_previous CROSS JOIN budget_sales_current CROSS JOIN budget_sales_previous")

	// Eligible derived metrics ride along.
	assert.Contains(t, query, "sales_current.sales - sales_current.cost AS gross_margin")
	assert.Contains(t, query, "sales_current.sales * 100.0 / nullif(budget_sales_current.budget_amount, 0) AS budget_attainment")

	// The salesperson filter binds for the fact table but is suppressed for
	// the budget-class table.
	assert.Equal(t, "s-7", params["c_sales_salesperson_id_1"])
	assert.NotContains(t, query, "budget_sales_salesperson_id")
	assert.Equal(t, "2024-01-01", params["p_budget_sales_date_0"])
}

func TestBuildSummaryRequiresMetrics(t *testing.T) {
	b := newTestReportBuilder()
	_, _, err := b.BuildSummary(context.Background(), nil, nil)
	require.ErrorIs(t, err, apperrors.ErrNoMetrics)
}

func TestBuildSummaryRejectsBadIdentifiers(t *testing.T) {
	b := newTestReportBuilder()
	_, _, err := b.BuildSummary(context.Background(),
		[]models.MetricRequest{{Table: "sales; --", Field: "amount", Aggregation: models.AggSum, Alias: "sales"}},
		nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidField)
}

func TestBuildGroupedSkipsTablesWithoutDimension(t *testing.T) {
	b := newTestReportBuilder()

	query, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{
			salesSum(),
			{Table: "budget_sales", Field: "amount", Aggregation: models.AggSum, Alias: "budget_amount"},
		},
		[]models.FilterCondition{dateFrom("2025-01-01")},
		"region",
		models.PageOptions{Limit: 50})
	require.NoError(t, err)

	// budget_sales has no region_id: it must never be joined.
	assert.NotContains(t, query, "budget_sales_current")
	assert.NotContains(t, query, "budget_sales_previous")

	// Its metrics still appear in every row as literal zeros.
	assert.Contains(t, query, "0 AS budget_amount, 0 AS budget_amount_ly, 0 AS budget_amount_vs_last_year")

	// Derived metrics depending on the skipped table resolve it to zero.
	assert.Contains(t, query, "sales_current.sales * 100.0 / nullif(0, 0) AS budget_attainment")

	// Row key coalesces across the joined CTEs only.
	assert.Contains(t, query, "COALESCE(sales_current.region_id, sales_previous.region_id) AS region_id")
	assert.Contains(t, query, "COALESCE(sales_current.region_name, sales_previous.region_name) AS region_name")

	assert.Contains(t, query, "FROM sales_current LEFT JOIN sales_previous ON sales_current.region_id = sales_previous.region_id")
	assert.Contains(t, query, "COUNT(*) OVER () AS total_count")
	assert.Contains(t, query, "ORDER BY region_name ASC LIMIT 50 OFFSET 0")
}

func TestBuildGroupedAnchorsJoinChainOnPrimaryTable(t *testing.T) {
	b := newTestReportBuilder()

	// returns is requested first; the primary fact table still anchors.
	query, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{
			{Table: "returns", Field: "amount", Aggregation: models.AggSum, Alias: "returned"},
			salesSum(),
		},
		[]models.FilterCondition{dateFrom("2025-01-01")},
		"region",
		models.PageOptions{})
	require.NoError(t, err)

	assert.Contains(t, query, "FROM sales_current LEFT JOIN sales_previous ON sales_current.region_id = sales_previous.region_id")
	assert.Contains(t, query, "LEFT JOIN returns_current ON sales_current.region_id = returns_current.region_id")
	assert.Contains(t, query, "LEFT JOIN returns_previous ON sales_current.region_id = returns_previous.region_id")

	// Unpaginated: ordered for determinism, but no LIMIT and no window count.
	assert.Contains(t, query, "ORDER BY region_name ASC")
	assert.NotContains(t, query, "LIMIT")
	assert.NotContains(t, query, TotalCountColumn)
}

func TestBuildGroupedSingleColumnDimension(t *testing.T) {
	b := newTestReportBuilder()

	query, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{salesSum()},
		nil,
		"channel",
		models.PageOptions{})
	require.NoError(t, err)

	assert.Contains(t, query, "COALESCE(sales_current.channel, sales_previous.channel) AS channel")
	assert.Contains(t, query, "GROUP BY 1)")
	assert.Contains(t, query, "ORDER BY channel ASC")
	assert.NotContains(t, query, "region")
}

func TestBuildGroupedUnknownDimension(t *testing.T) {
	b := newTestReportBuilder()
	_, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{salesSum()}, nil, "warehouse", models.PageOptions{})
	require.ErrorIs(t, err, apperrors.ErrUnknownDimension)
}

func TestBuildGroupedPrimaryTableMustCarryDimension(t *testing.T) {
	// The primary table itself lacks the dimension: grouping is impossible.
	cache := schema.NewCache(&fakeMetadata{result: models.ColumnMap{
		"sales": {"date": true, "amount": true},
	}}, 0, nil)
	b := NewReportBuilder(testReportConfig(), nil, cache, nil)

	_, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{salesSum()}, nil, "region", models.PageOptions{})
	require.ErrorIs(t, err, apperrors.ErrUnknownDimension)
}

func TestBuildGroupedOrdering(t *testing.T) {
	tests := []struct {
		name      string
		page      models.PageOptions
		fragment  string
		targetErr error
	}{
		{
			name:     "default orders by display column",
			page:     models.PageOptions{},
			fragment: "ORDER BY region_name ASC",
		},
		{
			name:     "name alias maps to display column",
			page:     models.PageOptions{OrderBy: "name", OrderDirection: "DESC"},
			fragment: "ORDER BY region_name DESC",
		},
		{
			name:     "base metric alias",
			page:     models.PageOptions{OrderBy: "sales", OrderDirection: "desc"},
			fragment: "ORDER BY sales DESC",
		},
		{
			name:     "derived metric name",
			page:     models.PageOptions{OrderBy: "budget_attainment"},
			fragment: "ORDER BY budget_attainment ASC",
		},
		{
			name:      "unknown field",
			page:      models.PageOptions{OrderBy: "favorite_color"},
			targetErr: apperrors.ErrInvalidOrderBy,
		},
		{
			name:      "unknown direction",
			page:      models.PageOptions{OrderBy: "sales", OrderDirection: "sideways"},
			targetErr: apperrors.ErrInvalidDirection,
		},
	}

	b := newTestReportBuilder()
	metrics := []models.MetricRequest{
		salesSum(),
		{Table: "budget_sales", Field: "amount", Aggregation: models.AggSum, Alias: "budget_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, _, err := b.BuildGrouped(context.Background(), metrics, nil, "region", tt.page)
			if tt.targetErr != nil {
				require.ErrorIs(t, err, tt.targetErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, query, tt.fragment)
		})
	}
}

func TestBuildGroupedNegativeOffsetClampsToZero(t *testing.T) {
	b := newTestReportBuilder()
	query, _, err := b.BuildGrouped(context.Background(),
		[]models.MetricRequest{salesSum()}, nil, "region",
		models.PageOptions{Limit: 10, Offset: -5})
	require.NoError(t, err)
	assert.Contains(t, query, "LIMIT 10 OFFSET 0")
}

func TestBuildDistinctValues(t *testing.T) {
	b := newTestReportBuilder()

	query, params, err := b.BuildDistinctValues("sales", "region_name",
		[]models.FilterCondition{{Field: "channel", Operator: models.OpEq, Value: "web"}},
		100, 20)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT DISTINCT trim(region_name) AS value FROM sales "+
			"WHERE channel = @f_channel_0 AND trim(region_name) != '' "+
			"ORDER BY value ASC LIMIT 100 OFFSET 20",
		query)
	assert.Equal(t, "web", params["f_channel_0"])
}

func TestBuildDistinctValuesDefaultsAndClamping(t *testing.T) {
	b := newTestReportBuilder()

	query, _, err := b.BuildDistinctValues("sales", "region_name", nil, 0, -3)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT trim(region_name) AS value FROM sales "+
			"WHERE trim(region_name) != '' "+
			"ORDER BY value ASC LIMIT 1000 OFFSET 0",
		query)
}

func TestBuildDistinctValuesEnforcesRowCeiling(t *testing.T) {
	b := newTestReportBuilder()
	_, _, err := b.BuildDistinctValues("sales", "region_name", nil, MaxDistinctValues+1, 0)
	require.ErrorIs(t, err, apperrors.ErrRowCeilingExceeded)
}

func TestBuildDistinctValuesValidatesIdentifiers(t *testing.T) {
	b := newTestReportBuilder()

	_, _, err := b.BuildDistinctValues("sales; --", "region_name", nil, 10, 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidField)

	_, _, err = b.BuildDistinctValues("sales", "region_name; --", nil, 10, 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidField)
}
