package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
	"github.com/pulsebi/pulse-engine/pkg/config"
	"github.com/pulsebi/pulse-engine/pkg/models"
	"github.com/pulsebi/pulse-engine/pkg/schema"
	enginesql "github.com/pulsebi/pulse-engine/pkg/sql"
)

// MaxDistinctValues is the hard row ceiling on the distinct-values query.
// Requests over the ceiling fail; results are never silently truncated.
const MaxDistinctValues = 1000

// TotalCountColumn carries the window-function total in paginated grouped
// rows. It is internal to the engine; callers strip it before responding.
const TotalCountColumn = "total_count"

// ReportBuilder assembles comparative report statements: it groups requested
// metrics by source table, derives the prior-year filter set, drives column
// discovery and CTE synthesis, and joins everything into one parameterized
// SELECT.
type ReportBuilder struct {
	cfg     *config.ReportConfig
	derived []models.DerivedMetric
	schema  *schema.Cache
	conds   *enginesql.ConditionBuilder
	logger  *zap.Logger
}

// NewReportBuilder creates a builder. A nil logger is replaced with a no-op
// logger.
func NewReportBuilder(cfg *config.ReportConfig, derived []models.DerivedMetric, cache *schema.Cache, logger *zap.Logger) *ReportBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportBuilder{
		cfg:     cfg,
		derived: derived,
		schema:  cache,
		conds:   enginesql.NewConditionBuilder(cfg.DateColumn, cfg.PlanTablePrefix, cfg.PlanSuppressedField),
		logger:  logger,
	}
}

// BuildSummary synthesizes the single-row aggregate statement: per table one
// current and one prior-year CTE, cross-joined (each contributes exactly one
// row), selecting every metric's current value, prior-year value, and
// percent variation, plus the eligible derived metrics.
func (b *ReportBuilder) BuildSummary(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition) (string, enginesql.Params, error) {
	byTable, order, err := b.groupMetrics(metrics)
	if err != nil {
		return "", nil, err
	}

	columns, err := b.schema.ColumnsFor(ctx, order)
	if err != nil {
		return "", nil, err
	}

	previousFilters := b.conds.ShiftDates(filters, -1)
	params := enginesql.Params{}

	var ctes []string
	var selects []string
	var from []string
	for _, table := range order {
		current, previous, err := b.periodCTEs(table, byTable[table], filters, previousFilters, columns, params, nil)
		if err != nil {
			return "", nil, err
		}
		ctes = append(ctes, current.Render(), previous.Render())
		from = append(from, current.Name, previous.Name)
		for _, m := range byTable[table] {
			selects = append(selects, metricSelects(table, m.Alias)...)
		}
	}
	selects = append(selects, enginesql.ApplyDerivedMetrics(b.derived, byTable, nil)...)

	query := fmt.Sprintf("WITH %s SELECT %s FROM %s",
		strings.Join(ctes, ", "),
		strings.Join(selects, ", "),
		strings.Join(from, " CROSS JOIN "))
	return query, params, nil
}

// BuildGrouped synthesizes the multi-row grouped statement. Tables that do
// not carry the dimension id column are never joined; their metrics come
// back as literal zeros in every row. The FROM clause anchors on the primary
// table's current CTE and LEFT JOINs everything else, so absence in a
// secondary table cannot drop a primary-table row.
func (b *ReportBuilder) BuildGrouped(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition, dimensionKey string, page models.PageOptions) (string, enginesql.Params, error) {
	dim, ok := b.cfg.DimensionByKey(dimensionKey)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownDimension, dimensionKey)
	}

	byTable, order, err := b.groupMetrics(metrics)
	if err != nil {
		return "", nil, err
	}

	columns, err := b.schema.ColumnsFor(ctx, order)
	if err != nil {
		return "", nil, err
	}
	if !columns.Has(order[0], dim.IDColumn) {
		return "", nil, fmt.Errorf("%w: primary table %q lacks column %q", apperrors.ErrUnknownDimension, order[0], dim.IDColumn)
	}

	var joined []string
	skipped := make(map[string]bool)
	for _, table := range order {
		if columns.Has(table, dim.IDColumn) {
			joined = append(joined, table)
		} else {
			skipped[table] = true
		}
	}

	previousFilters := b.conds.ShiftDates(filters, -1)
	params := enginesql.Params{}

	var ctes []string
	cteByTable := make(map[string][2]enginesql.CTE, len(joined))
	for _, table := range joined {
		current, previous, err := b.periodCTEs(table, byTable[table], filters, previousFilters, columns, params, &dim)
		if err != nil {
			return "", nil, err
		}
		ctes = append(ctes, current.Render(), previous.Render())
		cteByTable[table] = [2]enginesql.CTE{current, previous}
	}

	selects := groupKeySelects(joined, dim)
	for _, table := range order {
		for _, m := range byTable[table] {
			if skipped[table] {
				selects = append(selects, zeroSelects(m.Alias)...)
			} else {
				selects = append(selects, metricSelects(table, m.Alias)...)
			}
		}
	}
	selects = append(selects, enginesql.ApplyDerivedMetrics(b.derived, byTable, skipped)...)
	if page.Paginated() {
		selects = append(selects, "COUNT(*) OVER () AS "+TotalCountColumn)
	}

	orderClause, err := b.orderClause(page, byTable, dim)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "WITH %s SELECT %s FROM %s",
		strings.Join(ctes, ", "),
		strings.Join(selects, ", "),
		cteByTable[joined[0]][0].Name)
	anchor := cteByTable[joined[0]][0].Name
	fmt.Fprintf(&sb, " LEFT JOIN %s ON %s.%s = %s.%s",
		cteByTable[joined[0]][1].Name, anchor, dim.IDColumn, cteByTable[joined[0]][1].Name, dim.IDColumn)
	for _, table := range joined[1:] {
		pair := cteByTable[table]
		fmt.Fprintf(&sb, " LEFT JOIN %s ON %s.%s = %s.%s",
			pair[0].Name, anchor, dim.IDColumn, pair[0].Name, dim.IDColumn)
		fmt.Fprintf(&sb, " LEFT JOIN %s ON %s.%s = %s.%s",
			pair[1].Name, anchor, dim.IDColumn, pair[1].Name, dim.IDColumn)
	}
	sb.WriteString(orderClause)
	if page.Paginated() {
		offset := page.Offset
		if offset < 0 {
			offset = 0
		}
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", page.Limit, offset)
	}
	return sb.String(), params, nil
}

// BuildDistinctValues synthesizes the filter-picker query: distinct
// non-empty trimmed values of one column, ordered, paginated, capped at
// MaxDistinctValues.
func (b *ReportBuilder) BuildDistinctValues(table, column string, filters []models.FilterCondition, limit, offset int) (string, enginesql.Params, error) {
	if err := enginesql.ValidateIdentifier(table); err != nil {
		return "", nil, err
	}
	if err := enginesql.ValidateIdentifier(column); err != nil {
		return "", nil, err
	}
	if limit > MaxDistinctValues {
		return "", nil, fmt.Errorf("%w: %d > %d", apperrors.ErrRowCeilingExceeded, limit, MaxDistinctValues)
	}
	if limit <= 0 {
		limit = MaxDistinctValues
	}
	if offset < 0 {
		offset = 0
	}

	params := enginesql.Params{}
	where, err := b.conds.Build(filters, params, "f_")
	if err != nil {
		return "", nil, err
	}

	notEmpty := fmt.Sprintf("trim(%s) != ''", column)
	if where != "" {
		where += " AND " + notEmpty
	} else {
		where = notEmpty
	}

	query := fmt.Sprintf("SELECT DISTINCT trim(%s) AS value FROM %s WHERE %s ORDER BY value ASC LIMIT %d OFFSET %d",
		column, table, where, limit, offset)
	return query, params, nil
}

// groupMetrics validates the request and buckets metrics by source table,
// forcing the primary fact table first so the grouped JOIN chain can anchor
// on it.
func (b *ReportBuilder) groupMetrics(metrics []models.MetricRequest) (map[string][]models.MetricRequest, []string, error) {
	if len(metrics) == 0 {
		return nil, nil, apperrors.ErrNoMetrics
	}

	byTable := make(map[string][]models.MetricRequest)
	var order []string
	for _, m := range metrics {
		if err := enginesql.ValidateIdentifier(m.Table); err != nil {
			return nil, nil, err
		}
		if err := enginesql.ValidateIdentifier(m.Field); err != nil {
			return nil, nil, err
		}
		if err := enginesql.ValidateIdentifier(m.Alias); err != nil {
			return nil, nil, err
		}
		if !m.Aggregation.Valid() {
			return nil, nil, fmt.Errorf("%w: %q on %s.%s", apperrors.ErrUnsupportedAggregation, m.Aggregation, m.Table, m.Field)
		}
		if _, ok := byTable[m.Table]; !ok {
			order = append(order, m.Table)
		}
		byTable[m.Table] = append(byTable[m.Table], m)
	}

	for i, table := range order {
		if table == b.cfg.PrimaryTable && i != 0 {
			copy(order[1:i+1], order[:i])
			order[0] = table
			break
		}
	}
	return byTable, order, nil
}

// periodCTEs builds the current/previous CTE pair for one table, applying
// table-aware WHERE clauses. A non-nil dim selects the grouped variant.
func (b *ReportBuilder) periodCTEs(table string, metrics []models.MetricRequest, current, previous []models.FilterCondition, columns models.ColumnMap, params enginesql.Params, dim *models.Dimension) (enginesql.CTE, enginesql.CTE, error) {
	currentWhere, err := b.conds.BuildForTable(current, params, "c_"+table+"_", table, columns)
	if err != nil {
		return enginesql.CTE{}, enginesql.CTE{}, err
	}
	previousWhere, err := b.conds.BuildForTable(previous, params, "p_"+table+"_", table, columns)
	if err != nil {
		return enginesql.CTE{}, enginesql.CTE{}, err
	}

	if dim != nil {
		currentCTE, err := enginesql.BuildGroupedCTE(table, metrics, currentWhere, false, *dim)
		if err != nil {
			return enginesql.CTE{}, enginesql.CTE{}, err
		}
		previousCTE, err := enginesql.BuildGroupedCTE(table, metrics, previousWhere, true, *dim)
		if err != nil {
			return enginesql.CTE{}, enginesql.CTE{}, err
		}
		return currentCTE, previousCTE, nil
	}

	currentCTE, err := enginesql.BuildAggregateCTE(table, metrics, currentWhere, false)
	if err != nil {
		return enginesql.CTE{}, enginesql.CTE{}, err
	}
	previousCTE, err := enginesql.BuildAggregateCTE(table, metrics, previousWhere, true)
	if err != nil {
		return enginesql.CTE{}, enginesql.CTE{}, err
	}
	return currentCTE, previousCTE, nil
}

// orderClause validates the requested ordering. The field must be "name" or
// a known base/derived metric name; the direction must be asc or desc in any
// case. Unordered grouped rows would make pagination nondeterministic, so an
// absent field defaults to the dimension display column.
func (b *ReportBuilder) orderClause(page models.PageOptions, byTable map[string][]models.MetricRequest, dim models.Dimension) (string, error) {
	nameAlias := dim.IDColumn
	if dim.HasNamePair() {
		nameAlias = dim.NameColumn
	}

	field := page.OrderBy
	switch {
	case field == "" || field == "name":
		field = nameAlias
	case b.knownMetricName(field, byTable):
		// Ordering by a select-list alias.
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidOrderBy, page.OrderBy)
	}

	direction := "ASC"
	switch strings.ToLower(page.OrderDirection) {
	case "", "asc":
	case "desc":
		direction = "DESC"
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidDirection, page.OrderDirection)
	}
	return fmt.Sprintf(" ORDER BY %s %s", field, direction), nil
}

func (b *ReportBuilder) knownMetricName(field string, byTable map[string][]models.MetricRequest) bool {
	for _, metrics := range byTable {
		for _, m := range metrics {
			if m.Alias == field {
				return true
			}
		}
	}
	for _, name := range enginesql.EligibleDerivedNames(b.derived, byTable) {
		if name == field {
			return true
		}
	}
	return false
}

// metricSelects emits the three columns of one metric: current, prior-year,
// and percent variation. The variation is defined as exactly 0 when the
// prior-year value is 0, never NULL and never a division error. The
// multiplication by 100.0 runs before the division so integer aggregates do
// not truncate.
func metricSelects(table, alias string) []string {
	current := table + enginesql.CurrentSuffix + "." + alias
	previous := table + enginesql.PreviousSuffix + "." + alias + enginesql.PriorYearSuffix
	return []string{
		fmt.Sprintf("COALESCE(%s, 0) AS %s", current, alias),
		fmt.Sprintf("COALESCE(%s, 0) AS %s%s", previous, alias, enginesql.PriorYearSuffix),
		fmt.Sprintf("CASE WHEN COALESCE(%s, 0) = 0 THEN 0 ELSE (COALESCE(%s, 0) - %s) * 100.0 / %s END AS %s%s",
			previous, current, previous, previous, alias, enginesql.VariationSuffix),
	}
}

// zeroSelects stands in for metrics of tables skipped because they lack the
// grouping dimension: the row structurally carries the columns, the table
// just contributes zero.
func zeroSelects(alias string) []string {
	return []string{
		"0 AS " + alias,
		"0 AS " + alias + enginesql.PriorYearSuffix,
		"0 AS " + alias + enginesql.VariationSuffix,
	}
}

// groupKeySelects builds the COALESCE over every contributing table's
// id/name columns, producing a stable row key and display name.
func groupKeySelects(joined []string, dim models.Dimension) []string {
	idRefs := make([]string, 0, len(joined)*2)
	nameRefs := make([]string, 0, len(joined)*2)
	for _, table := range joined {
		for _, suffix := range []string{enginesql.CurrentSuffix, enginesql.PreviousSuffix} {
			idRefs = append(idRefs, table+suffix+"."+dim.IDColumn)
			if dim.HasNamePair() {
				nameRefs = append(nameRefs, table+suffix+"."+dim.NameColumn)
			}
		}
	}

	selects := []string{fmt.Sprintf("COALESCE(%s) AS %s", strings.Join(idRefs, ", "), dim.IDColumn)}
	if dim.HasNamePair() {
		selects = append(selects, fmt.Sprintf("COALESCE(%s) AS %s", strings.Join(nameRefs, ", "), dim.NameColumn))
	}
	return selects
}
