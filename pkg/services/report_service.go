package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/adapters/datasource"
	"github.com/pulsebi/pulse-engine/pkg/logging"
	"github.com/pulsebi/pulse-engine/pkg/models"
	enginesql "github.com/pulsebi/pulse-engine/pkg/sql"
)

// ReportService runs synthesized report statements against the store and
// decodes the results. The service is stateless per request; the only shared
// state is the builder's discovery cache.
type ReportService struct {
	builder *ReportBuilder
	store   datasource.Store
	logger  *zap.Logger
}

// NewReportService creates a service. A nil logger is replaced with a no-op
// logger.
func NewReportService(builder *ReportBuilder, store datasource.Store, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{builder: builder, store: store, logger: logger}
}

// Summary executes the single-row aggregate shape and returns the row as a
// name -> number map, or an empty map when the store returns no rows.
func (s *ReportService) Summary(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition) (map[string]float64, error) {
	query, params, err := s.builder.BuildSummary(ctx, metrics, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.execute(ctx, "summary", query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]float64{}, nil
	}

	result := make(map[string]float64, len(rows[0]))
	for name, value := range rows[0] {
		result[name] = toFloat(value)
	}
	return result, nil
}

// Grouped executes the grouped shape and returns the rows as-is. Paginated
// rows carry the internal TotalCountColumn, which callers strip before
// responding to their own consumers.
func (s *ReportService) Grouped(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition, dimension string, page models.PageOptions) ([]map[string]any, error) {
	query, params, err := s.builder.BuildGrouped(ctx, metrics, filters, dimension, page)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "grouped", query, params)
}

// DistinctValues executes the filter-picker query and returns the values in
// ascending order.
func (s *ReportService) DistinctValues(ctx context.Context, table, column string, filters []models.FilterCondition, limit, offset int) ([]string, error) {
	query, params, err := s.builder.BuildDistinctValues(table, column, filters, limit, offset)
	if err != nil {
		return nil, err
	}

	rows, err := s.execute(ctx, "distinct_values", query, params)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, fmt.Sprint(row["value"]))
	}
	return values, nil
}

// execute screens the parameter values, runs the statement, and logs one
// line per report execution.
func (s *ReportService) execute(ctx context.Context, shape, query string, params enginesql.Params) ([]map[string]any, error) {
	if err := enginesql.ScreenParams(params); err != nil {
		return nil, err
	}

	reportID := uuid.New()
	start := time.Now()
	rows, err := s.store.Query(ctx, query, params)
	if err != nil {
		s.logger.Error("report query failed",
			zap.String("report_id", reportID.String()),
			zap.String("shape", shape),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("execute %s report: %w", shape, err)
	}

	s.logger.Debug("report executed",
		zap.String("report_id", reportID.String()),
		zap.String("shape", shape),
		zap.Int("rows", len(rows)),
		zap.Int("params", len(params)),
		zap.Duration("duration", time.Since(start)))
	return rows, nil
}

// toFloat widens whatever numeric type the driver produced. Stores disagree
// on aggregate result types (ClickHouse sums integers to Int64/UInt64,
// Postgres returns numerics), so the decode is deliberately permissive.
func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case fmt.Stringer:
		f, _ := strconv.ParseFloat(v.String(), 64)
		return f
	case nil:
		return 0
	default:
		f, _ := strconv.ParseFloat(fmt.Sprint(v), 64)
		return f
	}
}
