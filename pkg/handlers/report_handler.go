package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/models"
	"github.com/pulsebi/pulse-engine/pkg/services"
)

// ReportRunner is the slice of the report service the HTTP layer consumes.
type ReportRunner interface {
	Summary(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition) (map[string]float64, error)
	Grouped(ctx context.Context, metrics []models.MetricRequest, filters []models.FilterCondition, dimension string, page models.PageOptions) ([]map[string]any, error)
	DistinctValues(ctx context.Context, table, column string, filters []models.FilterCondition, limit, offset int) ([]string, error)
}

// ReportHandler exposes the report shapes over HTTP. It only translates
// between JSON and the engine's request types; synthesis and validation live
// below it.
type ReportHandler struct {
	runner ReportRunner
	logger *zap.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(runner ReportRunner, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers the report routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/reports/summary", h.Summary)
	mux.HandleFunc("POST /api/reports/grouped", h.Grouped)
	mux.HandleFunc("POST /api/filters/values", h.DistinctValues)
}

type summaryRequest struct {
	Metrics []models.MetricRequest   `json:"metrics"`
	Filters []models.FilterCondition `json:"filters"`
}

type groupedRequest struct {
	Metrics   []models.MetricRequest   `json:"metrics"`
	Filters   []models.FilterCondition `json:"filters"`
	Dimension string                   `json:"dimension"`
	models.PageOptions
}

type distinctValuesRequest struct {
	Table   string                   `json:"table"`
	Column  string                   `json:"column"`
	Filters []models.FilterCondition `json:"filters"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
}

// Summary handles POST /api/reports/summary.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	data, err := h.runner.Summary(r.Context(), req.Metrics, req.Filters)
	if err != nil {
		h.logger.Warn("summary report failed", zap.Error(err))
		writeEngineError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Grouped handles POST /api/reports/grouped. The engine's internal total
// count column is stripped from the rows and surfaced as a top-level total.
func (h *ReportHandler) Grouped(w http.ResponseWriter, r *http.Request) {
	var req groupedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	rows, err := h.runner.Grouped(r.Context(), req.Metrics, req.Filters, req.Dimension, req.PageOptions)
	if err != nil {
		h.logger.Warn("grouped report failed", zap.Error(err))
		writeEngineError(w, err)
		return
	}

	total := len(rows)
	for _, row := range rows {
		if count, ok := row[services.TotalCountColumn]; ok {
			total = int(toInt(count))
			delete(row, services.TotalCountColumn)
		}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"data": rows, "total": total})
}

// DistinctValues handles POST /api/filters/values.
func (h *ReportHandler) DistinctValues(w http.ResponseWriter, r *http.Request) {
	var req distinctValuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	values, err := h.runner.DistinctValues(r.Context(), req.Table, req.Column, req.Filters, req.Limit, req.Offset)
	if err != nil {
		h.logger.Warn("distinct values query failed", zap.Error(err))
		writeEngineError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"values": values})
}

func toInt(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
