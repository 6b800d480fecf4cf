package apperrors

import "errors"

var (
	ErrNoMetrics              = errors.New("no metrics requested")
	ErrInvalidField           = errors.New("invalid field name")
	ErrMalformedCondition     = errors.New("malformed filter condition")
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")
	ErrUnknownDimension       = errors.New("unknown grouping dimension")
	ErrInvalidOrderBy         = errors.New("invalid order by field")
	ErrInvalidDirection       = errors.New("invalid order direction")
	ErrRowCeilingExceeded     = errors.New("requested limit exceeds row ceiling")
	ErrInjectionDetected      = errors.New("sql injection pattern detected in filter value")
)
