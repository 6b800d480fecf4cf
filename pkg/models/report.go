// Package models defines the request and configuration shapes shared by the
// query synthesis engine, its adapters, and the HTTP layer.
package models

// Aggregation is a SQL aggregate function applied to a metric field.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// Valid reports whether the aggregation is one of the supported functions.
func (a Aggregation) Valid() bool {
	switch a {
	case AggSum, AggAvg, AggCount, AggMin, AggMax:
		return true
	}
	return false
}

// MetricRequest asks for aggregation(field) from table, exposed as alias.
// Aliases are expected to be unique within a request; duplicate aliases
// produce colliding SQL column names downstream.
type MetricRequest struct {
	Table       string      `json:"table"`
	Field       string      `json:"field"`
	Aggregation Aggregation `json:"aggregation"`
	Alias       string      `json:"alias"`
}

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpBetween   Operator = "between"
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
	OpLike      Operator = "like"
	OpILike     Operator = "ilike"
)

// FilterCondition is a single typed predicate supplied by a caller.
// Value is a scalar for comparison operators, a two-element slice for
// between, a slice for in/not_in, and ignored for null checks.
// Conditions are immutable once constructed; date shifting returns new
// conditions instead of mutating.
type FilterCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// DerivedMetric is a config-driven formula computed from base metric aliases.
// The formula contains {dependency} placeholders that are resolved to
// qualified CTE references at synthesis time. A derived metric is emitted
// only when every dependency alias is present in the request.
type DerivedMetric struct {
	Name         string   `yaml:"name" json:"name"`
	Formula      string   `yaml:"formula" json:"formula"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Description  string   `yaml:"description" json:"description"`
}

// Dimension describes a grouping dimension. Some dimensions carry a stable
// identifier column and a separate display column; others use one column for
// both, in which case IDColumn == NameColumn.
type Dimension struct {
	Key        string `yaml:"key" json:"key"`
	IDColumn   string `yaml:"id_column" json:"id_column"`
	NameColumn string `yaml:"name_column" json:"name_column"`
}

// HasNamePair reports whether the dimension's id and display columns differ.
func (d Dimension) HasNamePair() bool {
	return d.NameColumn != "" && d.NameColumn != d.IDColumn
}

// ColumnMap records which columns physically exist per table. Every table
// requested from discovery appears as a key even when no columns matched, so
// "table has no such column" and "table does not exist" read identically.
type ColumnMap map[string]map[string]bool

// Has reports whether the table carries the column. Returns false, never
// panics, for tables absent from the map.
func (m ColumnMap) Has(table, column string) bool {
	cols, ok := m[table]
	if !ok {
		return false
	}
	return cols[column]
}

// PageOptions carries pagination and ordering for the grouped report shape.
type PageOptions struct {
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	OrderBy        string `json:"orderBy"`
	OrderDirection string `json:"orderDirection"`
}

// Paginated reports whether an explicit page size was requested.
func (p PageOptions) Paginated() bool {
	return p.Limit > 0
}
