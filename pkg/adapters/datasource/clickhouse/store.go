// Package clickhouse adapts the engine's store contract to ClickHouse, the
// primary columnar target.
package clickhouse

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Store is a connected ClickHouse database.
type Store struct {
	conn   driver.Conn
	logger *zap.Logger
}

// New opens and pings a ClickHouse connection. A nil logger is replaced
// with a no-op logger.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &Store{conn: conn, logger: logger}, nil
}

// TableColumns reads system.columns for the requested tables in one query.
func (s *Store) TableColumns(ctx context.Context, tables []string) (models.ColumnMap, error) {
	if len(tables) == 0 {
		return models.ColumnMap{}, nil
	}

	placeholders := make([]string, len(tables))
	args := make([]any, len(tables))
	for i, table := range tables {
		name := fmt.Sprintf("t%d", i)
		placeholders[i] = "@" + name
		args[i] = clickhouse.Named(name, table)
	}

	query := fmt.Sprintf(
		"SELECT table, name FROM system.columns WHERE database = currentDatabase() AND table IN (%s)",
		strings.Join(placeholders, ", "))

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query system.columns: %w", err)
	}
	defer rows.Close()

	columns := models.ColumnMap{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if columns[table] == nil {
			columns[table] = map[string]bool{}
		}
		columns[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

// Query executes one parameterized SELECT and decodes every row into a
// column-name -> value map using the driver's scan types.
func (s *Store) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	args := make([]any, 0, len(params))
	for name, value := range params {
		args = append(args, clickhouse.Named(name, value))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	names := rows.Columns()
	types := rows.ColumnTypes()

	result := make([]map[string]any, 0)
	for rows.Next() {
		targets := make([]any, len(types))
		for i, ct := range types {
			targets[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = reflect.ValueOf(targets[i]).Elem().Interface()
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
