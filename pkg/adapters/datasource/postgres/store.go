// Package postgres adapts the engine's store contract to PostgreSQL, kept
// for development and warehouse parity with the columnar target.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	// Schema scopes column discovery; defaults to public.
	Schema string
}

func (c Config) connString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// Store is a connected PostgreSQL database.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

// New opens and pings a PostgreSQL pool. A nil logger is replaced with a
// no-op logger.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema, logger: logger}, nil
}

// TableColumns reads information_schema.columns for the requested tables in
// one query.
func (s *Store) TableColumns(ctx context.Context, tables []string) (models.ColumnMap, error) {
	if len(tables) == 0 {
		return models.ColumnMap{}, nil
	}

	const query = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = ANY($2)
	`

	rows, err := s.pool.Query(ctx, query, s.schema, tables)
	if err != nil {
		return nil, fmt.Errorf("query information_schema.columns: %w", err)
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

// Query executes one parameterized SELECT. pgx rewrites the @name
// placeholders to positional parameters, so the binding stays driver-level.
func (s *Store) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, query, pgx.NamedArgs(params))
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Ping verifies the pool is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
