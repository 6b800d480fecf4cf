// Package datasource defines the seam between the query synthesis engine and
// the analytics stores it runs against. Adapters translate the engine's
// @name parameter contract to their driver's native binding and decode rows
// into flat name -> value maps.
package datasource

import (
	"context"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

// Store is one connected analytics database. Each implementation owns its
// connection and must be closed when done.
type Store interface {
	// TableColumns answers the batched column-metadata query behind the
	// discovery cache. Tables unknown to the store may be omitted.
	TableColumns(ctx context.Context, tables []string) (models.ColumnMap, error)

	// Query executes one parameterized SELECT. The statement references
	// parameters as @name; params supplies the bindings. Rows come back as
	// column-name -> value maps in result order.
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
