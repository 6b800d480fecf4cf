// Package schema discovers and caches which columns physically exist on the
// report source tables. Everything downstream consults this before
// referencing a column, so tables with divergent schemas can share one
// filter set.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

// DefaultTTL is how long a discovered column map stays fresh.
const DefaultTTL = 5 * time.Minute

// MetadataReader answers one batched column-metadata query for a set of
// tables. Implementations live in the datasource adapters; tests substitute
// canned schemas.
type MetadataReader interface {
	// TableColumns returns the existing columns per requested table. Tables
	// unknown to the store may be omitted from the result; the cache fills
	// in empty sets for them.
	TableColumns(ctx context.Context, tables []string) (models.ColumnMap, error)
}

type entry struct {
	columns   models.ColumnMap
	fetchedAt time.Time
}

// Cache is a TTL-based column map cache keyed by the sorted set of table
// names. Cached maps are treated as read-only and replaced wholesale on
// refresh, never mutated in place, so concurrent readers may share them.
// Two concurrent misses for the same key both query the store and both
// store the same value; the duplicate work is bounded and accepted.
type Cache struct {
	reader MetadataReader
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache creates a cache around reader. A non-positive ttl selects
// DefaultTTL; a nil logger is replaced with a no-op logger.
func NewCache(reader MetadataReader, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		reader:  reader,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// ColumnsFor returns the column map for the given tables, querying the store
// on miss or expiry. Every requested table appears as a key in the result,
// with an empty set when the store knows nothing about it. A metadata-query
// failure propagates; there is no stale-cache fallback.
func (c *Cache) ColumnsFor(ctx context.Context, tables []string) (models.ColumnMap, error) {
	sorted := normalizeTables(tables)
	key := strings.Join(sorted, ",")

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) <= c.ttl {
		return e.columns, nil
	}

	columns, err := c.reader.TableColumns(ctx, sorted)
	if err != nil {
		return nil, fmt.Errorf("discover columns for [%s]: %w", key, err)
	}
	if columns == nil {
		columns = models.ColumnMap{}
	}
	for _, table := range sorted {
		if _, ok := columns[table]; !ok {
			columns[table] = map[string]bool{}
		}
	}

	c.mu.Lock()
	c.entries[key] = entry{columns: columns, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("column map refreshed",
		zap.String("tables", key),
		zap.Int("table_count", len(sorted)))
	return columns, nil
}

// ColumnExists reports whether table carries column. Unknown tables yield
// false, not an error.
func (c *Cache) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	columns, err := c.ColumnsFor(ctx, []string{table})
	if err != nil {
		return false, err
	}
	return columns.Has(table, column), nil
}

// FilterExistingColumns returns the candidates that exist on table,
// preserving order. A prebuilt column map covering the table short-circuits
// the cache lookup.
func (c *Cache) FilterExistingColumns(ctx context.Context, table string, candidates []string, prebuilt models.ColumnMap) ([]string, error) {
	columns := prebuilt
	if _, ok := columns[table]; !ok {
		var err error
		columns, err = c.ColumnsFor(ctx, []string{table})
		if err != nil {
			return nil, err
		}
	}
	existing := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if columns.Has(table, candidate) {
			existing = append(existing, candidate)
		}
	}
	return existing, nil
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// normalizeTables sorts and deduplicates without mutating the input.
func normalizeTables(tables []string) []string {
	sorted := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if !seen[t] {
			seen[t] = true
			sorted = append(sorted, t)
		}
	}
	sort.Strings(sorted)
	return sorted
}
