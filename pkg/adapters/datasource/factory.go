package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/adapters/datasource/clickhouse"
	"github.com/pulsebi/pulse-engine/pkg/adapters/datasource/postgres"
	"github.com/pulsebi/pulse-engine/pkg/config"
)

// New connects the adapter selected by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "clickhouse":
		return clickhouse.New(ctx, clickhouse.Config{
			Addr:     cfg.Addr,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		}, logger)
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
			Schema:   cfg.Schema,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Compile-time checks that both adapters satisfy the store contract.
var (
	_ Store = (*clickhouse.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)
