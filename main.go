package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pulsebi/pulse-engine/pkg/adapters/datasource"
	"github.com/pulsebi/pulse-engine/pkg/config"
	"github.com/pulsebi/pulse-engine/pkg/handlers"
	"github.com/pulsebi/pulse-engine/pkg/middleware"
	"github.com/pulsebi/pulse-engine/pkg/schema"
	"github.com/pulsebi/pulse-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	derived, err := config.LoadDerivedMetrics(cfg.Report.MetricsFile)
	if err != nil {
		logger.Fatal("Failed to load derived metrics", zap.Error(err))
	}

	ctx := context.Background()
	store, err := datasource.New(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to connect analytics store",
			zap.String("driver", cfg.Store.Driver),
			zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	cache := schema.NewCache(store, time.Duration(cfg.Report.CacheTTLMinutes)*time.Minute, logger)
	builder := services.NewReportBuilder(&cfg.Report, derived, cache, logger)
	service := services.NewReportService(builder, store, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg).RegisterRoutes(mux)
	handlers.NewReportHandler(service, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting pulse-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("derived_metrics", len(derived)))

	handler := middleware.RequestLogger(logger)(mux)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "local" {
		return zap.NewDevelopment()
	}
	zapCfg := zap.NewProductionConfig()
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}
