// Package config loads engine configuration from config.yaml with
// environment variable overrides, plus the derived-metric definitions file.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/pulsebi/pulse-engine/pkg/models"
	enginesql "github.com/pulsebi/pulse-engine/pkg/sql"
)

// Config holds all configuration for pulse-engine. Values come from
// config.yaml or environment variables; environment variables win. Secrets
// (store passwords) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Store  StoreConfig  `yaml:"store"`
	Report ReportConfig `yaml:"report"`
}

// StoreConfig holds analytics store connection settings. Driver selects the
// adapter; the remaining fields apply per driver.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"clickhouse"`

	// ClickHouse
	Addr string `yaml:"addr" env:"STORE_ADDR" env-default:"localhost:9000"`

	// PostgreSQL
	Host    string `yaml:"host" env:"STORE_HOST" env-default:"localhost"`
	Port    int    `yaml:"port" env:"STORE_PORT" env-default:"5432"`
	SSLMode string `yaml:"ssl_mode" env:"STORE_SSL_MODE" env-default:"disable"`
	Schema  string `yaml:"schema" env:"STORE_SCHEMA" env-default:"public"`

	Database string `yaml:"database" env:"STORE_DATABASE" env-default:"analytics"`
	Username string `yaml:"username" env:"STORE_USERNAME" env-default:"default"`
	Password string `yaml:"-" env:"STORE_PASSWORD"` // Secret - not in YAML
}

// ReportConfig holds the report synthesis settings: the closed identifier
// sets (primary table, date column, dimensions) and cache behavior.
type ReportConfig struct {
	// PrimaryTable is the transactional fact table anchoring every grouped
	// JOIN chain.
	PrimaryTable string `yaml:"primary_table" env:"REPORT_PRIMARY_TABLE" env-default:"sales"`

	// DateColumn is the filterable date field subject to year shifting.
	DateColumn string `yaml:"date_column" env:"REPORT_DATE_COLUMN" env-default:"date"`

	// CacheTTLMinutes is the column discovery cache time-to-live.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" env:"REPORT_CACHE_TTL_MINUTES" env-default:"5"`

	// PlanTablePrefix marks budget-class tables that structurally cannot
	// carry the PlanSuppressedField dimension filter.
	PlanTablePrefix     string `yaml:"plan_table_prefix" env:"REPORT_PLAN_TABLE_PREFIX" env-default:"budget"`
	PlanSuppressedField string `yaml:"plan_suppressed_field" env:"REPORT_PLAN_SUPPRESSED_FIELD" env-default:"salesperson_id"`

	// MetricsFile is the derived-metric definitions file.
	MetricsFile string `yaml:"metrics_file" env:"REPORT_METRICS_FILE" env-default:"metrics.yaml"`

	// Dimensions is the grouping dimension registry.
	Dimensions []models.Dimension `yaml:"dimensions"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := cfg.Report.validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return cfg, nil
}

// DimensionByKey resolves a grouping dimension from the registry.
func (c *ReportConfig) DimensionByKey(key string) (models.Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.Key == key {
			return d, true
		}
	}
	return models.Dimension{}, false
}

func (c *ReportConfig) validate() error {
	if err := enginesql.ValidateIdentifier(c.PrimaryTable); err != nil {
		return fmt.Errorf("primary_table: %w", err)
	}
	if err := enginesql.ValidateIdentifier(c.DateColumn); err != nil {
		return fmt.Errorf("date_column: %w", err)
	}
	for _, d := range c.Dimensions {
		if err := enginesql.ValidateIdentifier(d.IDColumn); err != nil {
			return fmt.Errorf("dimension %q id_column: %w", d.Key, err)
		}
		if d.NameColumn != "" {
			if err := enginesql.ValidateIdentifier(d.NameColumn); err != nil {
				return fmt.Errorf("dimension %q name_column: %w", d.Key, err)
			}
		}
	}
	return nil
}

type metricsFile struct {
	DerivedMetrics []models.DerivedMetric `yaml:"derived_metrics"`
}

// LoadDerivedMetrics reads and validates the derived-metric definitions.
// Every formula placeholder must appear in the metric's dependency list;
// the definitions are configuration, not user input, but they end up inside
// SQL text and are validated like identifiers.
func LoadDerivedMetrics(path string) ([]models.DerivedMetric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics file: %w", err)
	}

	var parsed metricsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse metrics file: %w", err)
	}

	for _, m := range parsed.DerivedMetrics {
		if err := enginesql.ValidateIdentifier(m.Name); err != nil {
			return nil, fmt.Errorf("derived metric %q: %w", m.Name, err)
		}
		if len(m.Dependencies) == 0 {
			return nil, fmt.Errorf("derived metric %q declares no dependencies", m.Name)
		}
		for _, dep := range m.Dependencies {
			if err := enginesql.ValidateIdentifier(dep); err != nil {
				return nil, fmt.Errorf("derived metric %q dependency: %w", m.Name, err)
			}
		}
		if err := enginesql.ValidateFormula(m); err != nil {
			return nil, err
		}
	}
	return parsed.DerivedMetrics, nil
}
