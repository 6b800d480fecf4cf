package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsebi/pulse-engine/pkg/models"
)

func writeMetricsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDerivedMetrics(t *testing.T) {
	path := writeMetricsFile(t, `
derived_metrics:
  - name: gross_margin
    formula: "{sales} - {cost}"
    dependencies: [sales, cost]
    description: "Sales minus cost of goods"
  - name: margin_pct
    formula: "({sales} - {cost}) * 100.0 / nullif({sales}, 0)"
    dependencies: [sales, cost]
`)

	metrics, err := LoadDerivedMetrics(path)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "gross_margin", metrics[0].Name)
	assert.Equal(t, []string{"sales", "cost"}, metrics[0].Dependencies)
	assert.Equal(t, "Sales minus cost of goods", metrics[0].Description)
	assert.Equal(t, "margin_pct", metrics[1].Name)
}

func TestLoadDerivedMetricsRejectsUndeclaredPlaceholder(t *testing.T) {
	path := writeMetricsFile(t, `
derived_metrics:
  - name: sneaky
    formula: "{sales} - {password_hash}"
    dependencies: [sales]
`)

	_, err := LoadDerivedMetrics(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password_hash")
}

func TestLoadDerivedMetricsRejectsBadNames(t *testing.T) {
	path := writeMetricsFile(t, `
derived_metrics:
  - name: "bad name"
    formula: "{sales}"
    dependencies: [sales]
`)

	_, err := LoadDerivedMetrics(path)
	require.Error(t, err)
}

func TestLoadDerivedMetricsRequiresDependencies(t *testing.T) {
	path := writeMetricsFile(t, `
derived_metrics:
  - name: constant
    formula: "1"
`)

	_, err := LoadDerivedMetrics(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no dependencies")
}

func TestLoadDerivedMetricsMissingFile(t *testing.T) {
	_, err := LoadDerivedMetrics(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDimensionByKey(t *testing.T) {
	cfg := &ReportConfig{Dimensions: []models.Dimension{
		{Key: "region", IDColumn: "region_id", NameColumn: "region_name"},
		{Key: "channel", IDColumn: "channel", NameColumn: "channel"},
	}}

	dim, ok := cfg.DimensionByKey("region")
	require.True(t, ok)
	assert.Equal(t, "region_id", dim.IDColumn)
	assert.True(t, dim.HasNamePair())

	dim, ok = cfg.DimensionByKey("channel")
	require.True(t, ok)
	assert.False(t, dim.HasNamePair())

	_, ok = cfg.DimensionByKey("warehouse")
	assert.False(t, ok)
}

func TestReportConfigValidate(t *testing.T) {
	valid := &ReportConfig{
		PrimaryTable: "sales",
		DateColumn:   "date",
		Dimensions: []models.Dimension{
			{Key: "region", IDColumn: "region_id", NameColumn: "region_name"},
		},
	}
	require.NoError(t, valid.validate())

	badTable := &ReportConfig{PrimaryTable: "sales; --", DateColumn: "date"}
	require.Error(t, badTable.validate())

	badDimension := &ReportConfig{
		PrimaryTable: "sales",
		DateColumn:   "date",
		Dimensions:   []models.Dimension{{Key: "region", IDColumn: "region id"}},
	}
	require.Error(t, badDimension.validate())
}
