package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregationValid(t *testing.T) {
	for _, agg := range []Aggregation{AggSum, AggAvg, AggCount, AggMin, AggMax} {
		assert.True(t, agg.Valid(), string(agg))
	}
	assert.False(t, Aggregation("median").Valid())
	assert.False(t, Aggregation("").Valid())
}

func TestColumnMapHas(t *testing.T) {
	m := ColumnMap{
		"sales": {"date": true, "amount": true},
		"empty": {},
	}

	assert.True(t, m.Has("sales", "date"))
	assert.False(t, m.Has("sales", "phantom"))
	assert.False(t, m.Has("empty", "date"))
	// Absent table reads the same as a table with no columns.
	assert.False(t, m.Has("missing", "date"))
}

func TestDimensionHasNamePair(t *testing.T) {
	assert.True(t, Dimension{Key: "region", IDColumn: "region_id", NameColumn: "region_name"}.HasNamePair())
	assert.False(t, Dimension{Key: "channel", IDColumn: "channel", NameColumn: "channel"}.HasNamePair())
	assert.False(t, Dimension{Key: "channel", IDColumn: "channel"}.HasNamePair())
}

func TestPageOptionsPaginated(t *testing.T) {
	assert.False(t, PageOptions{}.Paginated())
	assert.False(t, PageOptions{Limit: -1}.Paginated())
	assert.True(t, PageOptions{Limit: 25}.Paginated())
}
