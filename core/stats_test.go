package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryStatsMerge(t *testing.T) {
	a := QueryStats{Percentage: 50, State: RunningState, Nodes: 2, ProcessedRows: 100, ProcessedBytes: 10, WallTime: time.Second}
	b := QueryStats{Percentage: 30, State: RunningState, Nodes: 3, ProcessedRows: 50, ProcessedBytes: 5, WallTime: 2 * time.Second}

	merged := a.Merge(b)
	assert.Equal(t, 80.0, merged.Percentage)
	assert.Equal(t, RunningState, merged.State)
	assert.Equal(t, 3, merged.Nodes)
	assert.Equal(t, int64(150), merged.ProcessedRows)
	assert.Equal(t, int64(15), merged.ProcessedBytes)
	assert.Equal(t, 3*time.Second, merged.WallTime)
}

func TestQueryStatsMergeState(t *testing.T) {
	finished := QueryStats{State: FinishedState}
	failed := QueryStats{State: FailedState}

	assert.Equal(t, FinishedState, finished.Merge(finished).State)
	assert.Equal(t, RunningState, finished.Merge(failed).State)
}

func TestQueryStatsMergeIsCommutative(t *testing.T) {
	a := QueryStats{Percentage: 10, State: QueuedState, Nodes: 1, ProcessedRows: 7}
	b := QueryStats{Percentage: 20, State: RunningState, Nodes: 4, ProcessedRows: 3}
	c := QueryStats{Percentage: 5, State: RunningState, Nodes: 2, CPUTime: time.Millisecond}

	assert.Equal(t, a.Merge(b), b.Merge(a))
	assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
}

func TestMergeStatsSkipsMissingReadings(t *testing.T) {
	assert.Nil(t, MergeStats())
	assert.Nil(t, MergeStats(nil, nil))

	only := &QueryStats{Percentage: 40, State: RunningState, Nodes: 1}
	merged := MergeStats(nil, only, nil)
	require.NotNil(t, merged)
	assert.Equal(t, *only, *merged)

	merged.Percentage = 99
	assert.Equal(t, 40.0, only.Percentage, "MergeStats must not alias its input")
}

func TestMaterializedViewLastUpdateMillis(t *testing.T) {
	view := MaterializedView{Project: "acme", Name: "sales"}
	assert.Equal(t, int64(-1), view.LastUpdateMillis())
	assert.False(t, view.IsFresh(time.Now()))

	now := time.UnixMilli(1_700_000_000_000)
	view.LastUpdate = &now
	view.UpdateInterval = time.Hour
	assert.Equal(t, int64(1_700_000_000_000), view.LastUpdateMillis())
	assert.True(t, view.IsFresh(now.Add(30*time.Minute)))
	assert.False(t, view.IsFresh(now.Add(2*time.Hour)))
}

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		name     string
		expected ColumnType
	}{
		{"VARCHAR", StringType},
		{"bigint", IntType},
		{"DECIMAL(18,3)", DecimalType},
		{"DOUBLE", FloatType},
		{"TIMESTAMP WITH TIME ZONE", TimestampType},
		{"BOOLEAN", BoolType},
		{"STRUCT(a INT)", UnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseColumnType(tt.name))
		})
	}
}

func TestColumnJSONRoundTrip(t *testing.T) {
	columns := []Column{
		{Name: "n", Type: IntType},
		{Name: "label", Type: StringType, EngineType: "VARCHAR", Nullable: true},
		{Name: "payload", Type: UnknownType, EngineType: "STRUCT(a INT)"},
	}

	data, err := json.Marshal(columns)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"INT"`)

	var decoded []Column
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, columns, decoded)

	var columnType ColumnType
	require.NoError(t, columnType.UnmarshalText([]byte("GEOMETRY")))
	assert.Equal(t, UnknownType, columnType)
}
