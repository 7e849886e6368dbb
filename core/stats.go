package core

import "time"

type QueryState string

const (
	QueuedState   QueryState = "QUEUED"
	RunningState  QueryState = "RUNNING"
	FinishedState QueryState = "FINISHED"
	FailedState   QueryState = "FAILED"
)

// QueryStats is a progress snapshot of a query execution.
type QueryStats struct {
	Percentage     float64       `json:"percentage"`
	State          QueryState    `json:"state"`
	Nodes          int           `json:"nodes"`
	ProcessedRows  int64         `json:"processed_rows"`
	ProcessedBytes int64         `json:"processed_bytes"`
	UserTime       time.Duration `json:"user_time"`
	CPUTime        time.Duration `json:"cpu_time"`
	WallTime       time.Duration `json:"wall_time"`
}

// Merge combines two snapshots. Percentages, counters and times add up, the
// node count is the maximum, and the state is kept only when both agree.
func (stats QueryStats) Merge(other QueryStats) QueryStats {
	state := stats.State
	if state != other.State {
		state = RunningState
	}

	return QueryStats{
		Percentage:     stats.Percentage + other.Percentage,
		State:          state,
		Nodes:          max(stats.Nodes, other.Nodes),
		ProcessedRows:  stats.ProcessedRows + other.ProcessedRows,
		ProcessedBytes: stats.ProcessedBytes + other.ProcessedBytes,
		UserTime:       stats.UserTime + other.UserTime,
		CPUTime:        stats.CPUTime + other.CPUTime,
		WallTime:       stats.WallTime + other.WallTime,
	}
}

// MergeStats folds the non-nil snapshots together. It returns nil when no
// execution has reported yet.
func MergeStats(stats ...*QueryStats) *QueryStats {
	var merged *QueryStats
	for _, s := range stats {
		if s == nil {
			continue
		}
		if merged == nil {
			copied := *s
			merged = &copied
			continue
		}
		next := merged.Merge(*s)
		merged = &next
	}
	return merged
}
