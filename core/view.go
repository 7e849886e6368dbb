package core

import "time"

// MaterializedView is a named, precomputed query result. Identity is (Project, Name).
type MaterializedView struct {
	Project        string        `json:"project"`
	Name           string        `json:"name"`
	Query          string        `json:"query"` // The SELECT statement computing the view
	UpdateInterval time.Duration `json:"update_interval"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUpdate     *time.Time    `json:"last_update,omitempty"` // nil until first refresh
}

// ViewKey is the identity of a materialized view.
type ViewKey struct {
	Project string
	Name    string
}

func (view *MaterializedView) Key() ViewKey {
	return ViewKey{Project: view.Project, Name: view.Name}
}

// LastUpdateMillis returns the last refresh time in epoch millis, or -1 if the
// view was never computed.
func (view *MaterializedView) LastUpdateMillis() int64 {
	if view.LastUpdate == nil {
		return -1
	}
	return view.LastUpdate.UnixMilli()
}

// IsFresh reports whether the view was refreshed within its update interval.
func (view *MaterializedView) IsFresh(now time.Time) bool {
	if view.LastUpdate == nil {
		return false
	}
	return now.Sub(*view.LastUpdate) < view.UpdateInterval
}
