package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/mv"
)

// CompositeExecution runs a query after the materialized views it reads have
// been refreshed. The query is submitted only once every pending refresh
// finished; if one of them failed it is never submitted.
type CompositeExecution struct {
	query     string
	refreshes []*mv.Refresh
	pending   []*mv.Refresh
	submit    func() db.QueryExecution
	now       func() time.Time
	start     time.Time

	mu       sync.Mutex
	killed   bool
	terminal db.QueryExecution
	// closed once terminal is set
	merged chan struct{}
	result *db.ResultFuture
}

// NewCompositeExecution starts waiting for the pending refreshes and calls
// submit when they all succeeded. refreshes lists every view the query reads,
// including the ones that were already fresh.
func NewCompositeExecution(query string, refreshes []*mv.Refresh, submit func() db.QueryExecution) *CompositeExecution {
	return newCompositeExecution(query, refreshes, submit, time.Now)
}

func newCompositeExecution(query string, refreshes []*mv.Refresh, submit func() db.QueryExecution, now func() time.Time) *CompositeExecution {
	execution := &CompositeExecution{
		query:     query,
		refreshes: refreshes,
		submit:    submit,
		now:       now,
		start:     now(),
		merged:    make(chan struct{}),
		result:    db.NewResultFuture(),
	}
	for _, refresh := range refreshes {
		if refresh.Execution != nil {
			execution.pending = append(execution.pending, refresh)
		}
	}

	go execution.run()
	return execution
}

func (execution *CompositeExecution) run() {
	for _, refresh := range execution.pending {
		<-refresh.Execution.Result().Done()
	}

	execution.mu.Lock()
	switch failure := execution.firstFailure(); {
	case execution.killed:
		execution.terminal = db.NewFailedExecution(execution.query, db.KilledError())
	case failure != nil:
		execution.terminal = db.NewFailedExecution(execution.query, failure)
	default:
		execution.terminal = execution.trySubmit()
	}
	terminal := execution.terminal
	execution.mu.Unlock()
	close(execution.merged)

	<-terminal.Result().Done()
	result, _ := terminal.Result().Poll()
	elapsed := execution.now().Sub(execution.start)
	if !result.IsFailed() {
		result = result.WithProperties(map[string]any{
			db.MaterializedViewsProperty: viewsProperty(execution.refreshes),
			db.ExecutionTimeProperty:     elapsed.Milliseconds(),
		})
	}
	observeQuery(result, elapsed)
	execution.result.Complete(result)
}

// trySubmit turns a panic of submit into a failed execution so the result
// still resolves.
func (execution *CompositeExecution) trySubmit() db.QueryExecution {
	var terminal db.QueryExecution
	if recovered := panics.Try(func() { terminal = execution.submit() }); recovered != nil {
		return db.NewFailedExecution(execution.query, &core.QueryError{
			Message:  fmt.Sprintf("failed to submit query: %v", recovered.Value),
			SQLState: db.SQLStateInternalError,
		})
	}
	return terminal
}

// firstFailure returns the error of the first failed refresh by view name,
// reworded to name the view.
func (execution *CompositeExecution) firstFailure() *core.QueryError {
	for _, refresh := range execution.pending {
		result, _ := refresh.Execution.Result().Poll()
		if result == nil || !result.IsFailed() {
			continue
		}
		return result.Error.WithMessage(fmt.Sprintf("Error while updating materialized table '%s' (%s): %s",
			refresh.View.Name, refresh.ComputeQuery, result.Error.Message))
	}
	return nil
}

func (execution *CompositeExecution) currentTerminal() db.QueryExecution {
	execution.mu.Lock()
	defer execution.mu.Unlock()
	return execution.terminal
}

// CurrentStats merges the progress of the refreshes and, once submitted, of
// the query itself.
func (execution *CompositeExecution) CurrentStats() *core.QueryStats {
	stats := make([]*core.QueryStats, 0, len(execution.pending)+1)
	for _, refresh := range execution.pending {
		stats = append(stats, refresh.Execution.CurrentStats())
	}
	if terminal := execution.currentTerminal(); terminal != nil {
		stats = append(stats, terminal.CurrentStats())
	}
	return core.MergeStats(stats...)
}

func (execution *CompositeExecution) IsFinished() bool {
	select {
	case <-execution.merged:
	default:
		return false
	}
	return execution.currentTerminal().IsFinished()
}

func (execution *CompositeExecution) Result() *db.ResultFuture {
	return execution.result
}

func (execution *CompositeExecution) Query() string {
	return execution.query
}

// Kill cancels the pending refreshes and the query if it was submitted. A
// query that was not submitted yet never will be.
func (execution *CompositeExecution) Kill() {
	execution.mu.Lock()
	execution.killed = true
	terminal := execution.terminal
	execution.mu.Unlock()

	for _, refresh := range execution.pending {
		refresh.Execution.Kill()
	}
	if terminal != nil {
		terminal.Kill()
	}
}
