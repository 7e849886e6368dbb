package db

import (
	"context"
	"sync"

	"github.com/nickyhof/CommitQuery/core"
)

// QueryExecution is a running or finished query. CurrentStats and IsFinished
// never block; Result returns a future that resolves exactly once.
type QueryExecution interface {
	// CurrentStats returns the latest progress snapshot, or nil when the
	// execution has not reported any progress yet.
	CurrentStats() *core.QueryStats
	IsFinished() bool
	Result() *ResultFuture
	Query() string
	Kill()
}

// ResultFuture is a single-assignment result container.
type ResultFuture struct {
	once   sync.Once
	done   chan struct{}
	result *QueryResult
}

func NewResultFuture() *ResultFuture {
	return &ResultFuture{done: make(chan struct{})}
}

// CompletedFuture returns a future that is already resolved with result.
func CompletedFuture(result *QueryResult) *ResultFuture {
	future := NewResultFuture()
	future.Complete(result)
	return future
}

// Complete resolves the future. Only the first call has an effect; it reports
// whether this call resolved the future.
func (future *ResultFuture) Complete(result *QueryResult) bool {
	completed := false
	future.once.Do(func() {
		future.result = result
		close(future.done)
		completed = true
	})
	return completed
}

// Done is closed once the result is available.
func (future *ResultFuture) Done() <-chan struct{} {
	return future.done
}

// Get waits for the result or for ctx to end.
func (future *ResultFuture) Get(ctx context.Context) (*QueryResult, error) {
	select {
	case <-future.done:
		return future.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the result if it is available.
func (future *ResultFuture) Poll() (*QueryResult, bool) {
	select {
	case <-future.done:
		return future.result, true
	default:
		return nil, false
	}
}

// CompletedExecution is an execution whose result is known up front, such as
// a query rejected before it reached the engine.
type CompletedExecution struct {
	query  string
	result *ResultFuture
	stats  core.QueryStats
}

func NewCompletedExecution(query string, result *QueryResult) *CompletedExecution {
	state := core.FinishedState
	if result.IsFailed() {
		state = core.FailedState
	}
	return &CompletedExecution{
		query:  query,
		result: CompletedFuture(result),
		stats:  core.QueryStats{Percentage: 100, State: state},
	}
}

// NewFailedExecution is a completed execution carrying err.
func NewFailedExecution(query string, err *core.QueryError) *CompletedExecution {
	return NewCompletedExecution(query, ErrorResult(err))
}

func (execution *CompletedExecution) CurrentStats() *core.QueryStats {
	stats := execution.stats
	return &stats
}

func (execution *CompletedExecution) IsFinished() bool {
	return true
}

func (execution *CompletedExecution) Result() *ResultFuture {
	return execution.result
}

func (execution *CompletedExecution) Query() string {
	return execution.query
}

func (execution *CompletedExecution) Kill() {}

// DelegateExecution passes everything through to another execution and
// transforms its result once it is available.
type DelegateExecution struct {
	QueryExecution
	transform func(*QueryResult) *QueryResult

	once   sync.Once
	result *ResultFuture
}

func NewDelegateExecution(execution QueryExecution, transform func(*QueryResult) *QueryResult) *DelegateExecution {
	return &DelegateExecution{
		QueryExecution: execution,
		transform:      transform,
		result:         NewResultFuture(),
	}
}

func (execution *DelegateExecution) Result() *ResultFuture {
	execution.once.Do(func() {
		inner := execution.QueryExecution.Result()
		if result, ok := inner.Poll(); ok {
			execution.result.Complete(execution.transform(result))
			return
		}
		go func() {
			<-inner.Done()
			result, _ := inner.Poll()
			execution.result.Complete(execution.transform(result))
		}()
	})
	return execution.result
}
