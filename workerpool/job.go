package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pitabwire/util"
	"github.com/rs/xid"
)

var ErrJobClosed = errors.New("worker job is already closed")

// Result is the outcome of one job run, a value or an error.
type Result[T any] struct {
	item T
	err  error
}

func (r Result[T]) IsError() bool {
	return r.err != nil
}

func (r Result[T]) Error() error {
	return r.err
}

func (r Result[T]) Item() T {
	return r.item
}

// Job is a unit of work producing a single result of type T.
type Job[T any] struct {
	id      string
	retries int
	runs    atomic.Int64
	closed  atomic.Bool
	done    chan struct{}
	result  Result[T]
	process func(ctx context.Context) (T, error)
}

// NewJob creates a job that runs once.
func NewJob[T any](process func(ctx context.Context) (T, error)) *Job[T] {
	return NewJobWithRetry(process, 0)
}

// NewJobWithRetry creates a job that is re-run up to retries times on error.
func NewJobWithRetry[T any](process func(ctx context.Context) (T, error), retries int) *Job[T] {
	return &Job[T]{
		id:      xid.New().String(),
		retries: retries,
		done:    make(chan struct{}),
		process: process,
	}
}

func (j *Job[T]) ID() string {
	return j.id
}

func (j *Job[T]) Runs() int {
	return int(j.runs.Load())
}

func (j *Job[T]) canRun() bool {
	return j.retries >= j.Runs()
}

func (j *Job[T]) finish(r Result[T]) {
	if j.closed.CompareAndSwap(false, true) {
		j.result = r
		close(j.done)
	}
}

// Await blocks until the job finished or ctx is done. Any number of
// callers may wait on the same job.
func (j *Job[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.result.item, j.result.err
	default:
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-j.done:
		return j.result.item, j.result.err
	}
}

// Done is closed once the job produced its result.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome, valid once Done is closed.
func (j *Job[T]) Result() Result[T] {
	<-j.done
	return j.result
}

// Submit schedules job on pool. Failed runs are resubmitted while retries remain.
func Submit[T any](ctx context.Context, pool Pool, job *Job[T]) error {
	if pool == nil {
		return ErrPoolNotConfigured
	}
	if job.closed.Load() {
		return ErrJobClosed
	}
	return pool.Submit(ctx, func() { run(ctx, pool, job) })
}

func run[T any](ctx context.Context, pool Pool, job *Job[T]) {
	log := util.Log(ctx).WithField("job", job.ID()).WithField("run", job.Runs())

	if job.process == nil {
		job.finish(Result[T]{err: errors.New("job has no process function")})
		return
	}

	job.runs.Add(1)
	item, err := job.process(ctx)
	if err == nil || errors.Is(err, context.Canceled) || !job.canRun() {
		if err != nil {
			log.WithError(err).Debug("job failed")
		}
		job.finish(Result[T]{item: item, err: err})
		return
	}

	log.WithError(err).Warn("job failed, retrying")
	if resubmitErr := pool.Submit(ctx, func() { run(ctx, pool, job) }); resubmitErr != nil {
		job.finish(Result[T]{err: fmt.Errorf("resubmit job: %w", err)})
	}
}
