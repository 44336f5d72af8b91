// Package engine defines a pluggable worker-scheduling abstraction for the
// Run Manager (spec §4.H), grounded on the teacher's engine.Engine /
// engine.WorkflowContext split but trimmed to what a non-durable core
// needs: no activity retries, no deterministic replay, no Temporal-style
// workflow determinism contract. Spec.md §1 states explicitly that a run
// has no durability guarantee and is lost on crash, which rules out a
// durable-replay backend; only the goroutine-pool backend in ./local
// ships, but callers depend on this interface rather than that package so
// a future durable backend could be added without touching runmgr.
package engine

import "context"

// Task is the unit of work the Run Manager schedules: one thread-loop
// iteration run to completion or cancellation.
type Task func(ctx context.Context) error

// Handle tracks one scheduled Task.
type Handle interface {
	// Done reports completion. Receiving from it never blocks once the task
	// has returned.
	Done() <-chan struct{}
	// Err returns the task's result once Done is closed; nil before that.
	Err() error
	// Cancel requests cooperative cancellation by canceling the Task's ctx.
	Cancel()
}

// Engine schedules Tasks onto a bounded pool of workers.
type Engine interface {
	// Submit schedules task for execution. It blocks until a worker slot is
	// available or ctx is done, whichever comes first (spec §4.H admission
	// timeout is enforced by the caller via ctx).
	Submit(ctx context.Context, task Task) (Handle, error)

	// Len reports the number of tasks currently running.
	Len() int

	// Shutdown stops accepting new tasks and waits for running tasks to
	// observe cancellation and return.
	Shutdown(ctx context.Context) error
}
