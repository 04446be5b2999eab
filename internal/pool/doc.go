// Package pool runs work items on a fixed number of workers fed from a
// bounded FIFO queue. Each submission returns a Handle whose completion
// callbacks fire exactly once, even when the work function panics or the
// isolated worker process dies without answering.
package pool
