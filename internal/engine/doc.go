// Package engine provides the asynchronous task lifecycle: a mutex-guarded
// registry holding every task record, submission of work to the worker
// pool, completion handling, lazy timeout expiry on status queries, and a
// broker that notifies subscribers when a task reaches a terminal state.
package engine
