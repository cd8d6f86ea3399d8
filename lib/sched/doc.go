// Package sched is the shared delayed-execution facility of the plan engine.
//
// Task jobs that return a continuation are not slept on by a goroutine. Instead the
// next invocation is handed to the Scheduler with its delay. The scheduler keeps
// waiting functions in a timer heap (ordered by due time, removable by id) and moves
// them into a lock-free ready queue once due. A fixed pool of workers drains the
// ready queue, so the number of busy goroutines follows active work rather than the
// number of pending waits.
//
// Metrics (github.com/rcrowley/go-metrics, registered under "sched."):
//
//	sched.pending     functional gauge, waiting + ready functions
//	sched.dispatched  meter of functions handed to a worker
//	sched.lag         timer, delay between due time and dispatch
//	sched.runtime     timer, execution time per function
//	sched.panics      counter of recovered panics
package sched
