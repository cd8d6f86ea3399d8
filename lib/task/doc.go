/*
Package task contains the execution machinery for administrative tasks.

A Task is an immutable parameter struct that declares the locks it needs and
produces a chain of Jobs. A Job performs one non-blocking step and returns a
NextJob: success, error, or a continuation (a new Job and a delay). Drive runs a
chain on a shared sched.Scheduler, so a task that waits on a remote condition
costs a timer entry, not a goroutine.

Tasks are grouped into Lists that run SERIAL or PARALLEL and may be nested. The
plan package walks these lists, takes the locks and persists the outcome.

Most task kinds are built from three patterns:

  - SingleJob: one call, typically a metadata update, conflicts retried
  - RetryJob: one remote call, network failures retried with a fixed delay up
    to Params.MaxRetries attempts
  - PollJob: wait for a remote condition with a doubling, capped interval
*/
package task
