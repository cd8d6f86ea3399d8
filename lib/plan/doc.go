/*
Package plan implements durable administrative workflows.

A Plan owns a task.List and moves through CREATED, APPROVED and RUNNING to
SUCCEEDED, ERROR or INTERRUPTED. ERROR and INTERRUPTED plans can be executed
again; every execution is recorded as an Attempt. Any plan that has not
succeeded can be CANCELED.

The Executor walks the task list, takes the locks a task declares in the
lockmgr.Table (all or nothing), drives the task with task.Drive and persists the
plan after every task transition. A task that cannot get its locks does not run:
the attempt stops, the plan becomes INTERRUPTED and Execute returns an error
matching lockmgr.ErrLocksHeld, so the caller can retry later.

When a plan is executed again, SUCCEEDED tasks are skipped and all others rerun
from their first job. A task left INTERRUPTED that declared
RestartOnInterrupted() == false runs its task.Recoverer job instead, or fails
with a request for manual repair when it has none.

Plans are persisted as versioned Records. Decode migrates older versions.
*/
package plan
