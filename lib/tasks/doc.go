/*
Package tasks contains the concrete administrative task kinds and the builders
that turn operator intents into plans.

Every kind registers itself with the task package, so persisted plans can be
decoded. Kinds that mutate metadata go through metadata.Update and treat an
already present desired state as success, so a replay after a crash converges.
Kinds that target an existing entity carry the id captured when the plan was
built and leave a recreated entity with the same name alone.

Remote calls use task.RetryJob, waits use task.PollJob.
*/
package tasks
