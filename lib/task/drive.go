package task

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/sched"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
)

// Result is the outcome of driving one task.
type Result struct {
	State       State
	Err         error
	Info        string
	Invocations int
}

// Drive runs the job chain of t, starting with first (or t.FirstJob when first is
// nil), until a job returns a terminal outcome. Every invocation is dispatched on
// s, so a waiting task holds no goroutine besides the caller.
//
// When ctx is canceled the pending invocation is withdrawn and the task reports
// INTERRUPTED. An invocation already running is allowed to finish; if it ends
// the task, that outcome is kept.
func Drive(ctx context.Context, s *sched.Scheduler, env *Env, t Task, first Job) Result {
	if err := env.validate(); err != nil {
		return Result{State: StateError, Err: err}
	}
	job := first
	if job == nil {
		job = t.FirstJob(env)
	}
	if job == nil {
		return Result{State: StateError, Err: errors.AssertionFailedf("%s task has no first job", t.Kind())}
	}

	var (
		results = make(chan NextJob, 1)
		res     Result
		delay   time.Duration
		done    = ctx.Done()
	)
	for {
		current := job
		id, err := s.After(delay, func() {
			results <- invoke(ctx, env, t.Kind(), current)
		})
		if err != nil {
			return Result{State: StateInterrupted, Err: err, Info: res.Info, Invocations: res.Invocations}
		}

		var next NextJob
		select {
		case next = <-results:
		case <-done:
			if s.Cancel(id) {
				return Result{State: StateInterrupted, Err: ctx.Err(), Info: res.Info, Invocations: res.Invocations}
			}
			// already dispatched
			next = <-results
			if next.Outcome == OutcomeContinue {
				res.Invocations++
				return Result{State: StateInterrupted, Err: ctx.Err(), Info: next.Info, Invocations: res.Invocations}
			}
		}

		res.Invocations++
		if next.Info != "" {
			res.Info = next.Info
		}
		switch next.Outcome {
		case OutcomeSuccess:
			res.State = StateSucceeded
			return res
		case OutcomeError:
			res.State, res.Err = StateError, next.Err
			return res
		}
		job, delay = next.Job, next.Delay
		if ctx.Err() != nil {
			return Result{State: StateInterrupted, Err: ctx.Err(), Info: res.Info, Invocations: res.Invocations}
		}
	}
}

// invoke runs one job and turns panics and malformed continuations into
// assertion failures.
func invoke(ctx context.Context, env *Env, kind string, job Job) (next NextJob) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			env.Logger().Errorf("%s job panicked: %v", kind, r)
			next = Fail(errors.AssertionFailedf("%s job panicked: %v", kind, r))
		}
		vm.GetOrCreateHistogram(fmt.Sprintf(`dkvadmin_job_duration_seconds{kind=%q}`, kind)).UpdateDuration(start)
		vm.GetOrCreateCounter(fmt.Sprintf(`dkvadmin_job_invocations_total{kind=%q,outcome=%q}`, kind, next.Outcome)).Inc()
	}()
	next = job.Run(ctx, env)
	if next.Outcome == OutcomeContinue && next.Job == nil {
		next = Fail(errors.AssertionFailedf("%s job returned a continuation without a job", kind))
	}
	return next
}
