package task

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/cockroachdb/errors"
)

// conflictDelay is the pause before a metadata transaction that lost an
// optimistic sequence check is retried.
const conflictDelay = 50 * time.Millisecond

// SingleJob wraps a task whose whole effect is one function call, typically a
// metadata update. A transaction conflict with a concurrent writer is retried up
// to Params.MaxRetries times, any other error ends the task.
func SingleJob(fn func(ctx context.Context, env *Env) error) Job {
	return singleJob{fn: fn, attempt: 1}
}

type singleJob struct {
	fn      func(ctx context.Context, env *Env) error
	attempt int
}

func (j singleJob) Run(ctx context.Context, env *Env) NextJob {
	err := j.fn(ctx, env)
	switch {
	case err == nil:
		return Success()
	case metadata.IsCode(err, metadata.CodeConflict) && j.attempt < maxRetries(env):
		return Continue(singleJob{fn: j.fn, attempt: j.attempt + 1}, conflictDelay,
			fmt.Sprintf("metadata conflict, retry %d", j.attempt))
	default:
		return Fail(err)
	}
}

// RetryJob wraps a single remote call against peer. Network failures are retried
// with the fixed Params.UnreachableDelay until Params.MaxRetries calls were made,
// then the task fails naming the peer. Application errors fail immediately.
func RetryJob(peer string, call func(ctx context.Context, env *Env) error) Job {
	return retryJob{peer: peer, call: call, attempt: 1}
}

type retryJob struct {
	peer    string
	call    func(ctx context.Context, env *Env) error
	attempt int
}

func (j retryJob) Run(ctx context.Context, env *Env) NextJob {
	err := j.call(ctx, env)
	if err == nil {
		return Success()
	}
	if !cluster.IsNetworkError(err) {
		return Fail(err)
	}
	limit := maxRetries(env)
	if j.attempt >= limit {
		return Fail(errors.Wrapf(err, "%s unreachable after %d attempts", j.peer, j.attempt))
	}
	env.Logger().Debugf("%s unreachable (attempt %d/%d): %v", j.peer, j.attempt, limit, err)
	return Continue(retryJob{peer: j.peer, call: j.call, attempt: j.attempt + 1},
		env.Params.UnreachableDelay,
		fmt.Sprintf("waiting for %s (attempt %d/%d)", j.peer, j.attempt, limit))
}

func maxRetries(env *Env) int {
	if env.Params.MaxRetries < 1 {
		return 1
	}
	return env.Params.MaxRetries
}

// PollStatus is the answer of a wait-and-poll check.
type PollStatus uint8

const (
	PollPending PollStatus = iota // condition not reached yet
	PollDone                      // condition reached
	PollGone                      // the target no longer exists, the desired end state holds
)

// PollJob waits for a remote condition. The first check runs immediately, later
// checks are spaced by an interval starting at Params.PollInitial, doubling after
// every check and capped at Params.PollMax. PollGone counts as success. A run of
// MaxRetries consecutive network failures, or waiting longer than
// Params.PollTimeout, fails the task.
func PollJob(what string, check func(ctx context.Context, env *Env) (PollStatus, error)) Job {
	return &pollJob{what: what, check: check}
}

type pollJob struct {
	what     string
	check    func(ctx context.Context, env *Env) (PollStatus, error)
	started  time.Time
	interval time.Duration
	netFails int
	polls    int
}

func (j *pollJob) Run(ctx context.Context, env *Env) NextJob {
	now := env.Now()
	next := *j
	if next.started.IsZero() {
		next.started = now
	}
	next.polls++

	status, err := j.check(ctx, env)
	if err != nil {
		if !cluster.IsNetworkError(err) {
			return Fail(errors.Wrapf(err, "waiting for %s", j.what))
		}
		next.netFails++
		if next.netFails >= maxRetries(env) {
			return Fail(errors.Wrapf(err, "waiting for %s", j.what))
		}
		return Continue(&next, env.Params.UnreachableDelay,
			fmt.Sprintf("waiting for %s: %v", j.what, err))
	}
	next.netFails = 0

	switch status {
	case PollDone:
		return SuccessInfo("%s after %d polls", j.what, next.polls)
	case PollGone:
		return SuccessInfo("%s: target no longer exists", j.what)
	}

	if timeout := env.Params.PollTimeout; timeout > 0 && now.Sub(next.started) >= timeout {
		return Failf("timed out after %s waiting for %s", timeout, j.what)
	}
	delay := next.interval
	if delay <= 0 {
		delay = env.Params.PollInitial
	}
	if limit := env.Params.PollMax; limit > 0 && delay > limit {
		delay = limit
	}
	next.interval = delay * 2
	return Continue(&next, delay, fmt.Sprintf("waiting for %s", j.what))
}

// Sequence runs the job chains of jobs one after another. A chain that ends with
// success starts the next one, an error ends the sequence.
func Sequence(jobs ...Job) Job {
	return sequence(jobs)
}

type sequence []Job

func (s sequence) Run(ctx context.Context, env *Env) NextJob {
	if len(s) == 0 {
		return Success()
	}
	next := s[0].Run(ctx, env)
	switch next.Outcome {
	case OutcomeSuccess:
		if len(s) == 1 {
			return next
		}
		return Continue(s[1:], 0, next.Info)
	case OutcomeContinue:
		if next.Job == nil {
			return next
		}
		rest := make(sequence, 0, len(s))
		rest = append(rest, next.Job)
		rest = append(rest, s[1:]...)
		return Continue(rest, next.Delay, next.Info)
	default:
		return next
	}
}
