package task

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func unreachable(node string) error {
	return &cluster.NetworkError{Node: node, Err: errors.New("connection refused")}
}

// step runs a job chain inline, ignoring delays, and returns the delays seen.
func step(t *testing.T, env *Env, job Job, limit int) (NextJob, []time.Duration) {
	t.Helper()
	var delays []time.Duration
	for i := 0; i < limit; i++ {
		next := job.Run(context.Background(), env)
		if next.Outcome != OutcomeContinue {
			return next, delays
		}
		delays = append(delays, next.Delay)
		job = next.Job
	}
	t.Fatalf("job chain did not finish after %d invocations", limit)
	return NextJob{}, nil
}

func TestRetryJobStopsAtMaxRetries(t *testing.T) {
	env := testEnv(t)
	calls := 0
	job := RetryJob("sn3", func(context.Context, *Env) error {
		calls++
		return unreachable("sn3")
	})

	next, delays := step(t, env, job, 100)
	require.Equal(t, OutcomeError, next.Outcome)
	require.Equal(t, env.Params.MaxRetries, calls)
	require.Len(t, delays, env.Params.MaxRetries-1)
	for _, d := range delays {
		require.Equal(t, env.Params.UnreachableDelay, d)
	}
	require.Contains(t, next.Err.Error(), "sn3")
	require.True(t, cluster.IsNetworkError(next.Err))
}

func TestRetryJobRecovers(t *testing.T) {
	env := testEnv(t)
	calls := 0
	job := RetryJob("sn1", func(context.Context, *Env) error {
		calls++
		if calls < 3 {
			return unreachable("sn1")
		}
		return nil
	})
	next, _ := step(t, env, job, 100)
	require.Equal(t, OutcomeSuccess, next.Outcome)
	require.Equal(t, 3, calls)
}

func TestRetryJobDoesNotRetryApplicationErrors(t *testing.T) {
	env := testEnv(t)
	calls := 0
	job := RetryJob("sn1", func(context.Context, *Env) error {
		calls++
		return metadata.NotFound("service rg1-rn1")
	})
	next, _ := step(t, env, job, 100)
	require.Equal(t, OutcomeError, next.Outcome)
	require.Equal(t, 1, calls)
	require.True(t, metadata.IsCode(next.Err, metadata.CodeNotFound))
}

func TestPollJobBackoff(t *testing.T) {
	env := testEnv(t)
	env.Params.PollInitial = 500 * time.Millisecond
	env.Params.PollMax = 10 * time.Second
	polls := 0
	job := PollJob("index population", func(context.Context, *Env) (PollStatus, error) {
		polls++
		if polls == 8 {
			return PollDone, nil
		}
		return PollPending, nil
	})

	next, delays := step(t, env, job, 100)
	require.Equal(t, OutcomeSuccess, next.Outcome)
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, delays)
}

func TestPollJobGoneIsSuccess(t *testing.T) {
	env := testEnv(t)
	job := PollJob("index population", func(context.Context, *Env) (PollStatus, error) {
		return PollGone, nil
	})
	next, delays := step(t, env, job, 10)
	require.Equal(t, OutcomeSuccess, next.Outcome)
	require.Empty(t, delays)
	require.Contains(t, next.Info, "no longer exists")
}

func TestPollJobTimeout(t *testing.T) {
	env := testEnv(t)
	now := time.Unix(1000, 0)
	env.Clock = func() time.Time { return now }
	env.Params.PollTimeout = time.Minute
	job := PollJob("metadata", func(context.Context, *Env) (PollStatus, error) {
		now = now.Add(20 * time.Second)
		return PollPending, nil
	})
	next, delays := step(t, env, job, 100)
	require.Equal(t, OutcomeError, next.Outcome)
	require.Contains(t, next.Err.Error(), "timed out")
	require.Len(t, delays, 3)
}

func TestPollJobBoundsNetworkFailures(t *testing.T) {
	env := testEnv(t)
	calls := 0
	job := PollJob("credentials", func(context.Context, *Env) (PollStatus, error) {
		calls++
		return PollPending, unreachable("sn2")
	})
	next, _ := step(t, env, job, 100)
	require.Equal(t, OutcomeError, next.Outcome)
	require.Equal(t, env.Params.MaxRetries, calls)
}

func TestSingleJobRetriesConflicts(t *testing.T) {
	env := testEnv(t)
	calls := 0
	job := SingleJob(func(context.Context, *Env) error {
		calls++
		if calls == 1 {
			return &metadata.Error{Code: metadata.CodeConflict, Msg: "seq changed"}
		}
		return nil
	})
	next, _ := step(t, env, job, 10)
	require.Equal(t, OutcomeSuccess, next.Outcome)
	require.Equal(t, 2, calls)
}

func TestSequenceChainsJobs(t *testing.T) {
	env := testEnv(t)
	var order []string
	mark := func(name string) Job {
		return JobFunc(func(context.Context, *Env) NextJob {
			order = append(order, name)
			return Success()
		})
	}
	retries := 0
	flaky := RetryJob("sn1", func(context.Context, *Env) error {
		order = append(order, "flaky")
		if retries++; retries < 2 {
			return unreachable("sn1")
		}
		return nil
	})

	next, delays := step(t, env, Sequence(mark("a"), flaky, mark("b")), 10)
	require.Equal(t, OutcomeSuccess, next.Outcome)
	require.Equal(t, []string{"a", "flaky", "flaky", "b"}, order)
	require.Equal(t, []time.Duration{0, env.Params.UnreachableDelay, 0}, delays)

	order = nil
	failing := JobFunc(func(context.Context, *Env) NextJob { return Failf("nope") })
	next, _ = step(t, env, Sequence(mark("a"), failing, mark("b")), 10)
	require.Equal(t, OutcomeError, next.Outcome)
	require.Equal(t, []string{"a"}, order)
}
