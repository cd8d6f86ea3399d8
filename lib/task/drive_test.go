package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/sched"
	"github.com/cockroachdb/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

// funcTask is a test task running a fixed first job.
type funcTask struct {
	noopTask
	first Job
}

func (t *funcTask) FirstJob(*Env) Job { return t.first }

func newScheduler(t *testing.T) *sched.Scheduler {
	s := sched.New(2, gometrics.NewRegistry())
	t.Cleanup(s.Close)
	return s
}

func TestDriveRunsContinuations(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32
	var job JobFunc
	job = func(context.Context, *Env) NextJob {
		if calls.Add(1) < 3 {
			return Continue(job, time.Millisecond, "again")
		}
		return SuccessInfo("done")
	}

	res := Drive(context.Background(), s, testEnv(t), &funcTask{first: job}, nil)
	require.Equal(t, StateSucceeded, res.State)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Invocations)
	require.Equal(t, "done", res.Info)
}

func TestDriveRetryCap(t *testing.T) {
	s := newScheduler(t)
	env := testEnv(t)
	var calls atomic.Int32
	job := RetryJob("sn9", func(context.Context, *Env) error {
		calls.Add(1)
		return unreachable("sn9")
	})

	res := Drive(context.Background(), s, env, &funcTask{first: job}, nil)
	require.Equal(t, StateError, res.State)
	require.EqualValues(t, env.Params.MaxRetries, calls.Load())
	require.Equal(t, env.Params.MaxRetries, res.Invocations)
}

func TestDriveTurnsPanicsIntoAssertionFailures(t *testing.T) {
	s := newScheduler(t)
	job := JobFunc(func(context.Context, *Env) NextJob {
		var m map[string]int
		m["boom"] = 1
		return Success()
	})

	res := Drive(context.Background(), s, testEnv(t), &funcTask{first: job}, nil)
	require.Equal(t, StateError, res.State)
	require.True(t, errors.IsAssertionFailure(res.Err))
}

func TestDriveRejectsContinuationWithoutJob(t *testing.T) {
	s := newScheduler(t)
	job := JobFunc(func(context.Context, *Env) NextJob {
		return NextJob{Outcome: OutcomeContinue}
	})
	res := Drive(context.Background(), s, testEnv(t), &funcTask{first: job}, nil)
	require.Equal(t, StateError, res.State)
	require.True(t, errors.IsAssertionFailure(res.Err))
}

func TestDriveInterruptedByCancel(t *testing.T) {
	s := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var once atomic.Bool
	var job JobFunc
	job = func(context.Context, *Env) NextJob {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		return Continue(job, time.Hour, "waiting")
	}

	out := make(chan Result, 1)
	go func() { out <- Drive(ctx, s, testEnv(t), &funcTask{first: job}, nil) }()
	<-started
	cancel()

	select {
	case res := <-out:
		require.Equal(t, StateInterrupted, res.State)
		require.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Drive did not return after cancel")
	}
	require.Zero(t, s.Pending())
}

func TestDriveUsesExplicitFirstJob(t *testing.T) {
	s := newScheduler(t)
	recovery := JobFunc(func(context.Context, *Env) NextJob { return Failf("manual repair required") })
	res := Drive(context.Background(), s, testEnv(t), &noopTask{ID: "a"}, recovery)
	require.Equal(t, StateError, res.State)
	require.Contains(t, res.Err.Error(), "manual repair")
}
