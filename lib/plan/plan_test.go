package plan

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/sched"
	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/cockroachdb/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

// journal records which test tasks ran, in order.
var journal struct {
	mu      sync.Mutex
	entries []string
}

func record(s string) {
	journal.mu.Lock()
	defer journal.mu.Unlock()
	journal.entries = append(journal.entries, s)
}

func entries() []string {
	journal.mu.Lock()
	defer journal.mu.Unlock()
	return append([]string(nil), journal.entries...)
}

func resetJournal() {
	journal.mu.Lock()
	defer journal.mu.Unlock()
	journal.entries = nil
}

// stepTask is a test kind: it records its id, then fails, waits forever or succeeds.
type stepTask struct {
	task.Base
	ID    string `json:"id"`
	Fail  bool   `json:"fail,omitempty"`
	Wait  bool   `json:"wait,omitempty"`
	Table string `json:"table,omitempty"`
}

func (t *stepTask) Kind() string { return "test-step" }
func (t *stepTask) Name() string { return "step " + t.ID }

func (t *stepTask) Locks(*task.Env) ([]lockmgr.Request, error) {
	if t.Table == "" {
		return nil, nil
	}
	return lockmgr.TableOf("ns", t.Table), nil
}

func (t *stepTask) FirstJob(*task.Env) task.Job {
	return task.JobFunc(func(context.Context, *task.Env) task.NextJob {
		record(t.ID)
		switch {
		case t.Fail:
			return task.Failf("step %s failed", t.ID)
		case t.Wait:
			return task.Continue(waitForever{}, 5*time.Millisecond, "waiting")
		}
		return task.Success()
	})
}

func (t *stepTask) LogicalCompare(other task.Task) bool {
	o, ok := other.(*stepTask)
	return ok && o.ID == t.ID
}

type waitForever struct{}

func (w waitForever) Run(context.Context, *task.Env) task.NextJob {
	return task.Continue(w, 5*time.Millisecond, "waiting")
}

// recoverTask never restarts after an interruption but knows how to reconcile.
type recoverTask struct {
	stepTask
}

func (t *recoverTask) Kind() string { return "test-recover" }

func (t *recoverTask) RecoveryJob(*task.Env) task.Job {
	return task.JobFunc(func(context.Context, *task.Env) task.NextJob {
		record("recover " + t.ID)
		return task.Success()
	})
}

func init() {
	task.Register("test-step", func() task.Task { return &stepTask{} })
	task.Register("test-recover", func() task.Task { return &recoverTask{} })
}

func step(id string) *stepTask { return &stepTask{ID: id} }

type fixture struct {
	exec  *Executor
	plans *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resetJournal()
	return newProcess(t, lstore.NewLocalStore(), DefaultConfig(), nil)
}

// newProcess wires an executor the way an admin process on st does.
// A nil leases uses the store backed lease manager.
func newProcess(t *testing.T, st store.IStore, cfg Config, leases lockmgr.ILeaseManager) *fixture {
	t.Helper()
	s := sched.New(4, gometrics.NewRegistry())
	t.Cleanup(s.Close)
	if leases == nil {
		leases = lockmgr.NewLeaseManager(st)
	}

	plans := NewStore(st)
	env := &task.Env{Metadata: metadata.NewStore(st), Params: task.DefaultParams()}
	exec := NewExecutor(cfg, plans, lockmgr.NewSharedTable(st), leases, s, env, gometrics.NewRegistry())
	t.Cleanup(exec.Shutdown)
	return &fixture{exec: exec, plans: plans}
}

func (f *fixture) approved(t *testing.T, name string, list *task.List) *Plan {
	t.Helper()
	p, created, err := f.exec.Create(name, list)
	require.NoError(t, err)
	require.True(t, created)
	p, err = f.exec.Approve(p.ID)
	require.NoError(t, err)
	return p
}

func runStates(p *Plan) []task.State {
	var out []task.State
	for _, r := range p.Runs {
		out = append(out, r.State)
	}
	return out
}

func TestSerialListHaltsOnError(t *testing.T) {
	f := newFixture(t)
	b := step("b")
	b.Fail = true
	p := f.approved(t, "halt", task.NewList(task.Serial).Add(step("a"), b, step("c")))

	p, err := f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StateError, p.State)
	require.Equal(t, []string{"a", "b"}, entries())
	require.Equal(t, []task.State{task.StateSucceeded, task.StateError, task.StatePending}, runStates(p))
	require.Contains(t, p.Error, "step b failed")
	require.Contains(t, p.Runs[1].Error, "step b failed")
}

func TestContinuePastError(t *testing.T) {
	f := newFixture(t)
	b := step("b")
	b.Fail = true
	b.ContinueOnError = true
	p := f.approved(t, "continue", task.NewList(task.Serial).Add(step("a"), b, step("c")))

	p, err := f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, entries())
	require.Equal(t, []task.State{task.StateSucceeded, task.StateError, task.StateSucceeded}, runStates(p))
	require.Equal(t, StateError, p.State)
}

func TestParallelListRunsEveryNode(t *testing.T) {
	f := newFixture(t)
	b := step("b")
	b.Fail = true
	list := task.NewList(task.Parallel).
		Add(step("a"), b).
		AddList(task.NewList(task.Serial).Add(step("c"), step("d")))
	p := f.approved(t, "parallel", list)

	p, err := f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	got := entries()
	sort.Strings(got)
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
	require.Equal(t, StateError, p.State)
	require.Equal(t, task.StateSucceeded, p.Runs[3].State)
}

func TestExecuteRequiresApproval(t *testing.T) {
	f := newFixture(t)
	p, _, err := f.exec.Create("unapproved", task.NewList(task.Serial).Add(step("a")))
	require.NoError(t, err)

	_, err = f.exec.Execute(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Empty(t, entries())
	require.False(t, f.exec.Running(p.ID))
}

func TestLockContentionInterruptsPlan(t *testing.T) {
	f := newFixture(t)
	other, err := f.exec.Locks().Acquire(lockmgr.Owner{PlanID: 999, PlanName: "other"}, lockmgr.TableOf("ns", "t")...)
	require.NoError(t, err)

	b := step("b")
	b.Table = "t"
	p := f.approved(t, "contended", task.NewList(task.Serial).Add(step("a"), b))

	p, err = f.exec.Execute(context.Background(), p.ID)
	require.ErrorIs(t, err, lockmgr.ErrLocksHeld)
	var conflict *lockmgr.LockConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, uint64(999), conflict.Holder.PlanID)

	require.Equal(t, StateInterrupted, p.State)
	require.Equal(t, []task.State{task.StateSucceeded, task.StatePending}, runStates(p))
	require.Contains(t, p.Runs[1].Info, "waiting for locks")
	held, err := f.exec.Locks().Held(p.ID)
	require.NoError(t, err)
	require.Empty(t, held)
	require.Empty(t, p.Locks)

	require.NoError(t, f.exec.Locks().Release(other))
	p, err = f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, p.State)
	require.Equal(t, []string{"a", "b"}, entries())
	require.Len(t, p.Attempts, 2)
	require.Equal(t, StateInterrupted, p.Attempts[0].State)
	require.Equal(t, StateSucceeded, p.Attempts[1].State)
	require.NotEqual(t, p.Attempts[0].ID, p.Attempts[1].ID)
}

func TestLocksExcludeAcrossProcesses(t *testing.T) {
	resetJournal()
	st := lstore.NewLocalStore()
	first := newProcess(t, st, DefaultConfig(), nil)
	second := newProcess(t, st, DefaultConfig(), nil)

	holder := step("holder")
	holder.Table, holder.Wait = "t", true
	p1 := first.approved(t, "hold ns.t", task.NewList(task.Serial).Add(holder))
	require.NoError(t, first.exec.Start(context.Background(), p1.ID))
	require.Eventually(t, func() bool { return len(entries()) == 1 }, 5*time.Second, 5*time.Millisecond)

	contender := step("contender")
	contender.Table = "t"
	p2 := second.approved(t, "alter ns.t", task.NewList(task.Serial).Add(contender))
	p2, err := second.exec.Execute(context.Background(), p2.ID)
	require.ErrorIs(t, err, lockmgr.ErrLocksHeld)
	var conflict *lockmgr.LockConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, p1.ID, conflict.Holder.PlanID)
	require.Equal(t, StateInterrupted, p2.State)
	require.Equal(t, []string{"holder"}, entries())

	require.NoError(t, first.exec.Interrupt(context.Background(), p1.ID))
	p2, err = second.exec.Execute(context.Background(), p2.ID)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, p2.State)
	require.Equal(t, []string{"holder", "contender"}, entries())
}

func TestRunningPlanKeepsItsLease(t *testing.T) {
	resetJournal()
	st := lstore.NewLocalStore()
	cfg := DefaultConfig()
	cfg.LeaseTTL = 150 * time.Millisecond
	first := newProcess(t, st, cfg, nil)
	second := newProcess(t, st, cfg, nil)

	w := step("w")
	w.Wait = true
	p := first.approved(t, "long", task.NewList(task.Serial).Add(w))
	require.NoError(t, first.exec.Start(context.Background(), p.ID))
	require.Eventually(t, func() bool { return len(entries()) == 1 }, 5*time.Second, 5*time.Millisecond)

	// several ttls later the plan is still RUNNING and must not be driven twice
	time.Sleep(4 * cfg.LeaseTTL)
	_, err := second.exec.Execute(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrLeased)
	require.ErrorIs(t, second.exec.Interrupt(context.Background(), p.ID), ErrLeased)
	require.True(t, first.exec.Running(p.ID))
	require.Equal(t, []string{"w"}, entries())

	require.NoError(t, first.exec.Interrupt(context.Background(), p.ID))
	_, ok, err := st.Get(leaseKey(p.ID))
	require.NoError(t, err)
	require.False(t, ok, "lease released when the execution ends")
}

func TestRunningGaugeCountsExecutions(t *testing.T) {
	f := newFixture(t)
	gauge, ok := f.exec.registry.Get("plan.running").(gometrics.Gauge)
	require.True(t, ok, "plan.running is registered on the executor registry")
	require.Equal(t, int64(0), gauge.Value())

	w := step("w")
	w.Wait = true
	p := f.approved(t, "gauge", task.NewList(task.Serial).Add(w))
	require.NoError(t, f.exec.Start(context.Background(), p.ID))
	require.Equal(t, int64(1), gauge.Value())
	require.NoError(t, f.exec.Interrupt(context.Background(), p.ID))
	require.Equal(t, int64(0), gauge.Value())
}

// unreachableLeases fails every call as a store outage would.
type unreachableLeases struct{}

var errStoreDown = store.NewError(store.RetCUnavailable, "store down")

func (unreachableLeases) Acquire(string, []byte, time.Duration) (bool, []byte, []byte, error) {
	return false, nil, nil, errStoreDown
}

func (unreachableLeases) Renew(string, []byte, time.Duration) (bool, error) {
	return false, errStoreDown
}

func (unreachableLeases) Release(string, []byte) (bool, error) {
	return false, errStoreDown
}

func TestInterruptReportsLeaseErrors(t *testing.T) {
	resetJournal()
	st := lstore.NewLocalStore()
	f := newProcess(t, st, DefaultConfig(), unreachableLeases{})
	p := f.approved(t, "stuck", task.NewList(task.Serial).Add(step("a")))
	p.State = StateRunning
	require.NoError(t, f.plans.Save(p))

	err := f.exec.Interrupt(context.Background(), p.ID)
	require.Error(t, err)
	require.ErrorIs(t, err, errStoreDown)
	require.NotErrorIs(t, err, ErrLeased)
}

func TestRerunSkipsSucceededTasks(t *testing.T) {
	f := newFixture(t)
	b := step("b")
	b.Fail = true
	p := f.approved(t, "rerun", task.NewList(task.Serial).Add(step("a"), b))
	p, err := f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StateError, p.State)

	p, err = f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "b"}, entries())
	require.Equal(t, 2, p.Runs[1].Runs)
	require.Equal(t, 1, p.Runs[0].Runs)
}

func TestCreateReusesEquivalentPlan(t *testing.T) {
	f := newFixture(t)
	first, created, err := f.exec.Create("create-table ns.t", task.NewList(task.Serial).Add(step("a")))
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.exec.Create("CREATE-TABLE ns.t", task.NewList(task.Serial).Add(step("a")))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	other, created, err := f.exec.Create("create-table ns.t", task.NewList(task.Serial).Add(step("z")))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, other.ID)

	_, _, err = f.exec.Create("empty", task.NewList(task.Serial))
	require.ErrorIs(t, err, ErrEmpty)
}

func TestCancelRunningPlan(t *testing.T) {
	f := newFixture(t)
	w := step("w")
	w.Wait = true
	p := f.approved(t, "cancel", task.NewList(task.Serial).Add(w, step("after")))

	require.NoError(t, f.exec.Start(context.Background(), p.ID))
	require.Eventually(t, func() bool { return len(entries()) == 1 }, 5*time.Second, 5*time.Millisecond)

	p, err := f.exec.Cancel(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StateCanceled, p.State)
	require.Equal(t, []task.State{task.StateInterrupted, task.StatePending}, runStates(p))
	require.False(t, f.exec.Running(p.ID))

	_, err = f.exec.Execute(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	w := step("w")
	w.Wait = true
	p := f.approved(t, "twice", task.NewList(task.Serial).Add(w))

	require.NoError(t, f.exec.Start(context.Background(), p.ID))
	_, err := f.exec.Execute(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.NoError(t, f.exec.Interrupt(context.Background(), p.ID))

	p, err = f.exec.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, StateInterrupted, p.State)
}

func TestResumeInterruptedTasks(t *testing.T) {
	tests := []struct {
		name    string
		task    task.Task
		state   State
		journal []string
		err     string
	}{
		{
			name:    "restartable task reruns",
			task:    step("a"),
			state:   StateSucceeded,
			journal: []string{"a"},
		},
		{
			name:    "no restart without recovery fails",
			task:    &stepTask{ID: "a", Base: task.Base{NoRestart: true}},
			state:   StateError,
			journal: nil,
			err:     "manual repair required",
		},
		{
			name:    "no restart runs the recovery job",
			task:    &recoverTask{stepTask{ID: "a", Base: task.Base{NoRestart: true}}},
			state:   StateSucceeded,
			journal: []string{"recover a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.approved(t, "resume", task.NewList(task.Serial).Add(tt.task))
			p.State = StateInterrupted
			p.Runs[0].State = task.StateInterrupted
			require.NoError(t, f.plans.Save(p))

			p, err := f.exec.Execute(context.Background(), p.ID)
			require.NoError(t, err)
			require.Equal(t, tt.state, p.State)
			require.Equal(t, tt.journal, entries())
			if tt.err != "" {
				require.Contains(t, p.Runs[0].Error, tt.err)
			}
		})
	}
}

func TestRecoverInterruptsStalePlans(t *testing.T) {
	f := newFixture(t)
	p := f.approved(t, "stale", task.NewList(task.Serial).Add(step("a")))
	p.State = StateRunning
	p.Locks = []string{"TABLE:ns/t"}
	p.Attempts = []*Attempt{{ID: "x", Start: time.Now(), State: StateRunning}}
	require.NoError(t, f.plans.Save(p))

	n, err := f.exec.Recover()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p, err = f.exec.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, StateInterrupted, p.State)
	require.Empty(t, p.Locks)
	require.Equal(t, StateInterrupted, p.Attempts[0].State)

	p, err = f.exec.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, p.State)
}

func TestRunApprovedStartsPlans(t *testing.T) {
	f := newFixture(t)
	f.exec.cfg.Interval = 10 * time.Millisecond
	p := f.approved(t, "background", task.NewList(task.Serial).Add(step("a")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.exec.RunApproved(ctx) }()

	require.Eventually(t, func() bool {
		got, err := f.exec.Get(p.ID)
		return err == nil && got.State == StateSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRequestInterruptStopsBackgroundPlan(t *testing.T) {
	f := newFixture(t)
	f.exec.cfg.Interval = 10 * time.Millisecond
	w := step("w")
	w.Wait = true
	p := f.approved(t, "remote-stop", task.NewList(task.Serial).Add(w))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.exec.RunApproved(ctx) }()
	require.Eventually(t, func() bool { return len(entries()) == 1 }, 5*time.Second, 5*time.Millisecond)

	// another admin process only sees the persisted plan
	require.NoError(t, f.plans.RequestStop(p.ID))
	require.Eventually(t, func() bool {
		got, err := f.exec.Get(p.ID)
		return err == nil && got.State == StateInterrupted
	}, 5*time.Second, 10*time.Millisecond)

	ok, err := f.plans.StopRequested(p.ID)
	require.NoError(t, err)
	require.False(t, ok)
	cancel()
	require.NoError(t, <-done)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StateApproved, true},
		{StateCreated, StateRunning, false},
		{StateApproved, StateRunning, true},
		{StateRunning, StateCanceled, false},
		{StateError, StateRunning, true},
		{StateInterrupted, StateCanceled, true},
		{StateSucceeded, StateRunning, false},
		{StateCanceled, StateRunning, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
