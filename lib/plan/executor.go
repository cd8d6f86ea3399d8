package plan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/sched"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/oklog/ulid/v2"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("plan")

var (
	// ErrAlreadyRunning is returned when a plan is already executing in this process.
	ErrAlreadyRunning = errors.New("plan is already running")
	// ErrLeased is returned when another admin process drives the plan.
	ErrLeased = errors.New("plan is driven by another admin process")
	// ErrEmpty is returned when creating a plan without tasks.
	ErrEmpty = errors.New("plan has no tasks")
)

// Config configures an Executor.
type Config struct {
	// Owner identifies this process in plan leases, random when empty.
	Owner string
	// LeaseTTL bounds how long a crashed process blocks its plans. A running plan
	// renews its lease every third of the ttl.
	LeaseTTL time.Duration
	// Parallelism limits the concurrent nodes of one PARALLEL list, 0 means no limit.
	Parallelism int
	// Interval is the RunApproved polling interval.
	Interval time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:    time.Minute,
		Parallelism: 8,
		Interval:    2 * time.Second,
	}
}

type execution struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	owner  []byte
	// renewed is closed when the lease keeper stopped, nil if none was started
	renewed chan struct{}
}

// Executor drives plans: it walks their task lists, takes the locks every task
// declares, runs the job chains and persists the outcome after every step.
type Executor struct {
	cfg    Config
	plans  *Store
	locks  *lockmgr.Table
	leases lockmgr.ILeaseManager
	sched  *sched.Scheduler
	env    *task.Env
	now    func() time.Time
	owner  []byte

	running  *xsync.MapOf[uint64, *execution]
	wg       sync.WaitGroup
	createMu sync.Mutex

	registry  gometrics.Registry
	attempts  gometrics.Counter
	conflicts gometrics.Counter
	duration  gometrics.Timer
}

// NewExecutor creates an executor. env is the template for the per attempt task env.
func NewExecutor(cfg Config, plans *Store, locks *lockmgr.Table, leases lockmgr.ILeaseManager,
	s *sched.Scheduler, env *task.Env, registry gometrics.Registry) *Executor {
	if cfg.Owner == "" {
		cfg.Owner = ulid.Make().String()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultConfig().LeaseTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	e := &Executor{
		cfg:       cfg,
		plans:     plans,
		locks:     locks,
		leases:    leases,
		sched:     s,
		env:       env,
		now:       env.Now,
		owner:     []byte(cfg.Owner),
		running:   xsync.NewMapOf[uint64, *execution](),
		registry:  registry,
		attempts:  gometrics.GetOrRegisterCounter("plan.attempts", registry),
		conflicts: gometrics.GetOrRegisterCounter("plan.lock_conflicts", registry),
		duration:  gometrics.GetOrRegisterTimer("plan.duration", registry),
	}
	registry.GetOrRegister("plan.running", gometrics.NewFunctionalGauge(func() int64 {
		return int64(e.running.Size())
	}))
	return e
}

func leaseKey(id uint64) string {
	return "lease/plan/" + strconv.FormatUint(id, 10)
}

// Locks returns the lock table.
func (e *Executor) Locks() *lockmgr.Table { return e.locks }

// Get loads a plan.
func (e *Executor) Get(id uint64) (*Plan, error) { return e.plans.Load(id) }

// List loads all plans.
func (e *Executor) List() ([]*Plan, error) { return e.plans.List() }

// Running reports whether the plan executes in this process.
func (e *Executor) Running(id uint64) bool {
	_, ok := e.running.Load(id)
	return ok
}

// Create persists a new plan. If an unfinished plan with the same name and an
// equivalent task list exists, that plan is returned instead and created is false.
func (e *Executor) Create(name string, list *task.List) (p *Plan, created bool, err error) {
	if list.Size() == 0 {
		return nil, false, ErrEmpty
	}
	e.createMu.Lock()
	defer e.createMu.Unlock()

	existing, err := e.plans.List()
	if err != nil {
		return nil, false, err
	}
	for _, p := range existing {
		if p.State.Terminal() || !strings.EqualFold(p.Name, name) {
			continue
		}
		if p.List.LogicalCompare(list) {
			log.Infof("reusing plan %d (%s) in state %s", p.ID, p.Name, p.State)
			return p, false, nil
		}
	}

	id, err := e.plans.NextID()
	if err != nil {
		return nil, false, err
	}
	p = New(id, name, list, e.now())
	if err := e.plans.Save(p); err != nil {
		return nil, false, err
	}
	vm.GetOrCreateCounter(`dkvadmin_plans_created_total`).Inc()
	log.Infof("created plan %d (%s) with %d tasks", p.ID, p.Name, list.Size())
	return p, true, nil
}

// Approve moves a CREATED plan to APPROVED. Approving an approved plan is a no-op.
func (e *Executor) Approve(id uint64) (*Plan, error) {
	p, err := e.plans.Load(id)
	if err != nil {
		return nil, err
	}
	if p.State == StateApproved {
		return p, nil
	}
	if err := p.transition(StateApproved, e.now()); err != nil {
		return nil, err
	}
	return p, e.plans.Save(p)
}

// Execute runs the plan to completion and returns it in its final state. Task
// failures are reported through the plan state. The error is non-nil when the
// plan could not be started, or when an attempt stopped on lock contention; the
// latter matches lockmgr.ErrLocksHeld and leaves the plan INTERRUPTED.
func (e *Executor) Execute(ctx context.Context, id uint64) (*Plan, error) {
	ex, p, err := e.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.end(id, ex)
	err = e.run(ex, p)
	return p, err
}

// Start runs the plan in the background.
func (e *Executor) Start(ctx context.Context, id uint64) error {
	ex, p, err := e.begin(ctx, id)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.end(id, ex)
		if err := e.run(ex, p); err != nil {
			log.Warningf("plan %d: %v", id, err)
		}
	}()
	return nil
}

// begin registers a local execution, checks the plan state and takes the plan lease.
func (e *Executor) begin(ctx context.Context, id uint64) (*execution, *Plan, error) {
	ctx, cancel := context.WithCancel(ctx)
	ex := &execution{ctx: ctx, cancel: cancel, done: make(chan struct{}), owner: e.owner}
	if _, loaded := e.running.LoadOrStore(id, ex); loaded {
		cancel()
		return nil, nil, errors.Wrapf(ErrAlreadyRunning, "plan %d", id)
	}
	fail := func(err error) (*execution, *Plan, error) {
		e.running.Delete(id)
		cancel()
		close(ex.done)
		return nil, nil, err
	}

	p, err := e.plans.Load(id)
	if err != nil {
		return fail(err)
	}
	if p.State != StateRunning && !p.State.Runnable() {
		return fail(&TransitionError{PlanID: id, From: p.State, To: StateRunning})
	}
	ok, _, holder, err := e.leases.Acquire(leaseKey(id), e.owner, e.cfg.LeaseTTL)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(errors.Wrapf(ErrLeased, "plan %d held by %s", id, holder))
	}
	ex.renewed = make(chan struct{})
	go e.keepLease(ex, id)
	if err := e.plans.ClearStop(id); err != nil {
		log.Warningf("plan %d: failed to clear stop request: %v", id, err)
	}
	if p.State == StateRunning {
		// left RUNNING by a process that is gone
		log.Warningf("plan %d was left RUNNING, resuming", id)
		p.State = StateInterrupted
	}
	return ex, p, nil
}

func (e *Executor) end(id uint64, ex *execution) {
	ex.cancel()
	if ex.renewed != nil {
		<-ex.renewed
	}
	if _, err := e.leases.Release(leaseKey(id), ex.owner); err != nil {
		log.Warningf("plan %d: failed to release lease: %v", id, err)
	}
	e.running.Delete(id)
	close(ex.done)
}

// keepLease renews the plan lease until the execution ends. Losing the lease
// interrupts the execution, another process may already drive the plan.
func (e *Executor) keepLease(ex *execution, id uint64) {
	defer close(ex.renewed)
	ticker := time.NewTicker(e.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ex.ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := e.leases.Renew(leaseKey(id), ex.owner, e.cfg.LeaseTTL)
		switch {
		case err != nil:
			log.Warningf("plan %d: failed to renew lease: %v", id, err)
		case !ok:
			log.Errorf("plan %d: lease lost, interrupting", id)
			ex.cancel()
			return
		}
	}
}

// outcome aggregates task results of a list.
type outcome struct {
	halted      bool // a task without continuePastError failed
	interrupted bool
	conflict    error
	errs        *multierror.Error
}

func (o *outcome) merge(other outcome) {
	o.halted = o.halted || other.halted
	o.interrupted = o.interrupted || other.interrupted
	if o.conflict == nil {
		o.conflict = other.conflict
	}
	if other.errs != nil {
		o.errs = multierror.Append(o.errs, other.errs.Errors...)
	}
}

func (o *outcome) stop() bool {
	return o.halted || o.interrupted || o.conflict != nil
}

// run performs one attempt.
func (e *Executor) run(ex *execution, p *Plan) error {
	start := e.now()
	attempt := &Attempt{ID: ulid.Make().String(), Start: start, State: StateRunning}
	var err error
	p.Update(func(p *Plan) {
		if err = p.transition(StateRunning, start); err == nil {
			p.Attempts = append(p.Attempts, attempt)
			p.Error = ""
		}
	})
	if err != nil {
		return err
	}
	if err := e.plans.Save(p); err != nil {
		return err
	}
	e.attempts.Inc(1)
	log.Infof("plan %d (%s): attempt %s started", p.ID, p.Name, attempt.ID)

	env := e.env.ForPlan(p.ID, p.Name, attempt.ID)
	res := e.runList(ex.ctx, p, env, p.List, 0)
	if _, err := e.locks.ReleaseAll(p.ID); err != nil {
		log.Errorf("plan %d: failed to release locks: %v", p.ID, err)
	}

	final, summary := StateSucceeded, ""
	switch {
	case res.conflict != nil:
		final, summary = StateInterrupted, res.conflict.Error()
		e.conflicts.Inc(1)
		vm.GetOrCreateCounter(`dkvadmin_lock_conflicts_total`).Inc()
	case res.interrupted:
		final, summary = StateInterrupted, "interrupted"
	case res.errs != nil:
		final, summary = StateError, res.errs.Error()
	}

	end := e.now()
	p.Update(func(p *Plan) {
		err = p.transition(final, end)
		attempt.End, attempt.State, attempt.Error = end, final, summary
		p.Error = summary
		p.Locks = nil
	})
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "plan %d", p.ID)
	}
	if err := e.plans.Save(p); err != nil {
		return err
	}
	e.duration.Update(end.Sub(start))
	vm.GetOrCreateCounter(fmt.Sprintf(`dkvadmin_plans_total{state=%q}`, final)).Inc()
	log.Infof("plan %d (%s): attempt %s finished %s", p.ID, p.Name, attempt.ID, final)

	if res.conflict != nil {
		return errors.Wrapf(res.conflict, "plan %d interrupted", p.ID)
	}
	return nil
}

func nodeSize(n task.Node) int {
	if n.List != nil {
		return n.List.Size()
	}
	if n.Task != nil {
		return 1
	}
	return 0
}

func (e *Executor) runNode(ctx context.Context, p *Plan, env *task.Env, n task.Node, idx int) outcome {
	if n.List != nil {
		return e.runList(ctx, p, env, n.List, idx)
	}
	return e.runTask(ctx, p, env, idx, n.Task)
}

// runList runs the nodes of l, whose first leaf has plan index base.
func (e *Executor) runList(ctx context.Context, p *Plan, env *task.Env, l *task.List, base int) outcome {
	if l.Strategy == task.Parallel {
		return e.runParallel(ctx, p, env, l, base)
	}
	var out outcome
	idx := base
	for _, n := range l.Nodes {
		if out.stop() {
			break
		}
		if ctx.Err() != nil {
			out.interrupted = true
			break
		}
		out.merge(e.runNode(ctx, p, env, n, idx))
		idx += nodeSize(n)
	}
	return out
}

// runParallel runs all nodes concurrently. Lock contention in one node cancels
// the others.
func (e *Executor) runParallel(ctx context.Context, p *Plan, env *task.Env, l *task.List, base int) outcome {
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Parallelism > 0 {
		g.SetLimit(e.cfg.Parallelism)
	}
	var (
		mu  sync.Mutex
		out outcome
	)
	idx := base
	for _, n := range l.Nodes {
		start := idx
		idx += nodeSize(n)
		g.Go(func() error {
			var r outcome
			if gctx.Err() != nil {
				r.interrupted = true
			} else {
				r = e.runNode(gctx, p, env, n, start)
			}
			mu.Lock()
			out.merge(r)
			mu.Unlock()
			return r.conflict
		})
	}
	_ = g.Wait()
	return out
}

// runTask takes the locks of one leaf task and drives it.
func (e *Executor) runTask(ctx context.Context, p *Plan, env *task.Env, idx int, t task.Task) outcome {
	run := p.Runs[idx]
	var prev task.State
	p.Update(func(*Plan) { prev = run.State })
	if prev == task.StateSucceeded {
		return outcome{}
	}
	if ctx.Err() != nil {
		return outcome{interrupted: true}
	}

	var first task.Job
	if prev == task.StateInterrupted && !t.RestartOnInterrupted() {
		rec, ok := t.(task.Recoverer)
		if !ok {
			err := errors.Newf("%s was interrupted and cannot be restarted, manual repair required", t.Name())
			e.finishRun(p, run, t, task.Result{State: task.StateError, Err: err})
			return failure(t, run, err)
		}
		first = rec.RecoveryJob(env)
	}

	reqs, err := t.Locks(env)
	if err != nil {
		e.finishRun(p, run, t, task.Result{State: task.StateError, Err: err})
		return failure(t, run, err)
	}
	grant, err := e.locks.Acquire(lockmgr.Owner{PlanID: p.ID, PlanName: p.Name}, reqs...)
	if err != nil {
		if errors.Is(err, lockmgr.ErrLocksHeld) {
			log.Infof("plan %d: %s blocked: %v", p.ID, t.Name(), err)
			p.Update(func(*Plan) { run.Info = "waiting for locks: " + err.Error() })
			e.save(p)
			return outcome{conflict: err}
		}
		e.finishRun(p, run, t, task.Result{State: task.StateError, Err: err})
		return failure(t, run, err)
	}

	now := e.now()
	p.Update(func(p *Plan) {
		run.State = task.StateRunning
		run.Start, run.End = now, time.Time{}
		run.Info, run.Error, run.Detail = "", "", ""
		run.Locks = grant.Resources()
		run.Runs++
		p.Locks = e.heldLocks(p)
	})
	e.save(p)
	log.Debugf("plan %d: running %s", p.ID, t.Name())

	res := task.Drive(ctx, e.sched, env, t, first)
	if err := e.locks.Release(grant); err != nil {
		// the plan keeps the locks until its attempt ends or it is recovered
		log.Errorf("plan %d: failed to release locks of %s: %v", p.ID, t.Name(), err)
	}
	e.finishRun(p, run, t, res)

	switch res.State {
	case task.StateSucceeded:
		return outcome{}
	case task.StateInterrupted:
		return outcome{interrupted: true}
	default:
		return failure(t, run, res.Err)
	}
}

func failure(t task.Task, run *TaskRun, err error) outcome {
	o := outcome{errs: multierror.Append(nil, errors.Wrapf(err, "task %d (%s)", run.Index, run.Name))}
	o.halted = !t.ContinuePastError()
	return o
}

func (e *Executor) finishRun(p *Plan, run *TaskRun, t task.Task, res task.Result) {
	now := e.now()
	p.Update(func(p *Plan) {
		run.State = res.State
		run.End = now
		run.Invocations += res.Invocations
		run.Locks = nil
		if res.Info != "" {
			run.Info = res.Info
		}
		if res.Err != nil && res.State == task.StateError {
			run.Error = res.Err.Error()
			if errors.IsAssertionFailure(res.Err) {
				run.Detail = fmt.Sprintf("%+v", res.Err)
			}
		}
		p.Locks = e.heldLocks(p)
	})
	e.save(p)
	vm.GetOrCreateCounter(fmt.Sprintf(`dkvadmin_tasks_total{kind=%q,state=%q}`, t.Kind(), res.State)).Inc()
	if res.State == task.StateError {
		log.Warningf("plan %d: %s failed: %v", p.ID, t.Name(), res.Err)
	}
}

// heldLocks reads the plan's locks for its record. It must be called inside
// p.Update and keeps the recorded locks when the table cannot be read.
func (e *Executor) heldLocks(p *Plan) []string {
	keys, err := e.locks.Held(p.ID)
	if err != nil {
		log.Warningf("plan %d: failed to read held locks: %v", p.ID, err)
		return p.Locks
	}
	return keys
}

func (e *Executor) save(p *Plan) {
	now := e.now()
	p.Update(func(p *Plan) { p.Updated = now })
	if err := e.plans.Save(p); err != nil {
		log.Errorf("plan %d: failed to persist progress: %v", p.ID, err)
	}
}

// Interrupt asks a plan running in this process to stop and waits until it did.
// Interrupting a plan that is not running is a no-op.
func (e *Executor) Interrupt(ctx context.Context, id uint64) error {
	ex, ok := e.running.Load(id)
	if !ok {
		p, err := e.plans.Load(id)
		if err != nil {
			return err
		}
		if p.State == StateRunning {
			ok, _, holder, err := e.leases.Acquire(leaseKey(id), e.owner, e.cfg.LeaseTTL)
			if err != nil {
				return errors.Wrapf(err, "plan %d: check lease", id)
			}
			if !ok {
				return errors.Wrapf(ErrLeased, "plan %d held by %s", id, holder)
			}
			_, _ = e.leases.Release(leaseKey(id), e.owner)
		}
		return nil
	}
	ex.cancel()
	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel retires a plan that has not succeeded. A plan running in this process
// is interrupted first. Tasks that never ran stay PENDING.
func (e *Executor) Cancel(ctx context.Context, id uint64) (*Plan, error) {
	if err := e.Interrupt(ctx, id); err != nil {
		return nil, err
	}
	p, err := e.plans.Load(id)
	if err != nil {
		return nil, err
	}
	if p.State == StateRunning {
		// a crashed process left it RUNNING, Interrupt verified nobody holds the lease
		p.State = StateInterrupted
	}
	if err := p.transition(StateCanceled, e.now()); err != nil {
		return nil, err
	}
	if _, err := e.locks.ReleaseAll(id); err != nil {
		return nil, err
	}
	p.Locks = nil
	if err := e.plans.Save(p); err != nil {
		return nil, err
	}
	log.Infof("plan %d (%s) canceled", p.ID, p.Name)
	return p, nil
}

// Recover marks plans left RUNNING by a stopped process as INTERRUPTED and drops
// their lock records. Plans whose lease is still held elsewhere are left alone.
func (e *Executor) Recover() (int, error) {
	plans, err := e.plans.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range plans {
		if p.State != StateRunning || e.Running(p.ID) {
			continue
		}
		ok, _, _, err := e.leases.Acquire(leaseKey(p.ID), e.owner, e.cfg.LeaseTTL)
		if err != nil || !ok {
			continue
		}
		now := e.now()
		p.State = StateInterrupted
		p.Updated = now
		p.Error = "admin process stopped while the plan was running"
		if a := p.LastAttempt(); a != nil && a.State == StateRunning {
			a.End, a.State, a.Error = now, StateInterrupted, p.Error
		}
		if _, err := e.locks.ReleaseAll(p.ID); err != nil {
			log.Errorf("plan %d: failed to drop locks: %v", p.ID, err)
			_, _ = e.leases.Release(leaseKey(p.ID), e.owner)
			continue
		}
		p.Locks = nil
		if err := e.plans.Save(p); err != nil {
			log.Errorf("plan %d: failed to persist recovery: %v", p.ID, err)
		} else {
			n++
		}
		_, _ = e.leases.Release(leaseKey(p.ID), e.owner)
	}
	if n > 0 {
		log.Infof("recovered %d interrupted plans", n)
	}
	return n, nil
}

// RunApproved recovers interrupted plans and then starts every APPROVED plan
// until ctx is canceled. Running plans are interrupted on return.
func (e *Executor) RunApproved(ctx context.Context) error {
	if _, err := e.Recover(); err != nil {
		return err
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		e.startApproved(ctx)
		select {
		case <-ctx.Done():
			e.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// RequestInterrupt interrupts a plan running in this process, or asks the admin
// process driving it to do so on its next executor tick.
func (e *Executor) RequestInterrupt(ctx context.Context, id uint64) error {
	if e.Running(id) {
		return e.Interrupt(ctx, id)
	}
	p, err := e.plans.Load(id)
	if err != nil {
		return err
	}
	if p.State != StateRunning {
		return nil
	}
	log.Infof("requesting interrupt of plan %d (%s)", p.ID, p.Name)
	return e.plans.RequestStop(id)
}

// stopRequested interrupts local executions with a pending stop request
func (e *Executor) stopRequested() {
	e.running.Range(func(id uint64, ex *execution) bool {
		if ok, err := e.plans.StopRequested(id); err == nil && ok {
			log.Infof("plan %d: stop requested", id)
			ex.cancel()
			_ = e.plans.ClearStop(id)
		}
		return true
	})
}

func (e *Executor) startApproved(ctx context.Context) {
	e.stopRequested()
	plans, err := e.plans.List()
	if err != nil {
		log.Errorf("failed to list plans: %v", err)
		return
	}
	for _, p := range plans {
		if p.State != StateApproved || e.Running(p.ID) {
			continue
		}
		if err := e.Start(ctx, p.ID); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrLeased) {
			log.Warningf("failed to start plan %d: %v", p.ID, err)
		}
	}
}

// Shutdown interrupts all local executions and waits for them.
func (e *Executor) Shutdown() {
	e.running.Range(func(_ uint64, ex *execution) bool {
		ex.cancel()
		return true
	})
	e.wg.Wait()
}

// Stats returns a one line summary of the executor metrics.
func (e *Executor) Stats() string {
	return fmt.Sprintf("running=%d attempts=%d lock-conflicts=%d mean-duration=%s",
		e.running.Size(), e.attempts.Count(), e.conflicts.Count(),
		time.Duration(e.duration.Mean()))
}
