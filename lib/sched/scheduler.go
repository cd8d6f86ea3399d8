package sched

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("sched")

// ErrClosed is returned when scheduling on a closed Scheduler.
var ErrClosed = errors.New("sched: scheduler closed")

// EntryID identifies a scheduled function.
type EntryID uint64

// dispatch is a due function on its way to a worker.
type dispatch struct {
	id  EntryID
	due int64
	fn  func()
}

// Scheduler runs functions after a delay on a fixed pool of workers.
// Waiting functions sit in a timer heap and cost no goroutine; only due functions
// occupy a worker.
type Scheduler struct {
	mu     sync.Mutex
	timers *timerQueue
	nextID EntryID
	closed bool

	wake    chan struct{}
	ready   *readyQueue[dispatch]
	loop    sync.WaitGroup
	workers sync.WaitGroup
	now     func() time.Time

	dispatched gometrics.Meter
	lag        gometrics.Timer
	runtime    gometrics.Timer
	panics     gometrics.Counter
}

// New starts a scheduler with the given number of workers.
// Metrics are registered in registry (nil uses go-metrics' DefaultRegistry).
func New(workers int, registry gometrics.Registry) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if registry == nil {
		registry = gometrics.DefaultRegistry
	}
	s := &Scheduler{
		timers:     newTimerQueue(),
		wake:       make(chan struct{}, 1),
		ready:      newReadyQueue[dispatch](),
		now:        time.Now,
		dispatched: gometrics.GetOrRegisterMeter("sched.dispatched", registry),
		lag:        gometrics.GetOrRegisterTimer("sched.lag", registry),
		runtime:    gometrics.GetOrRegisterTimer("sched.runtime", registry),
		panics:     gometrics.GetOrRegisterCounter("sched.panics", registry),
	}
	registry.Unregister("sched.pending")
	_ = registry.Register("sched.pending", gometrics.NewFunctionalGauge(func() int64 { return int64(s.Pending()) }))

	for i := 0; i < workers; i++ {
		s.workers.Add(1)
		go s.work()
	}
	s.loop.Add(1)
	go s.run()
	log.Debugf("scheduler started with %d workers", workers)
	return s
}

// After runs fn once delay has elapsed. A non-positive delay makes fn due immediately.
func (s *Scheduler) After(delay time.Duration, fn func()) (EntryID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.timers.add(&timer{id: id, due: s.now().Add(delay).UnixNano(), fn: fn})
	s.mu.Unlock()

	s.poke()
	return id, nil
}

// Cancel removes a function that has not been dispatched yet.
// It returns false if the function is already running, finished or unknown.
func (s *Scheduler) Cancel(id EntryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.remove(id)
}

// Pending returns the number of functions waiting for their delay or a worker.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	n := s.timers.Len()
	s.mu.Unlock()
	return n + s.ready.size()
}

// Close stops accepting work. Functions still waiting for their delay are made due
// immediately, so every scheduled function that was not cancelled runs exactly once.
// Close returns after all of them finished.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	flushed := s.timers.popDue(int64(^uint64(0) >> 1))
	for _, t := range flushed {
		s.ready.push(&dispatch{id: t.id, due: t.due, fn: t.fn})
	}
	s.mu.Unlock()

	s.poke()
	s.loop.Wait()
	s.workers.Wait()
	log.Debugf("scheduler closed, flushed %d waiting functions", len(flushed))
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run moves due timers to the ready queue and sleeps until the next deadline.
func (s *Scheduler) run() {
	defer s.loop.Done()
	defer s.ready.close()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		now := s.now().UnixNano()
		for _, t := range s.timers.popDue(now) {
			s.ready.push(&dispatch{id: t.id, due: t.due, fn: t.fn})
		}
		wait := time.Duration(-1)
		if next, ok := s.timers.peek(); ok {
			wait = time.Duration(next.due - now)
		}
		s.mu.Unlock()

		if wait < 0 {
			<-s.wake
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-s.wake:
		}
		t.Stop()
	}
}

func (s *Scheduler) work() {
	defer s.workers.Done()
	for d := range s.ready.recv() {
		s.lag.Update(time.Duration(s.now().UnixNano() - d.due))
		s.dispatched.Mark(1)
		s.runtime.Time(func() { s.invoke(d) })
	}
}

// invoke runs one function and keeps a panic from killing the worker.
func (s *Scheduler) invoke(d *dispatch) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Inc(1)
			log.Errorf("scheduled function %d panicked: %v\n%s", d.id, r, debug.Stack())
		}
	}()
	d.fn()
}

// Stats returns a one line summary of the scheduler metrics.
func (s *Scheduler) Stats() string {
	return fmt.Sprintf("pending=%d dispatched=%d rate1=%.2f/s mean-lag=%s mean-runtime=%s panics=%d",
		s.Pending(), s.dispatched.Count(), s.dispatched.Rate1(),
		time.Duration(s.lag.Mean()), time.Duration(s.runtime.Mean()), s.panics.Count())
}
