package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

func TestSchedulerRunsAfterDelay(t *testing.T) {
	s := New(2, gometrics.NewRegistry())
	defer s.Close()

	start := time.Now()
	done := make(chan time.Duration, 1)
	if _, err := s.After(30*time.Millisecond, func() { done <- time.Since(start) }); err != nil {
		t.Fatalf("After() error = %v", err)
	}

	select {
	case elapsed := <-done:
		if elapsed < 30*time.Millisecond {
			t.Errorf("function ran after %s, before its delay", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("function did not run")
	}
}

func TestSchedulerOrdersByDueTime(t *testing.T) {
	s := New(1, gometrics.NewRegistry())
	defer s.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i, delay := range []time.Duration{60, 20, 40} {
		i := i
		_, _ = s.After(delay*time.Millisecond, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	want := []int{1, 2, 0}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := New(1, gometrics.NewRegistry())

	var ran atomic.Bool
	id, _ := s.After(time.Hour, func() { ran.Store(true) })
	if !s.Cancel(id) {
		t.Fatalf("Cancel() = false for a waiting function")
	}
	if s.Cancel(id) {
		t.Errorf("Cancel() twice must report false")
	}
	s.Close()
	if ran.Load() {
		t.Errorf("cancelled function ran")
	}
}

func TestSchedulerCloseFlushesWaiting(t *testing.T) {
	s := New(4, gometrics.NewRegistry())

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		_, _ = s.After(time.Hour, func() { count.Add(1) })
	}
	s.Close()

	if got := count.Load(); got != 10 {
		t.Errorf("%d functions ran on Close(), want 10", got)
	}
	if _, err := s.After(0, func() {}); err != ErrClosed {
		t.Errorf("After() on closed scheduler = %v, want ErrClosed", err)
	}
}

func TestSchedulerSurvivesPanics(t *testing.T) {
	registry := gometrics.NewRegistry()
	s := New(1, registry)
	defer s.Close()

	done := make(chan struct{})
	_, _ = s.After(0, func() { panic("boom") })
	_, _ = s.After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker died after panic")
	}
	if c := gometrics.GetOrRegisterCounter("sched.panics", registry).Count(); c != 1 {
		t.Errorf("sched.panics = %d, want 1", c)
	}
}
