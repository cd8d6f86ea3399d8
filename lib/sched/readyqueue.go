package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the ready queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// readyQueue is a lock-free multi-producer queue. A single internal consumer
// goroutine moves items into an unbuffered channel, which any number of worker
// goroutines may receive from.
type readyQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool
	length   atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

func newReadyQueue[T any]() *readyQueue[T] {
	sentinel := &node[T]{}
	q := &readyQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()
	return q
}

// push adds an item. It returns false if the queue is closed.
func (q *readyQueue[T]) push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)
				// signal under the mutex so the consumer cannot miss the wakeup
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list into the output channel.
func (q *readyQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true
			value := next.value
			q.head.Store(next)
			q.out <- value
			q.length.Add(-1)
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}
		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// recv returns the channel workers receive from. It is closed after close() once
// all queued items were delivered.
func (q *readyQueue[T]) recv() <-chan *T {
	return q.out
}

// close prevents further pushes. Items already queued are still delivered.
func (q *readyQueue[T]) close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// size returns the number of items not yet handed to a worker.
func (q *readyQueue[T]) size() int {
	return int(q.length.Load())
}
