package sched

import (
	"container/heap"
)

// timer is a scheduled function waiting in the timer queue.
type timer struct {
	id    EntryID
	due   int64 // unix nano
	fn    func()
	index int // index in the heap, maintained by the heap package
}

// timerQueue is a min-heap of timers ordered by due time, combined with a map for
// removal by id. It is not thread-safe, the Scheduler guards it with its mutex.
type timerQueue struct {
	items []*timer
	byID  map[EntryID]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{
		items: make([]*timer, 0),
		byID:  make(map[EntryID]*timer),
	}
}

// Len returns the number of timers (part of heap.Interface)
func (q *timerQueue) Len() int { return len(q.items) }

// Less orders by due time, ties by id so equal deadlines keep submission order.
func (q *timerQueue) Less(i, j int) bool {
	if q.items[i].due == q.items[j].due {
		return q.items[i].id < q.items[j].id
	}
	return q.items[i].due < q.items[j].due
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *timerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (q *timerQueue) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(q.items)
	q.items = append(q.items, t)
	q.byID[t.id] = t
}

// Pop removes and returns the last item (part of heap.Interface)
func (q *timerQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	delete(q.byID, t.id)
	return t
}

// add schedules a timer.
func (q *timerQueue) add(t *timer) {
	heap.Push(q, t)
}

// remove drops a timer by id, reporting whether it was still queued.
func (q *timerQueue) remove(id EntryID) bool {
	t, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(q, t.index)
	return true
}

// peek returns the earliest timer without removing it.
func (q *timerQueue) peek() (*timer, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// popDue removes and returns every timer due at or before now, earliest first.
func (q *timerQueue) popDue(now int64) []*timer {
	var due []*timer
	for {
		t, ok := q.peek()
		if !ok || t.due > now {
			return due
		}
		due = append(due, heap.Pop(q).(*timer))
	}
}
