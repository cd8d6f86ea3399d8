package sched

import (
	"testing"
)

func TestTimerQueueOrder(t *testing.T) {
	q := newTimerQueue()
	q.add(&timer{id: 1, due: 300})
	q.add(&timer{id: 2, due: 100})
	q.add(&timer{id: 3, due: 200})
	q.add(&timer{id: 4, due: 100})

	due := q.popDue(200)
	want := []EntryID{2, 4, 3}
	if len(due) != len(want) {
		t.Fatalf("popDue() returned %d timers, want %d", len(due), len(want))
	}
	for i, id := range want {
		if due[i].id != id {
			t.Errorf("popDue()[%d] = %d, want %d", i, due[i].id, id)
		}
	}

	next, ok := q.peek()
	if !ok || next.id != 1 {
		t.Errorf("peek() = %v, %v, want timer 1", next, ok)
	}
}

func TestTimerQueueRemove(t *testing.T) {
	tests := []struct {
		name    string
		remove  EntryID
		removed bool
		left    int
	}{
		{name: "remove head", remove: 1, removed: true, left: 2},
		{name: "remove middle", remove: 2, removed: true, left: 2},
		{name: "remove unknown", remove: 9, removed: false, left: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTimerQueue()
			q.add(&timer{id: 1, due: 10})
			q.add(&timer{id: 2, due: 20})
			q.add(&timer{id: 3, due: 30})

			if got := q.remove(tt.remove); got != tt.removed {
				t.Errorf("remove() = %v, want %v", got, tt.removed)
			}
			if q.Len() != tt.left {
				t.Errorf("Len() = %d, want %d", q.Len(), tt.left)
			}
			if q.remove(tt.remove) {
				t.Errorf("second remove() must report false")
			}
		})
	}
}
