package plan

import (
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/task"
)

// TaskRun is the recorded progress of one leaf task of a plan.
type TaskRun struct {
	Index       int        `json:"index"`
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	State       task.State `json:"state"`
	Info        string     `json:"info,omitempty"`
	Error       string     `json:"error,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	Locks       []string   `json:"locks,omitempty"`
	Start       time.Time  `json:"start,omitempty"`
	End         time.Time  `json:"end,omitempty"`
	Invocations int        `json:"invocations,omitempty"`
	Runs        int        `json:"runs,omitempty"`
}

// Attempt is one execution of a plan.
type Attempt struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
	State State     `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Plan is a durable, identified administrative workflow.
type Plan struct {
	ID       uint64
	Name     string
	State    State
	Created  time.Time
	Updated  time.Time
	List     *task.List
	Runs     []*TaskRun
	Locks    []string
	Attempts []*Attempt
	Error    string

	mu     sync.Mutex
	leaves []task.Task
}

// New creates a plan in state CREATED.
func New(id uint64, name string, list *task.List, now time.Time) *Plan {
	p := &Plan{
		ID:      id,
		Name:    name,
		State:   StateCreated,
		Created: now,
		Updated: now,
		List:    list,
	}
	for i, t := range p.Leaves() {
		p.Runs = append(p.Runs, &TaskRun{Index: i, Kind: t.Kind(), Name: t.Name(), State: task.StatePending})
	}
	return p
}

// Leaves returns the leaf tasks in plan order.
func (p *Plan) Leaves() []task.Task {
	if p.leaves == nil {
		p.leaves = p.List.Leaves()
	}
	return p.leaves
}

// Update runs fn with the plan locked.
func (p *Plan) Update(fn func(p *Plan)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *Plan) transition(to State, now time.Time) error {
	if !CanTransition(p.State, to) {
		return &TransitionError{PlanID: p.ID, From: p.State, To: to}
	}
	p.State = to
	p.Updated = now
	return nil
}

// LastAttempt returns the most recent attempt or nil.
func (p *Plan) LastAttempt() *Attempt {
	if len(p.Attempts) == 0 {
		return nil
	}
	return p.Attempts[len(p.Attempts)-1]
}

// Counts returns the number of leaf tasks per state.
func (p *Plan) Counts() map[task.State]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[task.State]int)
	for _, r := range p.Runs {
		counts[r.State]++
	}
	return counts
}

// Failed returns the runs that ended in ERROR, in plan order.
func (p *Plan) Failed() []*TaskRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*TaskRun
	for _, r := range p.Runs {
		if r.State == task.StateError {
			out = append(out, r)
		}
	}
	return out
}

// sortPlans orders plans by id.
func sortPlans(plans []*Plan) {
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
}
