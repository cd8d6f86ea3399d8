package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Strategy is the execution strategy of a List.
type Strategy uint8

const (
	// Serial runs nodes strictly in order and stops on the first failed
	// node that is not allowed to continue past its error.
	Serial Strategy = iota
	// Parallel runs nodes concurrently and independently.
	Parallel
)

func (s Strategy) String() string {
	if s == Parallel {
		return "PARALLEL"
	}
	return "SERIAL"
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SERIAL", "":
		*s = Serial
	case "PARALLEL":
		*s = Parallel
	default:
		return fmt.Errorf("unknown list strategy %q", b)
	}
	return nil
}

// Node is either a leaf task or a nested list.
type Node struct {
	Task Task
	List *List
}

// List is an ordered group of tasks and sub-lists run with one strategy.
type List struct {
	Strategy Strategy
	Nodes    []Node
}

// NewList returns an empty list.
func NewList(strategy Strategy) *List {
	return &List{Strategy: strategy}
}

// Add appends leaf tasks.
func (l *List) Add(tasks ...Task) *List {
	for _, t := range tasks {
		l.Nodes = append(l.Nodes, Node{Task: t})
	}
	return l
}

// AddList appends a nested list.
func (l *List) AddList(sub *List) *List {
	l.Nodes = append(l.Nodes, Node{List: sub})
	return l
}

// Size is the number of leaf tasks, nested lists are not counted.
func (l *List) Size() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, node := range l.Nodes {
		if node.List != nil {
			n += node.List.Size()
		} else if node.Task != nil {
			n++
		}
	}
	return n
}

// Leaves returns all leaf tasks depth first. The index of a task in this slice
// is its stable position within the plan.
func (l *List) Leaves() []Task {
	var out []Task
	l.walk(func(t Task) { out = append(out, t) })
	return out
}

func (l *List) walk(fn func(Task)) {
	if l == nil {
		return
	}
	for _, node := range l.Nodes {
		if node.List != nil {
			node.List.walk(fn)
		} else if node.Task != nil {
			fn(node.Task)
		}
	}
}

// LogicalCompare reports whether both lists have the same shape and pairwise
// equivalent leaves.
func (l *List) LogicalCompare(o *List) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.Strategy != o.Strategy || len(l.Nodes) != len(o.Nodes) {
		return false
	}
	for i := range l.Nodes {
		a, b := l.Nodes[i], o.Nodes[i]
		switch {
		case a.List != nil || b.List != nil:
			if !a.List.LogicalCompare(b.List) {
				return false
			}
		case a.Task == nil || b.Task == nil:
			return false
		case a.Task.Kind() != b.Task.Kind() || !a.Task.LogicalCompare(b.Task):
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// ListRecord is the persisted form of a List.
type ListRecord struct {
	Strategy Strategy     `json:"strategy"`
	Nodes    []NodeRecord `json:"nodes"`
}

// NodeRecord is the persisted form of a Node, exactly one of Kind or List is set.
type NodeRecord struct {
	Kind   string          `json:"kind,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	List   *ListRecord     `json:"list,omitempty"`
}

// Record converts the list into its persisted form.
func (l *List) Record() (*ListRecord, error) {
	rec := &ListRecord{Strategy: l.Strategy, Nodes: make([]NodeRecord, 0, len(l.Nodes))}
	for i, node := range l.Nodes {
		if node.List != nil {
			sub, err := node.List.Record()
			if err != nil {
				return nil, err
			}
			rec.Nodes = append(rec.Nodes, NodeRecord{List: sub})
			continue
		}
		if node.Task == nil {
			return nil, errors.Newf("task list node %d is empty", i)
		}
		params, err := Encode(node.Task)
		if err != nil {
			return nil, err
		}
		rec.Nodes = append(rec.Nodes, NodeRecord{Kind: node.Task.Kind(), Params: params})
	}
	return rec, nil
}

// DecodeList rebuilds a List from its persisted form.
func DecodeList(rec *ListRecord) (*List, error) {
	if rec == nil {
		return nil, errors.New("missing task list")
	}
	l := NewList(rec.Strategy)
	for i, node := range rec.Nodes {
		switch {
		case node.List != nil:
			sub, err := DecodeList(node.List)
			if err != nil {
				return nil, err
			}
			l.AddList(sub)
		case node.Kind != "":
			t, err := Decode(node.Kind, node.Params)
			if err != nil {
				return nil, err
			}
			l.Add(t)
		default:
			return nil, errors.Newf("task list node %d is empty", i)
		}
	}
	return l, nil
}
