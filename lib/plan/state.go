package plan

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// State is the lifecycle state of a plan.
type State uint8

const (
	StateCreated State = iota
	StateApproved
	StateRunning
	StateSucceeded
	StateError
	StateInterrupted
	StateCanceled
)

var stateNames = [...]string{
	StateCreated:     "CREATED",
	StateApproved:    "APPROVED",
	StateRunning:     "RUNNING",
	StateSucceeded:   "SUCCEEDED",
	StateError:       "ERROR",
	StateInterrupted: "INTERRUPTED",
	StateCanceled:    "CANCELED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(name, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown plan state %q", b)
}

// Terminal reports whether the plan is retired and will never run again.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCanceled
}

// Runnable reports whether Execute accepts a plan in this state.
func (s State) Runnable() bool {
	return s == StateApproved || s == StateError || s == StateInterrupted
}

var transitions = map[State][]State{
	StateCreated:     {StateApproved, StateCanceled},
	StateApproved:    {StateRunning, StateCanceled},
	StateRunning:     {StateSucceeded, StateError, StateInterrupted},
	StateError:       {StateRunning, StateCanceled},
	StateInterrupted: {StateRunning, StateCanceled},
}

// CanTransition reports whether from -> to is a legal plan transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal plan state transition")

// TransitionError reports an operation that is not allowed in the plan's current state.
type TransitionError struct {
	PlanID uint64
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan %d: cannot go from %s to %s", e.PlanID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }
