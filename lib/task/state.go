package task

import (
	"fmt"
	"strings"
)

// State is the state of a task.
type State uint8

const (
	StatePending     State = iota // not started in the current plan attempt
	StateRunning                  // locks taken, job chain in progress
	StateSucceeded                // desired state reached
	StateError                    // failed, see the task error
	StateInterrupted              // the plan was asked to stop before the task finished
)

var stateNames = map[State]string{
	StatePending:     "PENDING",
	StateRunning:     "RUNNING",
	StateSucceeded:   "SUCCEEDED",
	StateError:       "ERROR",
	StateInterrupted: "INTERRUPTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Terminal reports whether the task finished in this attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateError || s == StateInterrupted
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for k, v := range stateNames {
		if strings.EqualFold(v, string(b)) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}
