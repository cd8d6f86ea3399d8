package task

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("task")

// Task is the smallest independently retryable unit of administrative work.
// Implementations are immutable parameter structs, serialized as JSON for plan
// persistence.
type Task interface {
	// Kind is the registered kind name, used to decode persisted tasks.
	Kind() string
	// Name is a human readable description.
	Name() string
	// Locks declares every lock the task needs, requested in one atomic call.
	Locks(env *Env) ([]lockmgr.Request, error)
	// FirstJob starts the job chain.
	FirstJob(env *Env) Job
	// ContinuePastError lets the enclosing list proceed after this task failed.
	ContinuePastError() bool
	// RestartOnInterrupted reruns the task from scratch when a plan is resumed
	// after it was INTERRUPTED.
	RestartOnInterrupted() bool
	// LogicalCompare reports whether other converges to the same persisted state.
	LogicalCompare(other Task) bool
}

// Recoverer is implemented by tasks with RestartOnInterrupted() == false that know
// how to reconcile partial progress after an interruption.
type Recoverer interface {
	RecoveryJob(env *Env) Job
}

// Base carries the behavior flags shared by all task kinds.
type Base struct {
	ContinueOnError bool `json:"continuePastError,omitempty"`
	NoRestart       bool `json:"noRestartOnInterrupted,omitempty"`
}

func (b Base) ContinuePastError() bool    { return b.ContinueOnError }
func (b Base) RestartOnInterrupted() bool { return !b.NoRestart }

// --------------------------------------------------------------------------
// Kind registry
// --------------------------------------------------------------------------

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Task)
)

// Register makes a task kind decodable. factory returns a pointer to a zero value.
// Registering a kind twice panics.
func Register(kind string, factory func() Task) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("task: kind registered twice: " + kind)
	}
	registry[kind] = factory
}

// Kinds returns all registered kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Encode serializes a task's parameters.
func Encode(t Task) (json.RawMessage, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s task", t.Kind())
	}
	return data, nil
}

// Decode rebuilds a task from its kind and parameters.
func Decode(kind string, params json.RawMessage) (Task, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown task kind %q", kind)
	}
	t := factory()
	if len(params) > 0 {
		if err := json.Unmarshal(params, t); err != nil {
			return nil, errors.Wrapf(err, "decode %s task", kind)
		}
	}
	return t, nil
}
