package task

import (
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

// Params are the engine tunables tasks read at run time.
type Params struct {
	// MaxRetries bounds retries of a remote call that fails with a network error.
	MaxRetries int
	// UnreachableDelay is the fixed delay between such retries.
	UnreachableDelay time.Duration
	// PollInitial is the first wait-and-poll interval, doubled after every poll.
	PollInitial time.Duration
	// PollMax caps the poll interval.
	PollMax time.Duration
	// PollTimeout fails a wait after this long, 0 waits forever.
	PollTimeout time.Duration
}

// DefaultParams returns the standard engine tunables.
func DefaultParams() Params {
	return Params{
		MaxRetries:       10,
		UnreachableDelay: 5 * time.Second,
		PollInitial:      500 * time.Millisecond,
		PollMax:          10 * time.Second,
		PollTimeout:      30 * time.Minute,
	}
}

// Env is the explicit execution context handed to every task and job. It identifies
// the plan the task runs for and gives access to the admin services.
type Env struct {
	PlanID    uint64
	PlanName  string
	AttemptID string

	Metadata    *metadata.Store
	Broadcaster metadata.Broadcaster
	Dialer      cluster.IDialer
	Params      Params
	Clock       func() time.Time
	Log         logger.ILogger
}

// Now returns the current time of the env clock.
func (e *Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// Logger returns the env logger, falling back to the package logger.
func (e *Env) Logger() logger.ILogger {
	if e.Log == nil {
		return log
	}
	return e.Log
}

// Topology reads the current topology.
func (e *Env) Topology() (*metadata.Topology, error) {
	return e.Metadata.ReadTopology()
}

// Node resolves a storage node through the current topology and dials it.
func (e *Env) Node(storageNodeID string) (cluster.INodeAPI, error) {
	topo, err := e.Topology()
	if err != nil {
		return nil, err
	}
	sn := topo.StorageNode(storageNodeID)
	if sn == nil {
		return nil, metadata.NotFound("storage node %s", storageNodeID)
	}
	api, err := e.Dialer.Dial(sn.ID, sn.Endpoint)
	if err != nil {
		return nil, &cluster.NetworkError{Node: sn.ID, Err: err}
	}
	return api, nil
}

// ForPlan returns a copy of the env bound to a plan attempt.
func (e *Env) ForPlan(planID uint64, planName, attemptID string) *Env {
	cp := *e
	cp.PlanID, cp.PlanName, cp.AttemptID = planID, planName, attemptID
	return &cp
}

func (e *Env) validate() error {
	if e == nil || e.Metadata == nil {
		return errors.AssertionFailedf("task env without metadata store")
	}
	return nil
}
