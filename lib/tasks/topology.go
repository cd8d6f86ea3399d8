package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindChangeReplicationFactor = "change-replication-factor"
	KindMoveReplica             = "move-replica"
	KindWaitMetadata            = "wait-metadata"
)

// ChangeReplicationFactor sets the replication factor of the store.
type ChangeReplicationFactor struct {
	task.Base
	Factor int `json:"factor"`
}

func (t *ChangeReplicationFactor) Kind() string { return KindChangeReplicationFactor }
func (t *ChangeReplicationFactor) Name() string {
	return fmt.Sprintf("change replication factor to %d", t.Factor)
}

// Locks takes every replication group.
func (t *ChangeReplicationFactor) Locks(env *task.Env) ([]lockmgr.Request, error) {
	topo, err := env.Topology()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(topo.Groups))
	for _, g := range topo.Groups {
		ids = append(ids, g.ID)
	}
	sort.Strings(ids)
	var reqs []lockmgr.Request
	for _, id := range ids {
		reqs = append(reqs, lockmgr.TopologyGroup(id)...)
	}
	return reqs, nil
}

func (t *ChangeReplicationFactor) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTopology(ctx, env, func(topo *metadata.Topology) error {
			if t.Factor < 1 {
				return metadata.Invalid("replication factor must be at least 1, got %d", t.Factor)
			}
			if topo.ReplicationFactor == t.Factor {
				return metadata.ErrNoChange
			}
			for _, g := range topo.Groups {
				rns := 0
				for _, n := range g.Nodes {
					if n.Type == metadata.ReplicationNode {
						rns++
					}
				}
				if rns > t.Factor {
					return metadata.Invalid("group %s has %d replication nodes, remove nodes before lowering the factor to %d", g.ID, rns, t.Factor)
				}
			}
			topo.ReplicationFactor = t.Factor
			return nil
		})
	})
}

func (t *ChangeReplicationFactor) LogicalCompare(other task.Task) bool {
	o, ok := other.(*ChangeReplicationFactor)
	return ok && t.Factor == o.Factor
}

// MoveReplica moves a service from one storage node to another: the topology is
// updated first, then the service is started at its new place. After an
// interruption it does not restart blindly but inspects the topology to see how
// far it got.
type MoveReplica struct {
	task.Base
	Service string `json:"service"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (t *MoveReplica) Kind() string { return KindMoveReplica }
func (t *MoveReplica) Name() string {
	return fmt.Sprintf("move %s from %s to %s", t.Service, t.From, t.To)
}

func (t *MoveReplica) Locks(env *task.Env) ([]lockmgr.Request, error) {
	reqs, err := serviceLocks(env, t.Service)
	if err != nil {
		return nil, err
	}
	return append(reqs, lockmgr.StorageNode(t.To)...), nil
}

func (t *MoveReplica) move() task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTopology(ctx, env, func(topo *metadata.Topology) error {
			_, n := topo.FindNode(t.Service)
			if n == nil {
				return metadata.NotFound("service %s", t.Service)
			}
			if topo.StorageNode(t.To) == nil {
				return metadata.NotFound("storage node %s", t.To)
			}
			switch {
			case strings.EqualFold(n.StorageNode, t.To):
				return metadata.ErrNoChange
			case !strings.EqualFold(n.StorageNode, t.From):
				return metadata.Invalid("service %s runs on %s, not on %s", t.Service, n.StorageNode, t.From)
			}
			n.StorageNode = t.To
			return nil
		})
	})
}

func (t *MoveReplica) start() task.Job {
	return nodeCall(t.To, func(ctx context.Context, api cluster.INodeAPI) error {
		return api.StartService(ctx, t.Service)
	})
}

func (t *MoveReplica) FirstJob(*task.Env) task.Job {
	return task.Sequence(t.move(), t.start())
}

// RecoveryJob continues with starting the service if the topology already
// places it on the target node.
func (t *MoveReplica) RecoveryJob(*task.Env) task.Job {
	return task.JobFunc(func(ctx context.Context, env *task.Env) task.NextJob {
		topo, err := env.Topology()
		if err != nil {
			return task.Fail(err)
		}
		_, n := topo.FindNode(t.Service)
		switch {
		case n == nil:
			return task.Fail(metadata.NotFound("service %s", t.Service))
		case strings.EqualFold(n.StorageNode, t.To):
			env.Logger().Infof("%s already placed on %s, starting it", t.Service, t.To)
			return task.Continue(t.start(), 0, "resuming after interruption")
		default:
			return task.Continue(t.FirstJob(env), 0, "restarting after interruption")
		}
	})
}

func (t *MoveReplica) LogicalCompare(other task.Task) bool {
	o, ok := other.(*MoveReplica)
	return ok && strings.EqualFold(t.Service, o.Service) &&
		strings.EqualFold(t.From, o.From) && strings.EqualFold(t.To, o.To)
}

// WaitMetadata waits until every storage node runs at least the current version of
// a metadata kind. Nodes that are behind get the current version pushed again.
type WaitMetadata struct {
	task.Base
	Metadata metadata.Kind `json:"metadata"`
}

func (t *WaitMetadata) Kind() string { return KindWaitMetadata }
func (t *WaitMetadata) Name() string { return fmt.Sprintf("wait for %s metadata propagation", t.Metadata) }

func (t *WaitMetadata) Locks(*task.Env) ([]lockmgr.Request, error) { return nil, nil }

func (t *WaitMetadata) FirstJob(*task.Env) task.Job {
	return task.PollJob(string(t.Metadata)+" metadata propagation", func(ctx context.Context, env *task.Env) (task.PollStatus, error) {
		md, err := env.Metadata.Read(t.Metadata)
		if err != nil {
			return task.PollPending, err
		}
		status, err := pollNodes(ctx, env, func(ctx context.Context, api cluster.INodeAPI) (bool, error) {
			seq, err := api.MetadataSeq(ctx, string(t.Metadata))
			return seq >= md.Sequence(), err
		})
		if status == task.PollPending && err == nil && env.Broadcaster != nil {
			if err := env.Broadcaster.Broadcast(ctx, md); err != nil {
				env.Logger().Debugf("re-broadcast of %s metadata seq %d incomplete: %v", t.Metadata, md.Sequence(), err)
			}
		}
		return status, err
	})
}

// LogicalCompare matches a wait for the same metadata kind.
func (t *WaitMetadata) LogicalCompare(other task.Task) bool {
	o, ok := other.(*WaitMetadata)
	return ok && t.Metadata == o.Metadata
}
