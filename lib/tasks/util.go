package tasks

import (
	"context"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("tasks")

// nodeFanOut limits concurrent node calls of one poll.
const nodeFanOut = 8

func init() {
	task.Register(KindAddTable, func() task.Task { return &AddTable{} })
	task.Register(KindRemoveTable, func() task.Task { return &RemoveTable{} })
	task.Register(KindAddIndex, func() task.Task { return &AddIndex{} })
	task.Register(KindRemoveIndex, func() task.Task { return &RemoveIndex{} })
	task.Register(KindWaitIndexPopulation, func() task.Task { return &WaitIndexPopulation{} })
	task.Register(KindMarkIndexReady, func() task.Task { return &MarkIndexReady{} })
	task.Register(KindCreateNamespace, func() task.Task { return &CreateNamespace{} })
	task.Register(KindRemoveNamespace, func() task.Task { return &RemoveNamespace{} })
	task.Register(KindCreateRegion, func() task.Task { return &CreateRegion{} })
	task.Register(KindRemoveRegion, func() task.Task { return &RemoveRegion{} })
	task.Register(KindSetLocalRegion, func() task.Task { return &SetLocalRegion{} })
	task.Register(KindStartService, func() task.Task { return &StartService{} })
	task.Register(KindStopService, func() task.Task { return &StopService{} })
	task.Register(KindUpdateParams, func() task.Task { return &UpdateParams{} })
	task.Register(KindUpdateCredentialHash, func() task.Task { return &UpdateCredentialHash{} })
	task.Register(KindVerifyCredentials, func() task.Task { return &VerifyCredentials{} })
	task.Register(KindChangeReplicationFactor, func() task.Task { return &ChangeReplicationFactor{} })
	task.Register(KindMoveReplica, func() task.Task { return &MoveReplica{} })
	task.Register(KindWaitMetadata, func() task.Task { return &WaitMetadata{} })
}

// sameID compares captured identities. An empty id was not captured and matches anything.
func sameID(captured, current string) bool {
	return captured == "" || strings.EqualFold(captured, current)
}

// updateTables runs a table catalog update with the env's store and broadcaster.
func updateTables(ctx context.Context, env *task.Env, mutate func(c *metadata.TableCatalog) error) error {
	_, _, err := metadata.Update(ctx, env.Metadata, env.Broadcaster, metadata.KindTable, mutate)
	return err
}

func updateRegions(ctx context.Context, env *task.Env, mutate func(c *metadata.RegionCatalog) error) error {
	_, _, err := metadata.Update(ctx, env.Metadata, env.Broadcaster, metadata.KindRegion, mutate)
	return err
}

func updateSecurity(ctx context.Context, env *task.Env, mutate func(c *metadata.SecurityCatalog) error) error {
	_, _, err := metadata.Update(ctx, env.Metadata, env.Broadcaster, metadata.KindSecurity, mutate)
	return err
}

func updateTopology(ctx context.Context, env *task.Env, mutate func(t *metadata.Topology) error) error {
	_, _, err := metadata.Update(ctx, env.Metadata, env.Broadcaster, metadata.KindTopology, mutate)
	return err
}

// pollNodes asks every storage node of the current topology and reports PollDone
// only when check returned true for all of them.
func pollNodes(ctx context.Context, env *task.Env, check func(ctx context.Context, api cluster.INodeAPI) (bool, error)) (task.PollStatus, error) {
	topo, err := env.Topology()
	if err != nil {
		return task.PollPending, err
	}
	nodes := topo.SortedStorageNodes()
	done := make([]bool, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nodeFanOut)
	for i, sn := range nodes {
		g.Go(func() error {
			api, err := env.Dialer.Dial(sn.ID, sn.Endpoint)
			if err != nil {
				return &cluster.NetworkError{Node: sn.ID, Err: err}
			}
			ok, err := check(gctx, api)
			done[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return task.PollPending, err
	}
	for _, ok := range done {
		if !ok {
			return task.PollPending, nil
		}
	}
	return task.PollDone, nil
}
