package tasks

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindStartService = "start-service"
	KindStopService  = "stop-service"
	KindUpdateParams = "update-params"
)

// serviceLocks locks a service and reads its replication group.
func serviceLocks(env *task.Env, service string) ([]lockmgr.Request, error) {
	topo, err := env.Topology()
	if err != nil {
		return nil, err
	}
	g, n := topo.FindNode(service)
	if n == nil {
		return nil, metadata.NotFound("service %s", service)
	}
	return lockmgr.TopologyNode(g.ID, n.ID), nil
}

// nodeCall returns a RetryJob calling fn on the agent of a storage node.
func nodeCall(storageNode string, fn func(ctx context.Context, api cluster.INodeAPI) error) task.Job {
	return task.RetryJob(storageNode, func(ctx context.Context, env *task.Env) error {
		api, err := env.Node(storageNode)
		if err != nil {
			return err
		}
		return fn(ctx, api)
	})
}

// StartService starts a replication or arbiter node on its storage node.
type StartService struct {
	task.Base
	StorageNode string `json:"storageNode"`
	Service     string `json:"service"`
}

func (t *StartService) Kind() string { return KindStartService }
func (t *StartService) Name() string { return fmt.Sprintf("start %s on %s", t.Service, t.StorageNode) }

func (t *StartService) Locks(env *task.Env) ([]lockmgr.Request, error) {
	return serviceLocks(env, t.Service)
}

func (t *StartService) FirstJob(*task.Env) task.Job {
	return nodeCall(t.StorageNode, func(ctx context.Context, api cluster.INodeAPI) error {
		return api.StartService(ctx, t.Service)
	})
}

func (t *StartService) LogicalCompare(other task.Task) bool {
	o, ok := other.(*StartService)
	return ok && strings.EqualFold(t.StorageNode, o.StorageNode) && strings.EqualFold(t.Service, o.Service)
}

// StopService stops a service. Stopping a stopped service succeeds.
type StopService struct {
	task.Base
	StorageNode string `json:"storageNode"`
	Service     string `json:"service"`
}

func (t *StopService) Kind() string { return KindStopService }
func (t *StopService) Name() string { return fmt.Sprintf("stop %s on %s", t.Service, t.StorageNode) }

func (t *StopService) Locks(env *task.Env) ([]lockmgr.Request, error) {
	return serviceLocks(env, t.Service)
}

func (t *StopService) FirstJob(*task.Env) task.Job {
	return nodeCall(t.StorageNode, func(ctx context.Context, api cluster.INodeAPI) error {
		return api.StopService(ctx, t.Service)
	})
}

func (t *StopService) LogicalCompare(other task.Task) bool {
	o, ok := other.(*StopService)
	return ok && strings.EqualFold(t.StorageNode, o.StorageNode) && strings.EqualFold(t.Service, o.Service)
}

// UpdateParams pushes new parameters to a service.
type UpdateParams struct {
	task.Base
	StorageNode string            `json:"storageNode"`
	Service     string            `json:"service"`
	Params      map[string]string `json:"params"`
}

func (t *UpdateParams) Kind() string { return KindUpdateParams }
func (t *UpdateParams) Name() string {
	return fmt.Sprintf("update %d params of %s on %s", len(t.Params), t.Service, t.StorageNode)
}

func (t *UpdateParams) Locks(env *task.Env) ([]lockmgr.Request, error) {
	return serviceLocks(env, t.Service)
}

func (t *UpdateParams) FirstJob(*task.Env) task.Job {
	return nodeCall(t.StorageNode, func(ctx context.Context, api cluster.INodeAPI) error {
		return api.PushParams(ctx, t.Service, t.Params)
	})
}

func (t *UpdateParams) LogicalCompare(other task.Task) bool {
	o, ok := other.(*UpdateParams)
	return ok && strings.EqualFold(t.StorageNode, o.StorageNode) && strings.EqualFold(t.Service, o.Service) &&
		maps.Equal(t.Params, o.Params)
}
