package tasks

import (
	"context"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindCreateRegion   = "create-region"
	KindRemoveRegion   = "remove-region"
	KindSetLocalRegion = "set-local-region"
)

// CreateRegion registers a remote region.
type CreateRegion struct {
	task.Base
	Region metadata.Region `json:"region"`
}

func (t *CreateRegion) Kind() string { return KindCreateRegion }
func (t *CreateRegion) Name() string { return "create region " + t.Region.Name }

func (t *CreateRegion) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Region(t.Region.Name)
}

func (t *CreateRegion) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateRegions(ctx, env, func(c *metadata.RegionCatalog) error {
			if strings.EqualFold(c.LocalName, t.Region.Name) {
				return metadata.Invalid("%s is the name of the local region", t.Region.Name)
			}
			if c.Region(t.Region.Name) != nil {
				return metadata.ErrNoChange
			}
			r := t.Region
			if r.ID == "" {
				r.ID = metadata.NewID()
			}
			c.PutRegion(&r)
			return nil
		})
	})
}

func (t *CreateRegion) LogicalCompare(other task.Task) bool {
	o, ok := other.(*CreateRegion)
	return ok && strings.EqualFold(t.Region.Name, o.Region.Name)
}

// RemoveRegion drops a remote region registered under RegionID.
type RemoveRegion struct {
	task.Base
	Region   string `json:"region"`
	RegionID string `json:"regionId,omitempty"`
}

func (t *RemoveRegion) Kind() string { return KindRemoveRegion }
func (t *RemoveRegion) Name() string { return "remove region " + t.Region }

func (t *RemoveRegion) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Region(t.Region)
}

func (t *RemoveRegion) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateRegions(ctx, env, func(c *metadata.RegionCatalog) error {
			cur := c.Region(t.Region)
			if cur == nil || !sameID(t.RegionID, cur.ID) {
				return metadata.ErrNoChange
			}
			c.RemoveRegion(t.Region)
			return nil
		})
	})
}

func (t *RemoveRegion) LogicalCompare(other task.Task) bool {
	o, ok := other.(*RemoveRegion)
	return ok && strings.EqualFold(t.Region, o.Region) && strings.EqualFold(t.RegionID, o.RegionID)
}

// SetLocalRegion names the local region. It locks the local region sentinel, so it
// is serialized against every remote region operation.
type SetLocalRegion struct {
	task.Base
	Region string `json:"region"`
}

func (t *SetLocalRegion) Kind() string { return KindSetLocalRegion }
func (t *SetLocalRegion) Name() string { return "set local region " + t.Region }

func (t *SetLocalRegion) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.LocalRegion(), nil
}

func (t *SetLocalRegion) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateRegions(ctx, env, func(c *metadata.RegionCatalog) error {
			if c.LocalName == t.Region {
				return metadata.ErrNoChange
			}
			if c.Region(t.Region) != nil {
				return metadata.AlreadyExists("%s is a remote region", t.Region)
			}
			c.LocalName = t.Region
			return nil
		})
	})
}

func (t *SetLocalRegion) LogicalCompare(other task.Task) bool {
	o, ok := other.(*SetLocalRegion)
	return ok && t.Region == o.Region
}
