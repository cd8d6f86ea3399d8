package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindAddTable            = "add-table"
	KindRemoveTable         = "remove-table"
	KindAddIndex            = "add-index"
	KindRemoveIndex         = "remove-index"
	KindWaitIndexPopulation = "wait-index-population"
	KindMarkIndexReady      = "mark-index-ready"
)

// AddTable creates a table. Replaying it when an identical table exists succeeds.
type AddTable struct {
	task.Base
	Table metadata.Table `json:"table"`
}

func (t *AddTable) Kind() string { return KindAddTable }
func (t *AddTable) Name() string { return "add table " + t.Table.FullName() }

func (t *AddTable) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.TableOf(t.Table.Namespace, t.Table.Name), nil
}

func (t *AddTable) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			if c.Namespace(t.Table.Namespace) == nil {
				return metadata.NotFound("namespace %s", t.Table.Namespace)
			}
			if cur := c.Table(t.Table.Namespace, t.Table.Name); cur != nil {
				if cur.SameDefinition(&t.Table) {
					return metadata.ErrNoChange
				}
				return metadata.AlreadyExists("table %s exists with a different definition", cur.FullName())
			}
			tbl := t.Table
			if tbl.ID == "" {
				tbl.ID = metadata.NewID()
			}
			tbl.Indexes = nil
			if err := tbl.Validate(); err != nil {
				return err
			}
			c.PutTable(&tbl)
			return nil
		})
	})
}

// LogicalCompare ignores the description and the id.
func (t *AddTable) LogicalCompare(other task.Task) bool {
	o, ok := other.(*AddTable)
	return ok && t.Table.SameDefinition(&o.Table)
}

// RemoveTable drops a table and its indexes. TableID is the identity captured when
// the plan was built; a table recreated since then is left alone.
type RemoveTable struct {
	task.Base
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
	TableID   string `json:"tableId,omitempty"`
}

func (t *RemoveTable) Kind() string { return KindRemoveTable }
func (t *RemoveTable) Name() string { return "remove table " + t.Namespace + ":" + t.Table }

func (t *RemoveTable) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.TableOf(t.Namespace, t.Table), nil
}

func (t *RemoveTable) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			cur := c.Table(t.Namespace, t.Table)
			if cur == nil {
				return metadata.ErrNoChange
			}
			if !sameID(t.TableID, cur.ID) {
				env.Logger().Infof("table %s was recreated (id %s, expected %s), nothing to remove", cur.FullName(), cur.ID, t.TableID)
				return metadata.ErrNoChange
			}
			c.RemoveTable(t.Namespace, t.Table)
			return nil
		})
	})
}

func (t *RemoveTable) LogicalCompare(other task.Task) bool {
	o, ok := other.(*RemoveTable)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) &&
		strings.EqualFold(t.Table, o.Table) && strings.EqualFold(t.TableID, o.TableID)
}

// AddIndex defines a new index in state POPULATING.
type AddIndex struct {
	task.Base
	Namespace string         `json:"namespace"`
	Table     string         `json:"table"`
	TableID   string         `json:"tableId,omitempty"`
	Index     metadata.Index `json:"index"`
}

func (t *AddIndex) Kind() string { return KindAddIndex }
func (t *AddIndex) Name() string {
	return fmt.Sprintf("add index %s on %s:%s", t.Index.Name, t.Namespace, t.Table)
}

func (t *AddIndex) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Index(t.Namespace, t.Table, t.Index.Name), nil
}

func (t *AddIndex) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			tbl := c.Table(t.Namespace, t.Table)
			if tbl == nil || !sameID(t.TableID, tbl.ID) {
				return metadata.NotFound("table %s:%s", t.Namespace, t.Table)
			}
			for _, f := range t.Index.Fields {
				if !tbl.HasField(f) {
					return metadata.Invalid("table %s has no field %q", tbl.FullName(), f)
				}
			}
			if cur := tbl.Index(t.Index.Name); cur != nil {
				if cur.SameDefinition(&t.Index) {
					return metadata.ErrNoChange
				}
				return metadata.AlreadyExists("index %s on %s exists with different fields", cur.Name, tbl.FullName())
			}
			idx := t.Index
			if idx.ID == "" {
				idx.ID = metadata.NewID()
			}
			idx.State = metadata.IndexPopulating
			tbl.PutIndex(&idx)
			return nil
		})
	})
}

func (t *AddIndex) LogicalCompare(other task.Task) bool {
	o, ok := other.(*AddIndex)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) && strings.EqualFold(t.Table, o.Table) &&
		strings.EqualFold(t.TableID, o.TableID) && t.Index.SameDefinition(&o.Index)
}

// RemoveIndex drops an index. IndexID is the identity captured when the plan was built.
type RemoveIndex struct {
	task.Base
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
	Index     string `json:"index"`
	IndexID   string `json:"indexId,omitempty"`
}

func (t *RemoveIndex) Kind() string { return KindRemoveIndex }
func (t *RemoveIndex) Name() string {
	return fmt.Sprintf("remove index %s on %s:%s", t.Index, t.Namespace, t.Table)
}

func (t *RemoveIndex) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Index(t.Namespace, t.Table, t.Index), nil
}

func (t *RemoveIndex) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			tbl := c.Table(t.Namespace, t.Table)
			if tbl == nil {
				return metadata.ErrNoChange
			}
			idx := tbl.Index(t.Index)
			if idx == nil || !sameID(t.IndexID, idx.ID) {
				return metadata.ErrNoChange
			}
			tbl.RemoveIndex(t.Index)
			return nil
		})
	})
}

func (t *RemoveIndex) LogicalCompare(other task.Task) bool {
	o, ok := other.(*RemoveIndex)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) && strings.EqualFold(t.Table, o.Table) &&
		strings.EqualFold(t.Index, o.Index) && strings.EqualFold(t.IndexID, o.IndexID)
}

// WaitIndexPopulation waits until every storage node reports the index populated.
// An index that was removed in the meantime ends the wait successfully.
type WaitIndexPopulation struct {
	task.Base
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
	Index     string `json:"index"`
}

func (t *WaitIndexPopulation) Kind() string { return KindWaitIndexPopulation }
func (t *WaitIndexPopulation) Name() string {
	return fmt.Sprintf("wait for index %s on %s:%s", t.Index, t.Namespace, t.Table)
}

func (t *WaitIndexPopulation) Locks(*task.Env) ([]lockmgr.Request, error) { return nil, nil }

func (t *WaitIndexPopulation) FirstJob(*task.Env) task.Job {
	return task.PollJob("population of index "+t.Index, func(ctx context.Context, env *task.Env) (task.PollStatus, error) {
		c, err := env.Metadata.ReadTables()
		if err != nil {
			return task.PollPending, err
		}
		tbl := c.Table(t.Namespace, t.Table)
		if tbl == nil || tbl.Index(t.Index) == nil {
			return task.PollGone, nil
		}
		if tbl.Index(t.Index).State == metadata.IndexReady {
			return task.PollDone, nil
		}
		return pollNodes(ctx, env, func(ctx context.Context, api cluster.INodeAPI) (bool, error) {
			status, err := api.IndexStatus(ctx, t.Namespace, t.Table, t.Index)
			return status == cluster.IndexStatusReady, err
		})
	})
}

// LogicalCompare matches a wait for the same index.
func (t *WaitIndexPopulation) LogicalCompare(other task.Task) bool {
	o, ok := other.(*WaitIndexPopulation)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) &&
		strings.EqualFold(t.Table, o.Table) && strings.EqualFold(t.Index, o.Index)
}

// MarkIndexReady flips a populated index to READY.
type MarkIndexReady struct {
	task.Base
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
	Index     string `json:"index"`
}

func (t *MarkIndexReady) Kind() string { return KindMarkIndexReady }
func (t *MarkIndexReady) Name() string {
	return fmt.Sprintf("mark index %s on %s:%s ready", t.Index, t.Namespace, t.Table)
}

func (t *MarkIndexReady) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Index(t.Namespace, t.Table, t.Index), nil
}

func (t *MarkIndexReady) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			tbl := c.Table(t.Namespace, t.Table)
			if tbl == nil || tbl.Index(t.Index) == nil {
				env.Logger().Infof("index %s on %s:%s is gone, nothing to mark", t.Index, t.Namespace, t.Table)
				return metadata.ErrNoChange
			}
			idx := tbl.Index(t.Index)
			if idx.State == metadata.IndexReady {
				return metadata.ErrNoChange
			}
			idx.State = metadata.IndexReady
			return nil
		})
	})
}

func (t *MarkIndexReady) LogicalCompare(other task.Task) bool {
	o, ok := other.(*MarkIndexReady)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) && strings.EqualFold(t.Table, o.Table) &&
		strings.EqualFold(t.Index, o.Index)
}
