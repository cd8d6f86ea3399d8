package tasks

import (
	"context"
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindCreateNamespace = "create-namespace"
	KindRemoveNamespace = "remove-namespace"
)

// CreateNamespace creates a namespace. An existing namespace with the same owner
// counts as created, a different owner is an AlreadyExists error.
type CreateNamespace struct {
	task.Base
	Namespace metadata.Namespace `json:"namespace"`
}

func (t *CreateNamespace) Kind() string { return KindCreateNamespace }
func (t *CreateNamespace) Name() string { return "create namespace " + t.Namespace.Name }

func (t *CreateNamespace) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Namespace(t.Namespace.Name), nil
}

func (t *CreateNamespace) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			if cur := c.Namespace(t.Namespace.Name); cur != nil {
				if strings.EqualFold(cur.Owner, t.Namespace.Owner) {
					return metadata.ErrNoChange
				}
				return metadata.AlreadyExists("namespace %s is owned by %q", cur.Name, cur.Owner)
			}
			ns := t.Namespace
			if ns.ID == "" {
				ns.ID = metadata.NewID()
			}
			c.PutNamespace(&ns)
			return nil
		})
	})
}

func (t *CreateNamespace) LogicalCompare(other task.Task) bool {
	o, ok := other.(*CreateNamespace)
	return ok && strings.EqualFold(t.Namespace.Name, o.Namespace.Name) &&
		strings.EqualFold(t.Namespace.Owner, o.Namespace.Owner)
}

// RemoveNamespace drops an empty namespace.
type RemoveNamespace struct {
	task.Base
	Namespace   string `json:"namespace"`
	NamespaceID string `json:"namespaceId,omitempty"`
}

func (t *RemoveNamespace) Kind() string { return KindRemoveNamespace }
func (t *RemoveNamespace) Name() string { return "remove namespace " + t.Namespace }

func (t *RemoveNamespace) Locks(*task.Env) ([]lockmgr.Request, error) {
	return lockmgr.Namespace(t.Namespace), nil
}

func (t *RemoveNamespace) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateTables(ctx, env, func(c *metadata.TableCatalog) error {
			if strings.EqualFold(t.Namespace, metadata.DefaultNamespace) {
				return metadata.Invalid("namespace %s cannot be removed", metadata.DefaultNamespace)
			}
			cur := c.Namespace(t.Namespace)
			if cur == nil || !sameID(t.NamespaceID, cur.ID) {
				return metadata.ErrNoChange
			}
			if tables := c.TablesIn(t.Namespace); len(tables) > 0 {
				return metadata.Invalid("namespace %s still contains %d tables", cur.Name, len(tables))
			}
			c.RemoveNamespace(t.Namespace)
			return nil
		})
	})
}

func (t *RemoveNamespace) LogicalCompare(other task.Task) bool {
	o, ok := other.(*RemoveNamespace)
	return ok && strings.EqualFold(t.Namespace, o.Namespace) && strings.EqualFold(t.NamespaceID, o.NamespaceID)
}
