package lockmgr

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Category groups lockable resources.
type Category uint8

const (
	CategoryTopology Category = iota + 1 // storage nodes, replication groups and their nodes
	CategoryTable                        // namespaces, tables and indexes
	CategoryRegion                       // named regions
)

func (c Category) String() string {
	switch c {
	case CategoryTopology:
		return "TOPOLOGY"
	case CategoryTable:
		return "TABLE"
	case CategoryRegion:
		return "REGION"
	default:
		return "UNKNOWN"
	}
}

// Mode is the access mode of a lock request.
type Mode uint8

const (
	Read Mode = iota + 1
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "read"
}

// LocalRegionSentinel is the reserved region lock name taken exclusively by
// "set local region name" and in read mode by every remote region operation.
const LocalRegionSentinel = "$local-region$"

// Resource identifies a lockable resource: a category and a path from general to specific.
// Path components are compared case-insensitively.
type Resource struct {
	Category Category
	Path     []string
}

// Key is the canonical string form of the resource, e.g. "TABLE:sales/orders".
func (r Resource) Key() string {
	return r.Category.String() + ":" + strings.ToLower(strings.Join(r.Path, "/"))
}

func (r Resource) String() string {
	return r.Key()
}

// ancestors returns every proper prefix of the resource, most general first.
func (r Resource) ancestors() []Resource {
	out := make([]Resource, 0, len(r.Path))
	for i := 1; i < len(r.Path); i++ {
		out = append(out, Resource{Category: r.Category, Path: r.Path[:i]})
	}
	return out
}

// Request asks for a resource in a mode. Exclusive requests implicitly take read
// locks on all ancestors of the resource, so holding a table blocks dropping its
// namespace and holding a replication node blocks whole-group maintenance.
type Request struct {
	Resource Resource
	Mode     Mode
}

func (r Request) String() string {
	return r.Mode.String() + " " + r.Resource.Key()
}

// --------------------------------------------------------------------------
// Request builders
// --------------------------------------------------------------------------

// StorageNode locks a storage node.
func StorageNode(sn string) []Request {
	return exclusive(CategoryTopology, "sn", sn)
}

// TopologyGroup locks a whole replication group.
func TopologyGroup(group string) []Request {
	return exclusive(CategoryTopology, "rg", group)
}

// TopologyNode locks a replication or arbiter node and reads its replication group.
func TopologyNode(group, node string) []Request {
	return exclusive(CategoryTopology, "rg", group, node)
}

// Namespace locks a namespace for namespace level operations.
func Namespace(ns string) []Request {
	return exclusive(CategoryTable, ns)
}

// TableOf locks a table and reads its namespace.
func TableOf(ns, table string) []Request {
	return exclusive(CategoryTable, ns, table)
}

// Index locks one index of a table. The table itself is only read locked, so two
// plans working on different indexes of the same table do not conflict.
func Index(ns, table, index string) []Request {
	return exclusive(CategoryTable, ns, table, index)
}

// Region locks a named remote region and reads the local region sentinel.
func Region(name string) ([]Request, error) {
	if strings.HasPrefix(name, "$") {
		return nil, errors.Newf("region name %q is reserved", name)
	}
	return []Request{
		{Resource: Resource{Category: CategoryRegion, Path: []string{name}}, Mode: Exclusive},
		{Resource: Resource{Category: CategoryRegion, Path: []string{LocalRegionSentinel}}, Mode: Read},
	}, nil
}

// LocalRegion locks the local region sentinel, serializing a local region rename
// against all remote region operations.
func LocalRegion() []Request {
	return exclusive(CategoryRegion, LocalRegionSentinel)
}

func exclusive(c Category, path ...string) []Request {
	return []Request{{Resource: Resource{Category: c, Path: path}, Mode: Exclusive}}
}
