package tasks

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

// A builder turns an operator intent into a plan name and task list. Builders that
// target existing entities read the current metadata and capture their ids.

// waitFor returns a propagation wait that does not fail the plan on its own.
func waitFor(kind metadata.Kind) *WaitMetadata {
	return &WaitMetadata{Base: task.Base{ContinueOnError: true}, Metadata: kind}
}

// CreateTablePlan builds the plan creating a table.
func CreateTablePlan(t metadata.Table) (string, *task.List, error) {
	if t.Namespace == "" {
		t.Namespace = metadata.DefaultNamespace
	}
	if err := t.Validate(); err != nil {
		return "", nil, err
	}
	if t.ID == "" {
		t.ID = metadata.NewID()
	}
	t.Indexes = nil
	list := task.NewList(task.Serial).Add(&AddTable{Table: t}, waitFor(metadata.KindTable))
	return "create-table " + t.FullName(), list, nil
}

// DropTablePlan builds the plan dropping an existing table.
func DropTablePlan(md *metadata.Store, ns, name string) (string, *task.List, error) {
	c, err := md.ReadTables()
	if err != nil {
		return "", nil, err
	}
	tbl := c.Table(ns, name)
	if tbl == nil {
		return "", nil, metadata.NotFound("table %s:%s", ns, name)
	}
	list := task.NewList(task.Serial).Add(
		&RemoveTable{Namespace: tbl.Namespace, Table: tbl.Name, TableID: tbl.ID},
		waitFor(metadata.KindTable),
	)
	return "drop-table " + tbl.FullName(), list, nil
}

// AddIndexPlan builds the plan adding an index and waiting for its population.
func AddIndexPlan(md *metadata.Store, ns, table string, idx metadata.Index) (string, *task.List, error) {
	c, err := md.ReadTables()
	if err != nil {
		return "", nil, err
	}
	tbl := c.Table(ns, table)
	if tbl == nil {
		return "", nil, metadata.NotFound("table %s:%s", ns, table)
	}
	if idx.Name == "" || len(idx.Fields) == 0 {
		return "", nil, metadata.Invalid("index needs a name and at least one field")
	}
	if idx.ID == "" {
		idx.ID = metadata.NewID()
	}
	list := task.NewList(task.Serial).Add(
		&AddIndex{Namespace: tbl.Namespace, Table: tbl.Name, TableID: tbl.ID, Index: idx},
		waitFor(metadata.KindTable),
		&WaitIndexPopulation{Namespace: tbl.Namespace, Table: tbl.Name, Index: idx.Name},
		&MarkIndexReady{Namespace: tbl.Namespace, Table: tbl.Name, Index: idx.Name},
		waitFor(metadata.KindTable),
	)
	return fmt.Sprintf("add-index %s.%s", tbl.FullName(), idx.Name), list, nil
}

// DropIndexPlan builds the plan dropping an index.
func DropIndexPlan(md *metadata.Store, ns, table, index string) (string, *task.List, error) {
	c, err := md.ReadTables()
	if err != nil {
		return "", nil, err
	}
	tbl := c.Table(ns, table)
	if tbl == nil || tbl.Index(index) == nil {
		return "", nil, metadata.NotFound("index %s on %s:%s", index, ns, table)
	}
	idx := tbl.Index(index)
	list := task.NewList(task.Serial).Add(
		&RemoveIndex{Namespace: tbl.Namespace, Table: tbl.Name, Index: idx.Name, IndexID: idx.ID},
		waitFor(metadata.KindTable),
	)
	return fmt.Sprintf("drop-index %s.%s", tbl.FullName(), idx.Name), list, nil
}

// CreateNamespacePlan builds the plan creating a namespace.
func CreateNamespacePlan(name, owner string) (string, *task.List, error) {
	if name == "" {
		return "", nil, metadata.Invalid("namespace needs a name")
	}
	list := task.NewList(task.Serial).Add(
		&CreateNamespace{Namespace: metadata.Namespace{ID: metadata.NewID(), Name: name, Owner: owner}},
		waitFor(metadata.KindTable),
	)
	return "create-namespace " + name, list, nil
}

// DropNamespacePlan builds the plan dropping an empty namespace.
func DropNamespacePlan(md *metadata.Store, name string) (string, *task.List, error) {
	c, err := md.ReadTables()
	if err != nil {
		return "", nil, err
	}
	ns := c.Namespace(name)
	if ns == nil {
		return "", nil, metadata.NotFound("namespace %s", name)
	}
	list := task.NewList(task.Serial).Add(
		&RemoveNamespace{Namespace: ns.Name, NamespaceID: ns.ID},
		waitFor(metadata.KindTable),
	)
	return "drop-namespace " + ns.Name, list, nil
}

// CreateRegionPlan builds the plan registering a remote region.
func CreateRegionPlan(name string) (string, *task.List, error) {
	if name == "" {
		return "", nil, metadata.Invalid("region needs a name")
	}
	list := task.NewList(task.Serial).Add(
		&CreateRegion{Region: metadata.Region{Name: name}},
		waitFor(metadata.KindRegion),
	)
	return "create-region " + name, list, nil
}

// DropRegionPlan builds the plan removing a remote region.
func DropRegionPlan(md *metadata.Store, name string) (string, *task.List, error) {
	c, err := md.ReadRegions()
	if err != nil {
		return "", nil, err
	}
	r := c.Region(name)
	if r == nil {
		return "", nil, metadata.NotFound("region %s", name)
	}
	list := task.NewList(task.Serial).Add(
		&RemoveRegion{Region: r.Name, RegionID: r.ID},
		waitFor(metadata.KindRegion),
	)
	return "drop-region " + r.Name, list, nil
}

// SetLocalRegionPlan builds the plan naming the local region.
func SetLocalRegionPlan(name string) (string, *task.List, error) {
	if name == "" {
		return "", nil, metadata.Invalid("region needs a name")
	}
	list := task.NewList(task.Serial).Add(&SetLocalRegion{Region: name}, waitFor(metadata.KindRegion))
	return "set-local-region " + name, list, nil
}

// DeployParamsPlan builds the plan pushing params to every service. Storage nodes are
// updated in parallel, the services of one storage node one after another.
func DeployParamsPlan(md *metadata.Store, params map[string]string) (string, *task.List, error) {
	if len(params) == 0 {
		return "", nil, metadata.Invalid("no parameters given")
	}
	topo, err := md.ReadTopology()
	if err != nil {
		return "", nil, err
	}
	list := task.NewList(task.Parallel)
	for _, sn := range topo.SortedStorageNodes() {
		services := topo.ServicesOn(sn.ID)
		if len(services) == 0 {
			continue
		}
		perNode := task.NewList(task.Serial)
		for _, svc := range services {
			perNode.Add(&UpdateParams{StorageNode: sn.ID, Service: svc.ID, Params: params})
		}
		list.AddList(perNode)
	}
	if list.Size() == 0 {
		return "", nil, metadata.Invalid("topology has no services")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("deploy-params %v", keys), list, nil
}

// RotateCredentialsPlan builds the plan recording a new credential hash and verifying
// that every storage node installed it.
func RotateCredentialsPlan(hash string) (string, *task.List, error) {
	if hash == "" {
		return "", nil, metadata.Invalid("empty credential hash")
	}
	list := task.NewList(task.Serial).Add(
		&UpdateCredentialHash{Hash: hash},
		waitFor(metadata.KindSecurity),
		&VerifyCredentials{},
	)
	return "rotate-credentials " + short(hash), list, nil
}

// ChangeReplicationFactorPlan builds the plan changing the replication factor.
func ChangeReplicationFactorPlan(factor int) (string, *task.List, error) {
	if factor < 1 {
		return "", nil, metadata.Invalid("replication factor must be at least 1")
	}
	list := task.NewList(task.Serial).Add(
		&ChangeReplicationFactor{Factor: factor},
		waitFor(metadata.KindTopology),
	)
	return fmt.Sprintf("change-rf %d", factor), list, nil
}

// ReplaceNodePlan builds the plan moving every service of a failed storage node to a
// replacement node.
func ReplaceNodePlan(md *metadata.Store, from, to string) (string, *task.List, error) {
	topo, err := md.ReadTopology()
	if err != nil {
		return "", nil, err
	}
	if topo.StorageNode(from) == nil {
		return "", nil, metadata.NotFound("storage node %s", from)
	}
	if topo.StorageNode(to) == nil {
		return "", nil, metadata.NotFound("storage node %s", to)
	}
	services := topo.ServicesOn(from)
	if len(services) == 0 {
		return "", nil, metadata.Invalid("storage node %s hosts no services", from)
	}
	moves := task.NewList(task.Parallel)
	for _, svc := range services {
		moves.Add(&MoveReplica{Base: task.Base{NoRestart: true}, Service: svc.ID, From: from, To: to})
	}
	list := task.NewList(task.Serial).AddList(moves).Add(waitFor(metadata.KindTopology))
	return fmt.Sprintf("replace-node %s %s", from, to), list, nil
}

// RestartServicePlan builds the plan stopping and starting one service.
func RestartServicePlan(md *metadata.Store, service string) (string, *task.List, error) {
	topo, err := md.ReadTopology()
	if err != nil {
		return "", nil, err
	}
	_, n := topo.FindNode(service)
	if n == nil {
		return "", nil, metadata.NotFound("service %s", service)
	}
	list := task.NewList(task.Serial).Add(
		&StopService{StorageNode: n.StorageNode, Service: n.ID},
		&StartService{StorageNode: n.StorageNode, Service: n.ID},
	)
	return "restart-service " + n.ID, list, nil
}
