package metadata

import (
	"fmt"
	"sort"
)

// NodeType is the role of a service hosted on a storage node.
type NodeType string

const (
	ReplicationNode NodeType = "rn"
	ArbiterNode     NodeType = "an"
)

// StorageNode is a host process running the node agent.
type StorageNode struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// RepNode is a service (replication or arbiter node) placed on a storage node.
type RepNode struct {
	ID          string   `json:"id"`
	Type        NodeType `json:"type"`
	StorageNode string   `json:"storageNode"`
}

// RepGroup is a replication group (shard) and its nodes.
type RepGroup struct {
	ID    string              `json:"id"`
	Nodes map[string]*RepNode `json:"nodes"`
}

// NodeIDs returns the ids of the group's nodes, sorted.
func (g *RepGroup) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Topology describes the storage nodes and the placement of services on them.
type Topology struct {
	Seq               uint64                  `json:"seq"`
	ReplicationFactor int                     `json:"replicationFactor"`
	StorageNodes      map[string]*StorageNode `json:"storageNodes"`
	Groups            map[string]*RepGroup    `json:"groups"`
	Params            map[string]string       `json:"params,omitempty"`
}

// NewTopology returns an empty topology with replication factor 1.
func NewTopology() *Topology {
	return &Topology{
		ReplicationFactor: 1,
		StorageNodes:      make(map[string]*StorageNode),
		Groups:            make(map[string]*RepGroup),
	}
}

func (t *Topology) Kind() Kind             { return KindTopology }
func (t *Topology) Sequence() uint64       { return t.Seq }
func (t *Topology) setSequence(seq uint64) { t.Seq = seq }

// StorageNode looks up a storage node by id.
func (t *Topology) StorageNode(id string) *StorageNode {
	return t.StorageNodes[nameKey(id)]
}

// PutStorageNode adds or replaces a storage node.
func (t *Topology) PutStorageNode(sn *StorageNode) {
	t.StorageNodes[nameKey(sn.ID)] = sn
}

// SortedStorageNodes returns all storage nodes ordered by id.
func (t *Topology) SortedStorageNodes() []*StorageNode {
	out := make([]*StorageNode, 0, len(t.StorageNodes))
	for _, sn := range t.StorageNodes {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group looks up a replication group by id.
func (t *Topology) Group(id string) *RepGroup {
	return t.Groups[nameKey(id)]
}

// PutGroup adds or replaces a replication group.
func (t *Topology) PutGroup(g *RepGroup) {
	if g.Nodes == nil {
		g.Nodes = make(map[string]*RepNode)
	}
	t.Groups[nameKey(g.ID)] = g
}

// FindNode returns the node with the given id and its group.
func (t *Topology) FindNode(id string) (*RepGroup, *RepNode) {
	key := nameKey(id)
	for _, g := range t.Groups {
		for nodeKey, n := range g.Nodes {
			if nameKey(nodeKey) == key {
				return g, n
			}
		}
	}
	return nil, nil
}

// ServicesOn returns the nodes placed on a storage node, sorted by id.
func (t *Topology) ServicesOn(sn string) []*RepNode {
	var out []*RepNode
	for _, g := range t.Groups {
		for _, n := range g.Nodes {
			if nameKey(n.StorageNode) == nameKey(sn) {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks that every node references an existing storage node and that
// groups do not exceed the replication factor with replication nodes.
func (t *Topology) Validate() error {
	if t.ReplicationFactor < 1 {
		return &Error{Code: CodeCorrupt, Msg: fmt.Sprintf("replication factor %d", t.ReplicationFactor)}
	}
	for _, g := range t.Groups {
		rns := 0
		for _, n := range g.Nodes {
			if t.StorageNode(n.StorageNode) == nil {
				return &Error{Code: CodeCorrupt, Msg: fmt.Sprintf("node %s references unknown storage node %s", n.ID, n.StorageNode)}
			}
			if n.Type == ReplicationNode {
				rns++
			}
		}
		if rns > t.ReplicationFactor {
			return &Error{Code: CodeCorrupt, Msg: fmt.Sprintf("group %s has %d replication nodes, replication factor is %d", g.ID, rns, t.ReplicationFactor)}
		}
	}
	return nil
}
