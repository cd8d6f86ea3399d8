// Package clustertest provides an in-memory fleet of storage node agents for tests.
package clustertest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
)

var errDown = errors.New("connection refused")

// Node is a fake storage node agent.
type Node struct {
	ID string

	mu          sync.Mutex
	unreachable bool
	failCalls   int // remaining calls failing with a network error
	calls       map[string]int
	services    map[string]cluster.ServiceState
	params      map[string]map[string]string
	hashes      map[string]string
	metadata    map[string]uint64
	payloads    map[string][]byte
	indexes     map[string]cluster.IndexStatus
}

func newNode(id string) *Node {
	return &Node{
		ID:       id,
		calls:    make(map[string]int),
		services: make(map[string]cluster.ServiceState),
		params:   make(map[string]map[string]string),
		hashes:   make(map[string]string),
		metadata: make(map[string]uint64),
		payloads: make(map[string][]byte),
		indexes:  make(map[string]cluster.IndexStatus),
	}
}

// SetUnreachable makes every call fail with a network error until reset.
func (n *Node) SetUnreachable(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unreachable = down
}

// FailNext makes the next count calls fail with a network error.
func (n *Node) FailNext(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCalls = count
}

// Calls returns how often a method was invoked, including failed calls.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// SetCredentialHash installs a credential hash under a name.
func (n *Node) SetCredentialHash(name, hash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hashes[name] = hash
}

// SetIndexStatus sets the reported population status of an index.
func (n *Node) SetIndexStatus(ns, table, index string, status cluster.IndexStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.indexes[indexKey(ns, table, index)] = status
}

// SetMetadataSeq forces the metadata version the node reports.
func (n *Node) SetMetadataSeq(kind string, seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metadata[kind] = seq
}

// Service returns the state of a service.
func (n *Node) Service(id string) cluster.ServiceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.services[id]; ok {
		return s
	}
	return cluster.ServiceUnknown
}

// Params returns the parameters last pushed to a service.
func (n *Node) Params(serviceID string) map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params[serviceID]
}

func indexKey(ns, table, index string) string {
	return strings.ToLower(ns + "." + table + "." + index)
}

// enter records a call and reports an injected network failure.
func (n *Node) enter(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
	if n.unreachable {
		return &cluster.NetworkError{Node: n.ID, Err: errDown}
	}
	if n.failCalls > 0 {
		n.failCalls--
		return &cluster.NetworkError{Node: n.ID, Err: errDown}
	}
	return nil
}

func (n *Node) Ping(context.Context) (cluster.NodeStatus, error) {
	if err := n.enter("Ping"); err != nil {
		return cluster.NodeStatus{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	st := cluster.NodeStatus{StorageNode: n.ID, Services: make(map[string]cluster.ServiceState)}
	for k, v := range n.services {
		st.Services[k] = v
	}
	return st, nil
}

func (n *Node) StartService(_ context.Context, id string) error {
	if err := n.enter("StartService"); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.services[id] = cluster.ServiceRunning
	return nil
}

func (n *Node) StopService(_ context.Context, id string) error {
	if err := n.enter("StopService"); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.services[id] = cluster.ServiceStopped
	return nil
}

func (n *Node) DestroyService(_ context.Context, id string) error {
	if err := n.enter("DestroyService"); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.services, id)
	delete(n.params, id)
	return nil
}

func (n *Node) PushParams(_ context.Context, id string, params map[string]string) error {
	if err := n.enter("PushParams"); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	n.params[id] = cp
	return nil
}

func (n *Node) CredentialHashes(context.Context) (map[string]string, error) {
	if err := n.enter("CredentialHashes"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.hashes))
	for k, v := range n.hashes {
		out[k] = v
	}
	return out, nil
}

func (n *Node) PushMetadata(_ context.Context, kind string, seq uint64, payload []byte) error {
	if err := n.enter("PushMetadata"); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if seq >= n.metadata[kind] {
		n.metadata[kind] = seq
		n.payloads[kind] = payload
	}
	return nil
}

func (n *Node) MetadataSeq(_ context.Context, kind string) (uint64, error) {
	if err := n.enter("MetadataSeq"); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metadata[kind], nil
}

func (n *Node) IndexStatus(_ context.Context, ns, table, index string) (cluster.IndexStatus, error) {
	if err := n.enter("IndexStatus"); err != nil {
		return "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.indexes[indexKey(ns, table, index)]; ok {
		return s, nil
	}
	return cluster.IndexStatusUnknown, nil
}

// Fleet is a set of fake nodes. It implements cluster.IDialer.
type Fleet struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewFleet creates nodes with the given storage node ids.
func NewFleet(ids ...string) *Fleet {
	f := &Fleet{nodes: make(map[string]*Node)}
	for _, id := range ids {
		f.nodes[strings.ToLower(id)] = newNode(id)
	}
	return f
}

// Node returns a fake node by storage node id, creating it on first use.
func (f *Fleet) Node(id string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[strings.ToLower(id)]
	if !ok {
		n = newNode(id)
		f.nodes[strings.ToLower(id)] = n
	}
	return n
}

// Dial implements cluster.IDialer.
func (f *Fleet) Dial(storageNodeID, _ string) (cluster.INodeAPI, error) {
	return f.Node(storageNodeID), nil
}
