package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var agentLog = logger.GetLogger("agent")

// appliedMetadata is the newest metadata version of a kind the agent accepted
type appliedMetadata struct {
	seq     uint64
	payload []byte
}

// Agent is the administrative side of a storage node: it owns the state of the
// services placed on the node, their parameters, the installed credentials and
// the metadata versions pushed by the admin service. It implements cluster.INodeAPI.
//
// Secondary indexes announced in a table catalog are populated in the background,
// an index reports READY once PopulateDelay passed since the agent first saw it.
type Agent struct {
	id            string
	populateDelay time.Duration
	now           func() time.Time

	services *xsync.MapOf[string, cluster.ServiceState]
	params   *xsync.MapOf[string, map[string]string]
	hashes   *xsync.MapOf[string, string]
	metadata *xsync.MapOf[string, appliedMetadata]
	indexes  *xsync.MapOf[string, time.Time] // index key -> ready at
}

var _ cluster.INodeAPI = (*Agent)(nil)

// NewAgent creates the agent of a storage node.
func NewAgent(storageNodeID string, populateDelay time.Duration) *Agent {
	return &Agent{
		id:            storageNodeID,
		populateDelay: populateDelay,
		now:           time.Now,
		services:      xsync.NewMapOf[string, cluster.ServiceState](),
		params:        xsync.NewMapOf[string, map[string]string](),
		hashes:        xsync.NewMapOf[string, string](),
		metadata:      xsync.NewMapOf[string, appliedMetadata](),
		indexes:       xsync.NewMapOf[string, time.Time](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cluster.INodeAPI)
// --------------------------------------------------------------------------

func (a *Agent) Ping(context.Context) (cluster.NodeStatus, error) {
	status := cluster.NodeStatus{StorageNode: a.id, Services: make(map[string]cluster.ServiceState)}
	a.services.Range(func(id string, state cluster.ServiceState) bool {
		status.Services[id] = state
		return true
	})
	return status, nil
}

func (a *Agent) StartService(_ context.Context, serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("service id is empty")
	}
	if prev, loaded := a.services.LoadAndStore(serviceID, cluster.ServiceRunning); !loaded || prev != cluster.ServiceRunning {
		agentLog.Infof("started service %s", serviceID)
	}
	return nil
}

func (a *Agent) StopService(_ context.Context, serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("service id is empty")
	}
	if prev, loaded := a.services.LoadAndStore(serviceID, cluster.ServiceStopped); loaded && prev != cluster.ServiceStopped {
		agentLog.Infof("stopped service %s", serviceID)
	}
	return nil
}

func (a *Agent) DestroyService(_ context.Context, serviceID string) error {
	if _, loaded := a.services.LoadAndDelete(serviceID); loaded {
		agentLog.Infof("destroyed service %s", serviceID)
	}
	a.params.Delete(serviceID)
	return nil
}

func (a *Agent) PushParams(_ context.Context, serviceID string, params map[string]string) error {
	if serviceID == "" {
		return fmt.Errorf("service id is empty")
	}
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	a.params.Store(serviceID, cp)
	agentLog.Infof("installed %d parameters for service %s", len(cp), serviceID)
	return nil
}

func (a *Agent) CredentialHashes(context.Context) (map[string]string, error) {
	out := make(map[string]string)
	a.hashes.Range(func(name, hash string) bool {
		out[name] = hash
		return true
	})
	return out, nil
}

func (a *Agent) PushMetadata(_ context.Context, kind string, seq uint64, payload []byte) error {
	md, err := metadata.Decode(metadata.Kind(kind), payload)
	if err != nil {
		return err
	}
	if md.Sequence() != seq {
		return fmt.Errorf("%s metadata payload has sequence %d, announced %d", kind, md.Sequence(), seq)
	}

	accepted := false
	a.metadata.Compute(kind, func(old appliedMetadata, loaded bool) (appliedMetadata, bool) {
		if loaded && old.seq > seq {
			return old, false
		}
		accepted = true
		return appliedMetadata{seq: seq, payload: payload}, false
	})
	vm.GetOrCreateCounter(fmt.Sprintf(`dkvagent_metadata_pushes_total{kind=%q,accepted="%t"}`, kind, accepted)).Inc()
	if !accepted {
		agentLog.Debugf("ignored stale %s metadata seq %d", kind, seq)
		return nil
	}

	switch m := md.(type) {
	case *metadata.TableCatalog:
		a.applyTables(m)
	case *metadata.SecurityCatalog:
		if m.CredentialHash != "" {
			a.hashes.Store(cluster.CredentialTLS, m.CredentialHash)
		}
	}
	agentLog.Debugf("applied %s metadata seq %d", kind, seq)
	return nil
}

func (a *Agent) MetadataSeq(_ context.Context, kind string) (uint64, error) {
	applied, _ := a.metadata.Load(kind)
	return applied.seq, nil
}

func (a *Agent) IndexStatus(_ context.Context, namespace, table, index string) (cluster.IndexStatus, error) {
	readyAt, ok := a.indexes.Load(indexKey(namespace, table, index))
	if !ok {
		return cluster.IndexStatusUnknown, nil
	}
	if a.now().Before(readyAt) {
		return cluster.IndexStatusPopulating, nil
	}
	return cluster.IndexStatusReady, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// applyTables starts the population of new indexes and forgets dropped ones
func (a *Agent) applyTables(c *metadata.TableCatalog) {
	now := a.now()
	live := make(map[string]bool)
	for _, t := range c.Tables {
		for _, idx := range t.Indexes {
			key := indexKey(t.Namespace, t.Name, idx.Name)
			live[key] = true

			readyAt := now.Add(a.populateDelay)
			if idx.State == metadata.IndexReady {
				readyAt = now
			}
			if _, loaded := a.indexes.LoadOrStore(key, readyAt); !loaded && idx.State == metadata.IndexPopulating {
				agentLog.Infof("populating index %s of table %s", idx.Name, t.FullName())
			}
		}
	}
	a.indexes.Range(func(key string, _ time.Time) bool {
		if !live[key] {
			a.indexes.Delete(key)
		}
		return true
	})
}

func indexKey(namespace, table, index string) string {
	return strings.ToLower(namespace + "." + table + "." + index)
}
