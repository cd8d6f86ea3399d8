package client

import (
	"strings"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// TransportFactory creates an unconnected client transport.
type TransportFactory func() transport.IRPCClientTransport

// NewDialer creates a dialer that keeps one NodeClient per storage node.
func NewDialer(config common.ClientConfig, newTransport TransportFactory, serializer serializer.IRPCSerializer) *Dialer {
	return &Dialer{
		config:       config,
		newTransport: newTransport,
		serializer:   serializer,
		clients:      xsync.NewMapOf[string, *NodeClient](),
	}
}

// Dialer implements cluster.IDialer. Clients are cached per storage node and
// replaced when the endpoint of the node changes.
type Dialer struct {
	config       common.ClientConfig
	newTransport TransportFactory
	serializer   serializer.IRPCSerializer
	clients      *xsync.MapOf[string, *NodeClient]
}

var _ cluster.IDialer = (*Dialer)(nil)

// Dial implements cluster.IDialer.
func (d *Dialer) Dial(storageNodeID, endpoint string) (cluster.INodeAPI, error) {
	key := strings.ToLower(storageNodeID)

	var dialErr error
	c, _ := d.clients.Compute(key, func(old *NodeClient, loaded bool) (*NodeClient, bool) {
		if loaded && old.Endpoint() == endpoint {
			return old, false
		}
		if loaded {
			Logger.Infof("endpoint of storage node %s changed from %s to %s", storageNodeID, old.Endpoint(), endpoint)
			_ = old.Close()
		}
		nc, err := NewNodeClient(storageNodeID, endpoint, d.config, d.newTransport(), d.serializer)
		if err != nil {
			dialErr = err
			return nil, true
		}
		return nc, false
	})
	if dialErr != nil {
		return nil, dialErr
	}
	return c, nil
}

// Close closes all cached clients.
func (d *Dialer) Close() {
	d.clients.Range(func(key string, c *NodeClient) bool {
		_ = c.Close()
		d.clients.Delete(key)
		return true
	})
}
