package client

import (
	"context"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
)

// NewNodeClient creates a client for the agent of one storage node.
// The transport is connected to endpoint, an agent that is down is only
// reported by the first call.
func NewNodeClient(
	storageNodeID string,
	endpoint string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*NodeClient, error) {
	if err := transport.Connect(endpoint, config); err != nil {
		return nil, err
	}
	return &NodeClient{
		rpcClientAdapter: rpcClientAdapter{
			node:       storageNodeID,
			transport:  transport,
			serializer: serializer,
		},
		endpoint: endpoint,
	}, nil
}

// NodeClient implements cluster.INodeAPI over RPC.
type NodeClient struct {
	rpcClientAdapter
	endpoint string
}

var _ cluster.INodeAPI = (*NodeClient)(nil)

// Endpoint returns the endpoint the client is connected to.
func (c *NodeClient) Endpoint() string { return c.endpoint }

// Close releases the connections of the client.
func (c *NodeClient) Close() error { return c.transport.Close() }

// --------------------------------------------------------------------------
// Interface Methods (docu see cluster.INodeAPI)
// --------------------------------------------------------------------------

func (c *NodeClient) Ping(ctx context.Context) (cluster.NodeStatus, error) {
	resp, err := c.invoke(ctx, common.NewPingRequest())
	if err != nil {
		return cluster.NodeStatus{}, err
	}
	status := cluster.NodeStatus{
		StorageNode: resp.Node,
		Services:    make(map[string]cluster.ServiceState, len(resp.Services)),
	}
	for id, state := range resp.Services {
		status.Services[id] = cluster.ServiceState(state)
	}
	return status, nil
}

func (c *NodeClient) StartService(ctx context.Context, serviceID string) error {
	_, err := c.invoke(ctx, common.NewServiceRequest(common.MsgTStartService, serviceID))
	return err
}

func (c *NodeClient) StopService(ctx context.Context, serviceID string) error {
	_, err := c.invoke(ctx, common.NewServiceRequest(common.MsgTStopService, serviceID))
	return err
}

func (c *NodeClient) DestroyService(ctx context.Context, serviceID string) error {
	_, err := c.invoke(ctx, common.NewServiceRequest(common.MsgTDestroyService, serviceID))
	return err
}

func (c *NodeClient) PushParams(ctx context.Context, serviceID string, params map[string]string) error {
	_, err := c.invoke(ctx, common.NewPushParamsRequest(serviceID, params))
	return err
}

func (c *NodeClient) CredentialHashes(ctx context.Context) (map[string]string, error) {
	resp, err := c.invoke(ctx, common.NewCredentialHashesRequest())
	if err != nil {
		return nil, err
	}
	if resp.Params == nil {
		return map[string]string{}, nil
	}
	return resp.Params, nil
}

func (c *NodeClient) PushMetadata(ctx context.Context, kind string, seq uint64, payload []byte) error {
	_, err := c.invoke(ctx, common.NewPushMetadataRequest(kind, seq, payload))
	return err
}

func (c *NodeClient) MetadataSeq(ctx context.Context, kind string) (uint64, error) {
	resp, err := c.invoke(ctx, common.NewMetadataSeqRequest(kind))
	if err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

func (c *NodeClient) IndexStatus(ctx context.Context, namespace, table, index string) (cluster.IndexStatus, error) {
	resp, err := c.invoke(ctx, common.NewIndexStatusRequest(namespace, table, index))
	if err != nil {
		return "", err
	}
	return cluster.IndexStatus(resp.Status), nil
}
