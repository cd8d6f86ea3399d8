package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// RemoteError is an application error reported by a node agent.
// Unlike a cluster.NetworkError it will not go away by retrying the call.
type RemoteError struct {
	Node string
	Op   common.MessageType
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("storage node %s: %s failed: %s", e.Node, e.Op, e.Msg)
}

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	node       string
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request message and returns the response message.
// Transport failures are returned as *cluster.NetworkError, error responses
// and protocol violations of the agent as *RemoteError.
func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("serialize %s request: %w", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(ctx, reqBytes)
	if err != nil {
		return nil, &cluster.NetworkError{Node: a.node, Err: err}
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, &RemoteError{Node: a.node, Op: req.MsgType, Msg: fmt.Sprintf("malformed response: %v", err)}
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, &RemoteError{Node: a.node, Op: req.MsgType, Msg: resp.Err}
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, &RemoteError{Node: a.node, Op: req.MsgType, Msg: fmt.Sprintf("unexpected response type %s", resp.MsgType)}
	}

	return resp, nil
}
