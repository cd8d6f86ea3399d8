package server

import (
	"context"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and the node API the request is addressed to.
	// If an error occurs, it should be set in the response
	Handle(ctx context.Context, req *common.Message, api cluster.INodeAPI) (resp *common.Message)
}
