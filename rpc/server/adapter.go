package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

// NewNodeAPIServerAdapter creates the adapter translating messages to cluster.INodeAPI calls
func NewNodeAPIServerAdapter() IRPCServerAdapter {
	return &nodeAPIServerAdapterImpl{}
}

type nodeAPIServerAdapterImpl struct{}

func (adapter *nodeAPIServerAdapterImpl) Handle(ctx context.Context, req *common.Message, api cluster.INodeAPI) *common.Message {
	if api == nil {
		return common.NewErrorResponse("handler: node api is nil")
	}

	switch req.MsgType {
	case common.MsgTPing:
		status, err := api.Ping(ctx)
		services := make(map[string]string, len(status.Services))
		for id, state := range status.Services {
			services[id] = string(state)
		}
		if len(services) == 0 {
			services = nil
		}
		return common.NewPingResponse(status.StorageNode, services, err)
	case common.MsgTStartService:
		return common.NewAckResponse(req.MsgType, api.StartService(ctx, req.Service))
	case common.MsgTStopService:
		return common.NewAckResponse(req.MsgType, api.StopService(ctx, req.Service))
	case common.MsgTDestroyService:
		return common.NewAckResponse(req.MsgType, api.DestroyService(ctx, req.Service))
	case common.MsgTPushParams:
		return common.NewAckResponse(req.MsgType, api.PushParams(ctx, req.Service, req.Params))
	case common.MsgTCredentialHashes:
		hashes, err := api.CredentialHashes(ctx)
		return common.NewCredentialHashesResponse(hashes, err)
	case common.MsgTPushMetadata:
		return common.NewAckResponse(req.MsgType, api.PushMetadata(ctx, req.Kind, req.Seq, req.Value))
	case common.MsgTMetadataSeq:
		seq, err := api.MetadataSeq(ctx, req.Kind)
		return common.NewMetadataSeqResponse(req.Kind, seq, err)
	case common.MsgTIndexStatus:
		status, err := api.IndexStatus(ctx, req.Namespace, req.Table, req.Index)
		return common.NewIndexStatusResponse(string(status), err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("node agent: unsupported message type: %s", req.MsgType),
		)
	}
}
