// Package server implements the storage node agent: the process on every storage
// node that executes the administrative requests of the admin service.
//
// Key Components:
//
//   - Agent: the node state (services, service parameters, installed credential
//     hashes, applied metadata versions, index population). It implements
//     cluster.INodeAPI, so the admin service and the agent share one contract.
//
//   - IRPCServerAdapter: translates a decoded Message into a call of a
//     cluster.INodeAPI and the result back into a response Message.
//
//   - RPCServer: binds a transport and a serializer to the adapter.
//
// Metadata pushes are applied in sequence order. A push older than the applied
// version is acknowledged and ignored, so re-broadcasting is always safe.
//
// Usage Example:
//
//	config := common.AgentConfig{
//	  StorageNodeID: "sn1",
//	  Endpoint:      "0.0.0.0:7070",
//	  TimeoutSecond: 5,
//	}
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewJSONSerializer(),
//	  server.NewAgent(config.StorageNodeID, 30*time.Second))
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("agent error: %v", err)
//	}
//
// Thread Safety:
//
//	The agent state lives in concurrent maps, requests from many connections are
//	handled concurrently.
package server
