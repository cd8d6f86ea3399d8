// Package rpc connects the admin service to the agents running on the storage
// nodes. The plan engine only sees cluster.INodeAPI, everything below is the
// remote implementation of that interface.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration structures and logging.
//
//   - transport: network communication with pluggable implementations
//     (TCP with multiplexed frames, HTTP).
//
//   - serializer: Message serialization (JSON, GOB).
//
//   - client: NodeClient and Dialer, the admin side of the protocol.
//
//   - server: the node agent and the RPC server exposing it.
package rpc
