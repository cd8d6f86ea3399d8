// Package transport defines the interfaces for RPC communication between the
// admin service and the storage node agents. It provides a common contract that
// all transport implementations must fulfill, enabling protocol-agnostic
// communication.
//
// Key Components:
//
//   - IRPCClientTransport: client side of the connection to one agent. Every
//     error it returns is a transport failure, application errors travel inside
//     the response message.
//
//   - IRPCServerTransport: server side run by an agent, hands raw requests to
//     a ServerHandleFunc.
//
// Implementations live in the subpackages http and tcp, the latter built on the
// framed connection handling in base.
package transport
