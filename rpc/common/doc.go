// Package common provides the data structures shared by the admin service and
// the storage node agents: the RPC message protocol, the configuration structs
// of every process, and the logger factory plugged into Dragonboat.
//
// Key Components:
//
//   - Message: the single request/response structure of the node agent protocol.
//     Which fields are set depends on the MessageType; factory functions build
//     well-formed requests and responses.
//
//   - MessageType: the operations of the node agent API. It is serialized as a
//     string in JSON so captured traffic stays readable.
//
//   - AdminConfig, AgentConfig, ClientConfig: configuration of the admin service,
//     of a node agent and of a connection to one agent. AdminConfig carries the
//     raft settings of the replicated store backend and converts them to Dragonboat
//     configuration.
//
//   - InitLoggers: installs a custom logging implementation that integrates with
//     Dragonboat's logging system while providing consistent formatting across
//     all packages.
package common
