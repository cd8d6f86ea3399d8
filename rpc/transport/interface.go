package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a serialized request and returns the serialized response
type ServerHandleFunc func(req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer of a node agent
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen opens the endpoint of the configuration and serves it until Close
	Listen(config common.AgentConfig) error
	// Serve serves requests on an already open listener until Close
	Serve(l net.Listener, config common.AgentConfig) error
	// Close stops serving and closes the listener
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport to one agent
type IRPCClientTransport interface {
	// Connect prepares the transport for the endpoint. Implementations may defer
	// dialing to the first Send, so an unreachable agent is reported there.
	Connect(endpoint string, config common.ClientConfig) error
	// Send sends a request to the agent and returns the response
	// Every returned error is a transport failure
	Send(ctx context.Context, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
