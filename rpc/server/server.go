package server

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates the RPC server of a storage node agent.
// It takes a config, transport, serializer and the node API requests are dispatched to.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//		server.NewAgent(config.StorageNodeID, config.PopulateDelay),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.AgentConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	api cluster.INodeAPI,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewNodeAPIServerAdapter(),
		api:        api,
	}
	s.transport.RegisterHandler(s.handle)
	return s
}

// RPCServer serves the node agent API over a transport.
type RPCServer struct {
	config     common.AgentConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	api        cluster.INodeAPI
}

// Serve listens on the configured endpoint until Close
func (s *RPCServer) Serve() error {
	Logger.Infof("Starting node agent")
	Logger.Infof("%s", s.config.String())
	return s.transport.Listen(s.config)
}

// ServeListener serves on an already open listener until Close
func (s *RPCServer) ServeListener(l net.Listener) error {
	return s.transport.Serve(l, s.config)
}

// Close stops the transport
func (s *RPCServer) Close() error {
	return s.transport.Close()
}

// handle decodes a request, lets the adapter execute it and encodes the response
func (s *RPCServer) handle(req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		ctx := context.Background()
		if s.config.TimeoutSecond > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutSecond)*time.Second)
			defer cancel()
		}
		respMsg = s.adapter.Handle(ctx, &msg, s.api)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}
