package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.AgentConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.AgentConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.AgentConfig
	bufferPool *sync.Pool

	mu       sync.Mutex // protects listener, closing and conns
	listener net.Listener
	closing  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport. Request buffers of
// bufferSize bytes are pooled across connections.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     make(map[net.Conn]struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.AgentConfig) error {
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return t.Serve(listener, config)
}

func (t *serverTransport) Serve(listener net.Listener, config common.AgentConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	t.config = config
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.workersPerConn())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}
		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)

			t.mu.Lock()
			delete(t.conns, conn)
			t.mu.Unlock()
		}()
	}
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	listener := t.listener
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) workersPerConn() int {
	if t.config.WorkersPerConn < 1 {
		return 1
	}
	return t.config.WorkersPerConn
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.workersPerConn())

	// Wait for all workers to finish before closing the connection
	var wg sync.WaitGroup
	defer wg.Wait()

	// Protects writes to the connection
	var connMutex sync.Mutex

	handleResponse := func(requestID uint64, data []byte) {
		defer func() {
			<-workerSemaphore
			wg.Done()
		}()

		start := time.Now()
		resp := t.handler(data)
		Logger.Debugf("Processed request %d from %s in %s", requestID, conn.RemoteAddr(), time.Since(start))

		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}

		// Write the response with the same requestID
		if err := writeFrame(conn, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	for {
		buf := t.bufferPool.Get().([]byte)

		// Idle connections are kept open, the client side decides when to give up
		requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Debugf("Connection from %s closed", conn.RemoteAddr())
			} else {
				Logger.Errorf("Error handling request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		// Blocks if the worker limit of this connection is reached
		workerSemaphore <- struct{}{}
		wg.Add(1)
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(requestID, data)
		}()
	}
}
