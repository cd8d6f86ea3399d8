package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

var errClosed = errors.New("transport is closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Dial establishes a single connection to the endpoint
	Dial(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// pendingRequest is a request waiting for its response on a specific net connection
type pendingRequest struct {
	conn net.Conn
	ch   chan responseResult
}

// clientConnection is one slot of the pool. The net connection inside is dialed
// on first use and replaced after it fails.
type clientConnection struct {
	parent  *clientTransport
	mu      sync.Mutex // protects conn and serializes writes
	conn    net.Conn
	pending *xsync.MapOf[uint64, pendingRequest]
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium
type clientTransport struct {
	connector     IClientConnector
	endpoint      string
	config        common.ClientConfig
	connections   []*clientConnection
	nextConnIndex atomic.Uint64 // Round Robin counter
	nextRequestID atomic.Uint64
	closed        atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(endpoint string, config common.ClientConfig) error {
	if endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	t.closeConnections()

	t.endpoint = endpoint
	t.config = config
	t.closed.Store(false)

	connectionsPerEP := 1
	if config.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.ConnectionsPerEndpoint
	}
	t.connections = make([]*clientConnection, connectionsPerEP)
	for i := range t.connections {
		t.connections[i] = &clientConnection{
			parent:  t,
			pending: xsync.NewMapOf[uint64, pendingRequest](),
		}
	}
	return nil
}

func (t *clientTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	if t.closed.Load() || len(t.connections) == 0 {
		return nil, errClosed
	}
	if t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	// We always try at least once
	maxRetries := t.config.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		data, err := t.nextConnection().send(ctx, req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		Logger.Debugf("request to %s attempt %d/%d failed: %v", t.endpoint, i+1, maxRetries, err)

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-ctx.Done():
			}
			backoffMs *= 2
		}
	}
	return nil, fmt.Errorf("%s request to %s failed: %w", t.connector.GetName(), t.endpoint, lastErr)
}

func (t *clientTransport) Close() error {
	t.closed.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// nextConnection selects the next connection via Round Robin
func (t *clientTransport) nextConnection() *clientConnection {
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

// closeConnections closes all open net connections
func (t *clientTransport) closeConnections() {
	for _, c := range t.connections {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.drop(conn, errClosed)
		}
	}
}

// send writes one request frame and waits for the matching response
func (c *clientConnection) send(ctx context.Context, req []byte) ([]byte, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	requestID := c.parent.nextRequestID.Add(1)
	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, pendingRequest{conn: conn, ch: respCh})
	defer c.pending.Delete(requestID)

	c.mu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err = writeFrame(conn, requestID, req)
	c.mu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return nil, err
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquire returns the open net connection, dialing a new one when there is none
func (c *clientConnection) acquire(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.parent.closed.Load() {
		return nil, errClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.parent.connector.Dial(ctx, c.parent.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.parent.endpoint, err)
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.parent.endpoint, err)
	}

	c.conn = conn
	go c.readResponses(conn)
	Logger.Debugf("connected to %s using %s transport", c.parent.endpoint, c.parent.connector.GetName())
	return conn, nil
}

// readResponses reads responses in a loop and distributes them to waiting requests
func (c *clientConnection) readResponses(conn net.Conn) {
	for {
		requestID, data, err := readFrame(conn, nil)
		if err != nil {
			c.drop(conn, err)
			return
		}

		if req, ok := c.pending.Load(requestID); ok {
			select {
			case req.ch <- responseResult{data: data}:
			default:
			}
		} else {
			// the caller gave up waiting
			Logger.Debugf("dropping response for unknown request ID %d from %s", requestID, c.parent.endpoint)
		}
	}
}

// drop closes a failed net connection and fails every request still waiting on it
func (c *clientConnection) drop(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	c.pending.Range(func(id uint64, req pendingRequest) bool {
		if req.conn == conn {
			select {
			case req.ch <- responseResult{err: fmt.Errorf("connection to %s lost: %w", c.parent.endpoint, cause)}:
			default:
			}
		}
		return true
	})
}
