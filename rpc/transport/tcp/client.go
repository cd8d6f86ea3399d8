package tcp

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/ValentinKolb/dkv-admin/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", endpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return applySocketOptions(conn, config.TCP)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}

// applySocketOptions applies performance and liveness options to a TCP connection
func applySocketOptions(conn net.Conn, conf common.TCPConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(conf.NoDelay); err != nil {
		return err
	}

	if conf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	if conf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	// Idle agent connections are long lived, keep-alive detects dead peers
	if conf.KeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(conf.KeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if conf.LingerSec > 0 {
		if err := tcpConn.SetLinger(conf.LingerSec); err != nil {
			return err
		}
	}

	return nil
}
