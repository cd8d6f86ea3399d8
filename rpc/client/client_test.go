package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/server"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/ValentinKolb/dkv-admin/rpc/transport/http"
	"github.com/ValentinKolb/dkv-admin/rpc/transport/tcp"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportPair struct {
	client TransportFactory
	server func() transport.IRPCServerTransport
}

var transports = map[string]transportPair{
	"tcp":  {client: tcp.NewTCPClientTransport, server: tcp.NewTCPServerTransport},
	"http": {client: http.NewHttpClientTransport, server: http.NewHttpServerTransport},
}

// startAgent serves a fresh agent on a random local port
func startAgent(t *testing.T, pair transportPair, s serializer.IRPCSerializer) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	config := common.AgentConfig{StorageNodeID: "sn1", TimeoutSecond: 5, WorkersPerConn: 4}
	srv := server.NewRPCServer(config, pair.server(), s, server.NewAgent("sn1", 0))
	go func() { _ = srv.ServeListener(listener) }()
	t.Cleanup(func() { _ = srv.Close() })
	return listener.Addr().String()
}

func TestNodeClientAgainstAgent(t *testing.T) {
	for name, pair := range transports {
		for _, format := range []string{"json", "gob"} {
			t.Run(name+"/"+format, func(t *testing.T) {
				s, err := serializer.ByName(format)
				require.NoError(t, err)
				addr := startAgent(t, pair, s)

				dialer := NewDialer(common.ClientConfig{TimeoutSecond: 5, RetryCount: 3}, pair.client, s)
				defer dialer.Close()
				api, err := dialer.Dial("sn1", addr)
				require.NoError(t, err)

				ctx := context.Background()
				require.NoError(t, api.StartService(ctx, "rg1-rn1"))
				require.NoError(t, api.PushParams(ctx, "rg1-rn1", map[string]string{"cacheSize": "1GB"}))

				status, err := api.Ping(ctx)
				require.NoError(t, err)
				assert.Equal(t, "sn1", status.StorageNode)
				assert.Equal(t, cluster.ServiceRunning, status.Services["rg1-rn1"])

				sec := metadata.NewSecurityCatalog()
				sec.Seq = 4
				sec.CredentialHash = "abc"
				payload, err := metadata.Encode(sec)
				require.NoError(t, err)
				require.NoError(t, api.PushMetadata(ctx, string(metadata.KindSecurity), 4, payload))

				seq, err := api.MetadataSeq(ctx, string(metadata.KindSecurity))
				require.NoError(t, err)
				assert.Equal(t, uint64(4), seq)

				hashes, err := api.CredentialHashes(ctx)
				require.NoError(t, err)
				assert.Equal(t, "abc", hashes[cluster.CredentialTLS])

				idx, err := api.IndexStatus(ctx, "ns", "t", "i")
				require.NoError(t, err)
				assert.Equal(t, cluster.IndexStatusUnknown, idx)

				require.NoError(t, api.StopService(ctx, "rg1-rn1"))
				require.NoError(t, api.DestroyService(ctx, "rg1-rn1"))
				status, err = api.Ping(ctx)
				require.NoError(t, err)
				assert.Empty(t, status.Services)
			})
		}
	}
}

func TestRemoteErrorIsNotANetworkError(t *testing.T) {
	s := serializer.NewJSONSerializer()
	addr := startAgent(t, transports["tcp"], s)

	dialer := NewDialer(common.ClientConfig{TimeoutSecond: 5}, tcp.NewTCPClientTransport, s)
	defer dialer.Close()
	api, err := dialer.Dial("sn1", addr)
	require.NoError(t, err)

	err = api.PushMetadata(context.Background(), "table", 1, []byte("{"))
	require.Error(t, err)
	assert.False(t, cluster.IsNetworkError(err))

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "sn1", remote.Node)
	assert.Equal(t, common.MsgTPushMetadata, remote.Op)
}

func TestUnreachableNodeIsANetworkError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	for name, pair := range transports {
		t.Run(name, func(t *testing.T) {
			dialer := NewDialer(common.ClientConfig{TimeoutSecond: 1}, pair.client, serializer.NewJSONSerializer())
			defer dialer.Close()

			// dialing never touches the network
			api, err := dialer.Dial("sn9", addr)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err = api.Ping(ctx)
			require.Error(t, err)
			assert.True(t, cluster.IsNetworkError(err))
			assert.ErrorIs(t, err, cluster.ErrUnreachable)
		})
	}
}

func TestDialerCachesPerNode(t *testing.T) {
	dialer := NewDialer(common.ClientConfig{}, tcp.NewTCPClientTransport, serializer.NewJSONSerializer())
	defer dialer.Close()

	a, err := dialer.Dial("sn1", "127.0.0.1:7001")
	require.NoError(t, err)
	b, err := dialer.Dial("SN1", "127.0.0.1:7001")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := dialer.Dial("sn1", "127.0.0.1:7002")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, "127.0.0.1:7002", c.(*NodeClient).Endpoint())
}
