package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

// startEchoServer serves a handler that prefixes every request with "echo:"
func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewTCPServerTransport()
	server.RegisterHandler(func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener, common.AgentConfig{WorkersPerConn: 4, TimeoutSecond: 5})
	}()

	return listener.Addr().String(), func() {
		_ = server.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	}
}

func TestSendReceivesResponse(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	client := NewTCPClientTransport()
	if err := client.Connect(addr, common.ClientConfig{TimeoutSecond: 5, ConnectionsPerEndpoint: 2}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := fmt.Sprintf("req-%d", i)
			resp, err := client.Send(context.Background(), []byte(req))
			if err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
			if string(resp) != "echo:"+req {
				t.Errorf("expected echo of %s, got %s", req, resp)
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectIsLazy(t *testing.T) {
	// reserve a port and close it again, nothing listens there afterward
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	client := NewTCPClientTransport()
	if err := client.Connect(addr, common.ClientConfig{TimeoutSecond: 1, RetryCount: 2}); err != nil {
		t.Fatalf("connect must not dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Send(context.Background(), []byte("ping")); err == nil {
		t.Errorf("expected an error sending to a closed port")
	}
}

func TestReconnectAfterServerRestart(t *testing.T) {
	addr, stop := startEchoServer(t)

	client := NewTCPClientTransport()
	if err := client.Connect(addr, common.ClientConfig{TimeoutSecond: 2}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := client.Send(context.Background(), []byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	stop()

	if _, err := client.Send(context.Background(), []byte("b")); err == nil {
		t.Errorf("expected an error while the server is down")
	}

	// start a new server on the same address
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("address %s not reusable: %v", addr, err)
	}
	server := NewTCPServerTransport()
	server.RegisterHandler(func(req []byte) []byte { return req })
	go func() { _ = server.Serve(listener, common.AgentConfig{}) }()
	defer server.Close()

	resp, err := client.Send(context.Background(), []byte("c"))
	if err != nil {
		t.Fatalf("send after restart: %v", err)
	}
	if string(resp) != "c" {
		t.Errorf("expected c, got %s", resp)
	}
}

func TestSendAfterClose(t *testing.T) {
	client := NewTCPClientTransport()
	if err := client.Connect("127.0.0.1:1", common.ClientConfig{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = client.Close()
	if _, err := client.Send(context.Background(), []byte("x")); err == nil {
		t.Errorf("expected an error after close")
	}
}
