package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

func TestHttpRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewHttpServerTransport()
	server.RegisterHandler(func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	done := make(chan error, 1)
	go func() { done <- server.Serve(listener, common.AgentConfig{TimeoutSecond: 5}) }()
	defer func() {
		_ = server.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	}()

	addr := listener.Addr().String()
	client := NewHttpClientTransport()
	if err := client.Connect(addr, common.ClientConfig{TimeoutSecond: 5, RetryCount: 3}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	// the server may not be accepting yet, retry briefly
	var resp []byte
	for i := 0; i < 50; i++ {
		resp, err = client.Send(context.Background(), []byte("ping"))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp) != "echo:ping" {
		t.Errorf("expected echo:ping, got %s", resp)
	}

	health, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(health.Body)
	_ = health.Body.Close()
	if health.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Errorf("unexpected healthz answer %d %q", health.StatusCode, body)
	}
}

func TestHttpUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	client := NewHttpClientTransport()
	if err := client.Connect("http://"+addr, common.ClientConfig{TimeoutSecond: 1}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := client.Send(context.Background(), []byte("ping")); err == nil {
		t.Errorf("expected an error for a closed port")
	}
}

func TestHttpRejectsWrongMethod(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHttpServerTransport()
	server.RegisterHandler(func(req []byte) []byte { return req })
	go func() { _ = server.Serve(listener, common.AgentConfig{}) }()
	defer server.Close()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + listener.Addr().String() + rpcPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}
